// Command sitecrawler runs the crawl session API or a one-off crawl.
package main

import "github.com/JakeFAU/sitecrawler/cmd"

func main() {
	cmd.Execute()
}
