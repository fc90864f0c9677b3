// Package linkclass normalizes hyperlinks and sorts the links of a fetched
// document into internal pages, external URLs and attachments.
package linkclass

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

const wwwPrefix = "www."

// FileExtensions are never crawled as pages, even when same-domain.
var FileExtensions = []string{
	".txt", ".xml", ".json", ".csv", ".pdf",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".zip", ".rar", ".tar", ".gz",
	".jpg", ".jpeg", ".png", ".gif", ".svg", ".ico", ".webp",
	".mp3", ".mp4", ".avi", ".mov", ".wav", ".ogg",
	".css", ".js", ".woff", ".woff2", ".ttf", ".eot",
}

// Normalize resolves href against base and rebuilds it as
// scheme://host[:port]path[?query]. The fragment is dropped and default ports
// are omitted. It returns false when either input is malformed or the result
// is not an absolute http(s) URL.
func Normalize(href, base string) (string, bool) {
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", false
	}
	resolved := baseURL.ResolveReference(ref)

	scheme := strings.ToLower(resolved.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}
	host := strings.ToLower(resolved.Hostname())
	if host == "" {
		return "", false
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port := resolved.Port(); port != "" && !isDefaultPort(scheme, port) {
		host = net.JoinHostPort(strings.Trim(host, "[]"), port)
	}

	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(host)
	b.WriteString(resolved.EscapedPath())
	if resolved.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(resolved.RawQuery)
	}
	return b.String(), true
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}

// ExtractDomain returns the www-stripped host of an absolute http(s) URL.
func ExtractDomain(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	return stripWWW(host), nil
}

// IsSameDomain reports whether rawURL belongs to baseDomain, ignoring a
// leading "www." on either side. baseDomain may be a bare host or a URL.
func IsSameDomain(rawURL, baseDomain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return false
	}
	base := baseDomain
	if strings.Contains(base, "://") {
		b, err := url.Parse(base)
		if err != nil {
			return false
		}
		base = b.Hostname()
	}
	return strings.EqualFold(stripWWW(strings.ToLower(u.Hostname())), stripWWW(strings.ToLower(base)))
}

// IsFileURL reports whether the URL path ends in one of FileExtensions.
func IsFileURL(rawURL string) bool {
	return hasExtension(rawURL, FileExtensions)
}

// IsAttachment reports whether the URL path ends in one of exts.
func IsAttachment(rawURL string, exts []string) bool {
	return hasExtension(rawURL, exts)
}

func hasExtension(rawURL string, exts []string) bool {
	p := strings.ToLower(pathOf(rawURL))
	for _, ext := range exts {
		if ext != "" && strings.HasSuffix(p, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

// pathOf returns the path component with query and fragment stripped.
func pathOf(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		return u.Path
	}
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}

// FileName returns the last path segment of rawURL and its lowercase extension.
func FileName(rawURL string) (string, string) {
	p := pathOf(rawURL)
	name := p[strings.LastIndex(p, "/")+1:]
	ext := ""
	if i := strings.LastIndex(name, "."); i >= 0 {
		ext = strings.ToLower(name[i:])
	}
	return name, ext
}

func stripWWW(host string) string {
	return strings.TrimPrefix(host, wwwPrefix)
}
