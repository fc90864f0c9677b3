package linkclass

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Result holds the three disjoint URL sets found on one page, each
// deduplicated and in document order.
type Result struct {
	// Internal holds same-domain page links: no file URLs, no attachments.
	Internal []string
	// External holds links whose host differs from the base domain.
	External []string
	// Attachments holds same-domain links matching the attachment allow-list.
	Attachments []string
}

// Classify walks the anchors of doc once and returns all three URL sets.
func Classify(doc *goquery.Document, pageURL, baseDomain string, exts []string) Result {
	var res Result
	internal := newOrderedSet()
	external := newOrderedSet()
	attachments := newOrderedSet()
	eachLink(doc, pageURL, func(link string) {
		switch {
		case !IsSameDomain(link, baseDomain):
			external.add(link)
		case IsAttachment(link, exts):
			attachments.add(link)
		case !IsFileURL(link):
			internal.add(link)
		}
	})
	res.Internal = internal.items
	res.External = external.items
	res.Attachments = attachments.items
	return res
}

// ExtractLinks returns the normalized same-domain links of doc that are not
// file URLs.
func ExtractLinks(doc *goquery.Document, pageURL, baseDomain string) []string {
	set := newOrderedSet()
	eachLink(doc, pageURL, func(link string) {
		if IsSameDomain(link, baseDomain) && !IsFileURL(link) {
			set.add(link)
		}
	})
	return set.items
}

// ExtractExternalURLs returns the normalized links of doc on other hosts.
func ExtractExternalURLs(doc *goquery.Document, pageURL, baseDomain string) []string {
	set := newOrderedSet()
	eachLink(doc, pageURL, func(link string) {
		if !IsSameDomain(link, baseDomain) {
			set.add(link)
		}
	})
	return set.items
}

// ExtractAttachmentURLs returns same-domain links of doc matching exts.
func ExtractAttachmentURLs(doc *goquery.Document, pageURL, baseDomain string, exts []string) []string {
	set := newOrderedSet()
	eachLink(doc, pageURL, func(link string) {
		if IsSameDomain(link, baseDomain) && IsAttachment(link, exts) {
			set.add(link)
		}
	})
	return set.items
}

// eachLink calls fn with every a[href] of doc that normalizes successfully.
// A <base href> in the document overrides pageURL as the resolution base.
func eachLink(doc *goquery.Document, pageURL string, fn func(string)) {
	if doc == nil {
		return
	}
	base := documentBase(doc, pageURL)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		link, ok := Normalize(href, base)
		if !ok {
			return
		}
		fn(link)
	})
}

func documentBase(doc *goquery.Document, pageURL string) string {
	href, ok := doc.Find("base[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return pageURL
	}
	if resolved, ok := Normalize(href, pageURL); ok {
		return resolved
	}
	return pageURL
}

type orderedSet struct {
	seen  map[string]struct{}
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v string) {
	if _, ok := s.seen[v]; ok {
		return
	}
	s.seen[v] = struct{}{}
	s.items = append(s.items, v)
}
