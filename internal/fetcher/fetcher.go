// Package fetcher holds what the static and rendering fetchers share: picking
// one per session and turning a response body into a PageResult.
package fetcher

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Selector chooses the fetcher for a session from its options.
type Selector struct {
	static    crawler.Fetcher
	rendering crawler.Fetcher
}

// NewSelector pairs the static fetcher with an optional rendering one.
func NewSelector(static, rendering crawler.Fetcher) *Selector {
	return &Selector{static: static, rendering: rendering}
}

// For returns the rendering fetcher when opts ask for JavaScript and the
// static one otherwise.
func (s *Selector) For(opts crawler.Options) (crawler.Fetcher, error) {
	if opts.RenderJavaScript {
		if s.rendering == nil {
			return nil, crawler.ErrRenderingDisabled
		}
		return s.rendering, nil
	}
	if s.static == nil {
		return nil, fmt.Errorf("static fetcher is not configured")
	}
	return s.static, nil
}

// RenderingEnabled reports whether a rendering fetcher is wired.
func (s *Selector) RenderingEnabled() bool {
	return s.rendering != nil
}

// BuildResult parses body as HTML and fills the title, fingerprint, length
// and document of page. finalURL becomes the document URL used to resolve
// relative links.
func BuildResult(page crawler.PageResult, finalURL string, body []byte, hasher crawler.Hasher) (crawler.PageResult, error) {
	page.ContentLength = len(body)
	if hasher != nil {
		sum, err := hasher.Hash(body)
		if err != nil {
			return page, fmt.Errorf("hash body: %w", err)
		}
		page.ContentHash = sum
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return page, fmt.Errorf("parse document: %w", err)
	}
	if finalURL != "" {
		if u, err := url.Parse(finalURL); err == nil {
			doc.Url = u
		}
	}
	page.Title = strings.TrimSpace(doc.Find("title").First().Text())
	page.Document = doc
	return page, nil
}
