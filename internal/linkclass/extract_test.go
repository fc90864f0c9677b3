package linkclass

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><head><title>Home</title></head><body>
<a href="/about#team">About</a>
<a href="/about">About again</a>
<a href="https://www.example.com/contact">Contact</a>
<a href="docs/report.pdf">Report</a>
<a href="/assets/site.css">Styles</a>
<a href="https://other.org/page">Elsewhere</a>
<a href="https://other.org/page#dup">Elsewhere again</a>
<a href="mailto:hi@example.com">Mail</a>
<a href="http://[::1">Broken</a>
<a>No href</a>
</body></html>`

func mustDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	return doc
}

func TestClassify(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, samplePage)
	res := Classify(doc, "https://example.com/index.html", "example.com", []string{".pdf"})

	require.Equal(t, []string{
		"https://example.com/about",
		"https://www.example.com/contact",
	}, res.Internal)
	require.Equal(t, []string{"https://other.org/page"}, res.External)
	require.Equal(t, []string{"https://example.com/docs/report.pdf"}, res.Attachments)
}

func TestExtractorsMatchClassify(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, samplePage)
	pageURL := "https://example.com/index.html"
	exts := []string{".pdf", ".css"}
	res := Classify(doc, pageURL, "example.com", exts)

	require.Equal(t, res.Internal, ExtractLinks(doc, pageURL, "example.com"))
	require.Equal(t, res.External, ExtractExternalURLs(doc, pageURL, "example.com"))
	require.Equal(t, res.Attachments, ExtractAttachmentURLs(doc, pageURL, "example.com", exts))
	require.Len(t, res.Attachments, 2)
}

func TestClassifySetsAreDisjoint(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><body>
<a href="/notes.md">Notes</a>
<a href="/archive.7z">Archive</a>
<a href="/guide">Guide</a>
<a href="https://cdn.other.org/notes.md">Mirror</a>
</body></html>`)
	res := Classify(doc, "https://example.com/", "example.com", []string{".md", ".7z"})

	require.Equal(t, []string{"https://example.com/guide"}, res.Internal)
	require.Equal(t, []string{"https://example.com/notes.md", "https://example.com/archive.7z"}, res.Attachments)
	require.Equal(t, []string{"https://cdn.other.org/notes.md"}, res.External)
	for _, link := range res.Attachments {
		require.NotContains(t, res.Internal, link)
	}
}

func TestClassifyHonoursBaseElement(t *testing.T) {
	t.Parallel()

	doc := mustDoc(t, `<html><head><base href="https://example.com/root/"></head>
<body><a href="child">Child</a></body></html>`)
	links := ExtractLinks(doc, "https://example.com/other/page", "example.com")
	require.Equal(t, []string{"https://example.com/root/child"}, links)
}

func TestClassifyNilDocument(t *testing.T) {
	t.Parallel()

	res := Classify(nil, "https://example.com/", "example.com", nil)
	require.Empty(t, res.Internal)
	require.Empty(t, res.External)
	require.Empty(t, res.Attachments)
}
