package linkclass

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		href string
		base string
		want string
		ok   bool
	}{
		{name: "relative with query and fragment", href: "/about?x=1#top", base: "https://example.com/dir/page", want: "https://example.com/about?x=1", ok: true},
		{name: "sibling path", href: "other", base: "https://example.com/dir/page", want: "https://example.com/dir/other", ok: true},
		{name: "dot segments", href: "../up", base: "https://example.com/a/b/c", want: "https://example.com/a/up", ok: true},
		{name: "default http port", href: "http://Example.COM:80/x", base: "", want: "http://example.com/x", ok: true},
		{name: "default https port", href: "https://example.com:443/x", base: "", want: "https://example.com/x", ok: true},
		{name: "custom port kept", href: "https://example.com:8443/x", base: "", want: "https://example.com:8443/x", ok: true},
		{name: "empty path kept empty", href: "https://example.com", base: "", want: "https://example.com", ok: true},
		{name: "fragment only", href: "#section", base: "https://example.com/page?q=1", want: "https://example.com/page?q=1", ok: true},
		{name: "protocol relative", href: "//cdn.example.org/lib", base: "https://example.com/", want: "https://cdn.example.org/lib", ok: true},
		{name: "mailto rejected", href: "mailto:someone@example.com", base: "https://example.com/", ok: false},
		{name: "javascript rejected", href: "javascript:void(0)", base: "https://example.com/", ok: false},
		{name: "malformed href", href: "http://[::1", base: "https://example.com/", ok: false},
		{name: "malformed base", href: "/x", base: "://bad", ok: false},
		{name: "relative without base", href: "/x", base: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Normalize(tt.href, tt.base)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalizeIsIdempotentAndFragmentFree(t *testing.T) {
	t.Parallel()

	base := "https://www.example.com:443/docs/index.html?lang=en"
	hrefs := []string{
		"guide.html#intro",
		"/a/./b/../c?x=1&y=2",
		"HTTPS://WWW.EXAMPLE.COM/Case",
		"http://example.com:8080/p",
		"?page=2",
		"/path%20with%20space",
		"",
	}
	for _, href := range hrefs {
		first, ok := Normalize(href, base)
		require.True(t, ok, href)
		u, err := url.Parse(first)
		require.NoError(t, err)
		require.True(t, u.IsAbs(), first)
		require.Empty(t, u.Fragment, first)

		second, ok := Normalize(first, first)
		require.True(t, ok, first)
		require.Equal(t, first, second)
	}
}

func TestIsSameDomain(t *testing.T) {
	t.Parallel()

	require.True(t, IsSameDomain("https://www.example.com/x", "example.com"))
	require.True(t, IsSameDomain("https://example.com/x", "www.example.com"))
	require.True(t, IsSameDomain("https://EXAMPLE.com/x", "example.com"))
	require.True(t, IsSameDomain("https://example.com/x", "https://www.example.com/start"))
	require.False(t, IsSameDomain("https://blog.example.com/x", "example.com"))
	require.False(t, IsSameDomain("https://other.org/", "example.com"))
	require.False(t, IsSameDomain("::not a url", "example.com"))
	require.False(t, IsSameDomain("/relative", "example.com"))
}

func TestExtractDomain(t *testing.T) {
	t.Parallel()

	got, err := ExtractDomain("https://www.Example.com:8080/start")
	require.NoError(t, err)
	require.Equal(t, "example.com", got)

	_, err = ExtractDomain("ftp://example.com/")
	require.Error(t, err)
	_, err = ExtractDomain("not a url")
	require.Error(t, err)
	_, err = ExtractDomain("https:///nohost")
	require.Error(t, err)
}

func TestIsFileURLAndAttachment(t *testing.T) {
	t.Parallel()

	require.True(t, IsFileURL("https://example.com/report.PDF"))
	require.True(t, IsFileURL("https://example.com/app.js?v=3"))
	require.True(t, IsFileURL("https://example.com/style.css#x"))
	require.False(t, IsFileURL("https://example.com/about"))
	require.False(t, IsFileURL("https://example.com/search?format=.pdf"))

	exts := []string{".pdf", ".ZIP"}
	require.True(t, IsAttachment("https://example.com/report.pdf", exts))
	require.True(t, IsAttachment("https://example.com/bundle.zip?dl=1", exts))
	require.False(t, IsAttachment("https://example.com/page.html", exts))
	require.False(t, IsAttachment("https://example.com/report.pdf", nil))
}

func TestFileName(t *testing.T) {
	t.Parallel()

	name, ext := FileName("https://example.com/files/Annual.Report.PDF?dl=1")
	require.Equal(t, "Annual.Report.PDF", name)
	require.Equal(t, ".pdf", ext)

	name, ext = FileName("https://example.com/")
	require.Equal(t, "", name)
	require.Equal(t, "", ext)
}
