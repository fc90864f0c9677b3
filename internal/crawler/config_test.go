package crawler

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultOptionsAreValid(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	require.NoError(t, opts.Validate())
	require.Equal(t, 50, opts.MaxDepth)
	require.Equal(t, 0, opts.MaxPages)
	require.Equal(t, 5, opts.ConcurrentWorkers)
	require.Equal(t, time.Second, opts.Delay())
	require.Contains(t, opts.AttachmentExtensions, ".pdf")
}

func TestOptionsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{name: "negative depth", mutate: func(o *Options) { o.MaxDepth = -1 }},
		{name: "depth over limit", mutate: func(o *Options) { o.MaxDepth = MaxDepthLimit + 1 }},
		{name: "negative pages", mutate: func(o *Options) { o.MaxPages = -1 }},
		{name: "negative delay", mutate: func(o *Options) { o.RequestDelay = -0.5 }},
		{name: "zero workers", mutate: func(o *Options) { o.ConcurrentWorkers = 0 }},
		{name: "too many workers", mutate: func(o *Options) { o.ConcurrentWorkers = 21 }},
		{name: "bad extension", mutate: func(o *Options) { o.AttachmentExtensions = []string{"pdf"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			opts := DefaultOptions()
			tt.mutate(&opts)
			err := opts.Validate()
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidOptions))
		})
	}
}

func TestOptionsCloneIsDeep(t *testing.T) {
	t.Parallel()

	opts := DefaultOptions()
	opts.Cookies = map[string]string{"sid": "1"}
	cp := opts.Clone()
	cp.Cookies["sid"] = "2"
	cp.AttachmentExtensions[0] = ".exe"

	require.Equal(t, "1", opts.Cookies["sid"])
	require.Equal(t, ".pdf", opts.AttachmentExtensions[0])
}

func TestParseCookieString(t *testing.T) {
	t.Parallel()

	got := ParseCookieString(" session=abc; theme = dark ;broken; =x; token=a=b")
	require.Equal(t, map[string]string{
		"session": "abc",
		"theme":   "dark",
		"token":   "a=b",
	}, got)
	require.Empty(t, ParseCookieString(""))
}

func TestCookieHeaderSortsKeys(t *testing.T) {
	t.Parallel()

	require.Equal(t, "a=1; b=2", CookieHeader(map[string]string{"b": "2", "a": "1"}))
	require.Equal(t, "", CookieHeader(nil))
}

func TestNewNavigationFlow(t *testing.T) {
	t.Parallel()

	flow := NewNavigationFlow([]string{"https://a.test/", "https://a.test/b", "https://a.test/c"}, 2)
	require.Equal(t, "https://a.test/b", flow.StartURL)
	require.Equal(t, "https://a.test/c", flow.EndURL)
	require.Len(t, flow.Path, 3)
	require.Equal(t, 2, flow.Depth)

	short := NewNavigationFlow([]string{"https://a.test/", "https://a.test/x"}, 1)
	require.Equal(t, "https://a.test/", short.StartURL)
	require.Equal(t, "https://a.test/x", short.EndURL)
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	require.False(t, StatusInitialized.Terminal())
	require.False(t, StatusRunning.Terminal())
	require.False(t, StatusPaused.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusFailed.Terminal())
	require.True(t, StatusStopped.Terminal())
}

func TestCountersAdd(t *testing.T) {
	t.Parallel()

	got := Counters{Pages: 1, Flows: 2}.Add(Counters{Pages: 1, ExternalURLs: 3})
	require.Equal(t, Counters{Pages: 2, Flows: 2, ExternalURLs: 3}, got)
}
