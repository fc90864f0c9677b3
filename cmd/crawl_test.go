package cmd

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func TestCrawlFlagsLeaveUnsetFieldsNil(t *testing.T) {
	t.Parallel()

	cmd := newCrawlCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--max-depth", "3", "--js", "--cookie", "a=1", "--attachments", "pdf,csv"}))

	var flags crawlFlags
	flags.maxDepth, _ = cmd.Flags().GetInt("max-depth")
	flags.render, _ = cmd.Flags().GetBool("js")
	flags.cookie, _ = cmd.Flags().GetString("cookie")
	flags.exts, _ = cmd.Flags().GetStringSlice("attachments")

	req := flags.request(cmd, "https://example.com")
	require.Equal(t, "https://example.com", req.StartURL)
	require.NotNil(t, req.MaxDepth)
	require.Equal(t, 3, *req.MaxDepth)
	require.Nil(t, req.MaxPages)
	require.Nil(t, req.RequestDelay)
	require.Nil(t, req.ConcurrentWorkers)
	require.True(t, req.RenderJavaScript)
	require.Equal(t, "a=1", req.CookieString)
	require.Equal(t, []string{"pdf", "csv"}, req.AttachmentExtensions)
}

func TestPrintSummary(t *testing.T) {
	t.Parallel()

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	finished := started.Add(1500 * time.Millisecond)
	var buf bytes.Buffer
	printSummary(&buf, crawler.Session{
		ID:         "abc",
		StartURL:   "https://example.com/",
		Status:     crawler.StatusCompleted,
		StartedAt:  started,
		FinishedAt: &finished,
		Counters:   crawler.Counters{Pages: 4, FailedPages: 1, Flows: 3, Attachments: 2, ExternalURLs: 5, InternalLinks: 9},
	})
	out := buf.String()
	require.Contains(t, out, "status       completed")
	require.Contains(t, out, "elapsed      1.5s")
	require.Contains(t, out, "pages        4 (1 failed)")
	require.Contains(t, out, "internal     9")
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["serve"])
	require.True(t, names["crawl"])
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestResolveRuntimeRequiresPreRun(t *testing.T) {
	t.Parallel()

	_, err := resolveRuntime(context.Background())
	require.Error(t, err)
}
