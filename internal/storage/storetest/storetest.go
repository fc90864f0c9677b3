// Package storetest holds behavior checks shared by crawler.SessionStore
// implementations.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// Session returns a session fixture started at startedAt.
func Session(id string, startedAt time.Time) crawler.Session {
	opts := crawler.DefaultOptions()
	opts.MaxPages = 25
	opts.Cookies = map[string]string{"sid": "abc"}
	return crawler.Session{
		ID:         id,
		StartURL:   "https://example.com/",
		BaseDomain: "example.com",
		Status:     crawler.StatusInitialized,
		StartedAt:  startedAt,
		Options:    opts,
	}
}

// Run exercises store through a full session lifecycle. newStore must return
// an empty store.
func Run(t *testing.T, newStore func(t *testing.T) crawler.SessionStore) {
	t.Helper()

	t.Run("session lifecycle", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		started := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, store.CreateSession(ctx, Session("s-1", started)))
		require.ErrorIs(t, store.CreateSession(ctx, Session("s-1", started)), crawler.ErrSessionExists)

		require.NoError(t, store.UpdateStatus(ctx, "s-1", crawler.StatusRunning, nil))
		require.NoError(t, store.IncrementCounters(ctx, "s-1", crawler.Counters{Pages: 2, FailedPages: 1}))
		require.NoError(t, store.IncrementCounters(ctx, "s-1", crawler.Counters{Pages: 1, Flows: 3, InternalLinks: 4}))

		got, err := store.GetSession(ctx, "s-1")
		require.NoError(t, err)
		require.Equal(t, crawler.StatusRunning, got.Status)
		require.Nil(t, got.FinishedAt)
		require.Equal(t, crawler.Counters{Pages: 3, FailedPages: 1, Flows: 3, InternalLinks: 4}, got.Counters)
		require.Equal(t, "example.com", got.BaseDomain)
		require.Equal(t, 25, got.Options.MaxPages)
		require.Equal(t, "abc", got.Options.Cookies["sid"])
		require.True(t, got.StartedAt.Equal(started))

		finished := started.Add(time.Minute)
		require.NoError(t, store.UpdateStatus(ctx, "s-1", crawler.StatusStopped, &finished))
		require.NoError(t, store.UpdateStatus(ctx, "s-1", crawler.StatusStopped, nil))
		got, err = store.GetSession(ctx, "s-1")
		require.NoError(t, err)
		require.Equal(t, crawler.StatusStopped, got.Status)
		require.NotNil(t, got.FinishedAt)
		require.True(t, got.FinishedAt.Equal(finished))
	})

	t.Run("missing session", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		_, err := store.GetSession(ctx, "nope")
		require.ErrorIs(t, err, crawler.ErrSessionNotFound)
		require.ErrorIs(t, store.UpdateStatus(ctx, "nope", crawler.StatusRunning, nil), crawler.ErrSessionNotFound)
		require.ErrorIs(t, store.IncrementCounters(ctx, "nope", crawler.Counters{Pages: 1}), crawler.ErrSessionNotFound)
	})

	t.Run("list sessions newest first", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

		require.NoError(t, store.CreateSession(ctx, Session("old", base)))
		require.NoError(t, store.CreateSession(ctx, Session("new", base.Add(time.Hour))))
		sessions, err := store.ListSessions(ctx)
		require.NoError(t, err)
		require.Len(t, sessions, 2)
		require.Equal(t, "new", sessions[0].ID)
		require.Equal(t, "old", sessions[1].ID)
	})

	t.Run("results", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
		require.NoError(t, store.CreateSession(ctx, Session("s-2", at)))

		pages := []crawler.PageResult{
			{ID: "p-1", SessionID: "s-2", URL: "https://example.com/", Success: true, StatusCode: 200,
				Title: "Home", ContentHash: "abc", ContentLength: 42, Elapsed: 150 * time.Millisecond, VisitedAt: at},
			{ID: "p-2", SessionID: "s-2", URL: "https://example.com/gone", ParentURL: "https://example.com/",
				Depth: 1, StatusCode: 404, ErrorMessage: "HTTP 404: Not Found", VisitedAt: at.Add(time.Second)},
		}
		for _, page := range pages {
			require.NoError(t, store.SavePage(ctx, page))
		}
		gotPages, err := store.ListPages(ctx, "s-2")
		require.NoError(t, err)
		require.Len(t, gotPages, 2)
		require.Equal(t, "p-1", gotPages[0].ID)
		require.Equal(t, "Home", gotPages[0].Title)
		require.Equal(t, 150*time.Millisecond, gotPages[0].Elapsed)
		require.True(t, gotPages[0].Success)
		require.Equal(t, "HTTP 404: Not Found", gotPages[1].ErrorMessage)
		require.Equal(t, 1, gotPages[1].Depth)
		require.Equal(t, "https://example.com/", gotPages[1].ParentURL)

		flow := crawler.NewNavigationFlow([]string{"https://example.com/", "https://example.com/a", "https://example.com/b"}, 2)
		flow.ID = "f-1"
		flow.SessionID = "s-2"
		flow.DiscoveredAt = at
		require.NoError(t, store.SaveFlow(ctx, flow))
		flows, err := store.ListFlows(ctx, "s-2")
		require.NoError(t, err)
		require.Len(t, flows, 1)
		require.Equal(t, flow.Path, flows[0].Path)
		require.Equal(t, "https://example.com/a", flows[0].StartURL)
		require.Equal(t, "https://example.com/b", flows[0].EndURL)
		require.Equal(t, 2, flows[0].Depth)

		links := []crawler.LinkRecord{
			{SessionID: "s-2", Kind: crawler.LinkExternal, URL: "https://other.org/", FoundOnPage: "https://example.com/", DiscoveredAt: at},
			{SessionID: "s-2", Kind: crawler.LinkAttachment, URL: "https://example.com/r.pdf", PageID: "p-1",
				FoundOnPage: "https://example.com/", FileName: "r.pdf", Extension: ".pdf", DiscoveredAt: at},
			{SessionID: "s-2", Kind: crawler.LinkExternal, URL: "https://third.net/", FoundOnPage: "https://example.com/", DiscoveredAt: at},
		}
		for _, link := range links {
			require.NoError(t, store.SaveLink(ctx, link))
		}
		external, err := store.ListLinks(ctx, "s-2", crawler.LinkExternal)
		require.NoError(t, err)
		require.Len(t, external, 2)
		require.Equal(t, "https://other.org/", external[0].URL)
		require.Equal(t, "https://third.net/", external[1].URL)

		attachments, err := store.ListLinks(ctx, "s-2", crawler.LinkAttachment)
		require.NoError(t, err)
		require.Len(t, attachments, 1)
		require.Equal(t, "p-1", attachments[0].PageID)
		require.Equal(t, ".pdf", attachments[0].Extension)

		internal, err := store.ListLinks(ctx, "s-2", crawler.LinkInternal)
		require.NoError(t, err)
		require.Empty(t, internal)

		empty, err := store.ListPages(ctx, "unknown")
		require.NoError(t, err)
		require.Empty(t, empty)
	})
}
