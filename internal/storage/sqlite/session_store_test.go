package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/storage/storetest"
)

func openTestStore(t *testing.T) *SessionStore {
	t.Helper()
	store, err := Open(context.Background(), filepath.Join(t.TempDir(), "crawl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSessionStore(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) crawler.SessionStore {
		return openTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open(context.Background(), "")
	require.Error(t, err)
}

func TestOpenCreatesDirectoryAndReopens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "crawl.db")
	store, err := Open(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, path, store.Path())
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, storetest.Session("s-1", time.Now())))
	require.NoError(t, store.Close())

	reopened, err := Open(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()
	got, err := reopened.GetSession(ctx, "s-1")
	require.NoError(t, err)
	require.Equal(t, "example.com", got.BaseDomain)
}

func TestForeignKeysEnforced(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	err := store.SavePage(ctx, crawler.PageResult{ID: "p", SessionID: "ghost", URL: "https://x.test", VisitedAt: time.Now()})
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
	err = store.SaveLink(ctx, crawler.LinkRecord{SessionID: "ghost", Kind: crawler.LinkExternal, URL: "https://y.test"})
	require.ErrorIs(t, err, crawler.ErrSessionNotFound)
}
