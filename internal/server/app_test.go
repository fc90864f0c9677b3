package server

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/service"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Progress.LogSink = false
	return cfg
}

func TestBuildMemoryBackend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := Build(ctx, testConfig(t), zap.NewNop())
	require.NoError(t, err)
	defer app.Close(ctx)

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "sitecrawler_sessions_running")

	sessions, err := app.Service().List(ctx)
	require.NoError(t, err)
	require.Empty(t, sessions)
}

func TestBuildRejectsRenderingWithoutHeadless(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	app, err := Build(ctx, testConfig(t), nil)
	require.NoError(t, err)
	defer app.Close(ctx)

	_, err = app.Service().Start(ctx, service.StartRequest{
		StartURL:         "https://example.com/",
		RenderJavaScript: true,
	})
	require.ErrorIs(t, err, crawler.ErrRenderingDisabled)
}

func TestBuildSQLiteBackend(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.SQLitePath = filepath.Join(t.TempDir(), "crawl.db")
	cfg.Fetcher.HashAlgorithm = config.HashXXHash

	ctx := context.Background()
	app, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	app.Close(ctx)
	app.Close(ctx)
}

func TestBuildUnknownHash(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Fetcher.HashAlgorithm = "md5"
	_, err := Build(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "unknown hash algorithm")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/readyz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestNewHasher(t *testing.T) {
	t.Parallel()

	h, err := newHasher("")
	require.NoError(t, err)
	sum, err := h.Hash([]byte("x"))
	require.NoError(t, err)
	require.Len(t, sum, 64)

	h, err = newHasher(config.HashXXHash)
	require.NoError(t, err)
	sum, err = h.Hash([]byte("x"))
	require.NoError(t, err)
	require.Len(t, sum, 16)
}
