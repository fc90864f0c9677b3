package frontier

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

func TestFrontierFIFO(t *testing.T) {
	t.Parallel()

	f := New(0)
	_, ok := f.Pop()
	require.False(t, ok)

	for i := 0; i < 3; i++ {
		f.Push(crawler.FrontierEntry{URL: fmt.Sprintf("https://a.test/%d", i), Depth: i})
	}
	require.Equal(t, 3, f.Len())
	for i := 0; i < 3; i++ {
		entry, ok := f.Pop()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("https://a.test/%d", i), entry.URL)
		require.Equal(t, i, entry.Depth)
	}
	require.Equal(t, 0, f.Len())
}

func TestFrontierMarkVisitedOnce(t *testing.T) {
	t.Parallel()

	f := New(16)
	require.False(t, f.IsVisited("https://a.test/"))
	require.True(t, f.MarkVisited("https://a.test/"))
	require.False(t, f.MarkVisited("https://a.test/"))
	require.True(t, f.IsVisited("https://a.test/"))
	require.Equal(t, 1, f.VisitedCount())
}

func TestFrontierMarkVisitedConcurrentSingleWinner(t *testing.T) {
	t.Parallel()

	f := New(0)
	const goroutines = 64
	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if f.MarkVisited("https://a.test/shared") {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestFrontierVisitedBeyondFilterEstimate(t *testing.T) {
	t.Parallel()

	f := New(8)
	for i := 0; i < 500; i++ {
		require.True(t, f.MarkVisited(fmt.Sprintf("https://a.test/%d", i)))
	}
	require.Equal(t, 500, f.VisitedCount())
	require.False(t, f.IsVisited("https://a.test/never"))
}

func TestFrontierActiveAndNotify(t *testing.T) {
	t.Parallel()

	f := New(0)
	f.IncActive()
	f.IncActive()
	require.Equal(t, 2, f.Active())

	f.DecActive()
	require.Equal(t, 1, f.Active())
	select {
	case <-f.Notify():
	default:
		t.Fatal("expected notification after DecActive")
	}

	f.Push(crawler.FrontierEntry{URL: "https://a.test/"})
	f.Push(crawler.FrontierEntry{URL: "https://a.test/2"})
	select {
	case <-f.Notify():
	default:
		t.Fatal("expected notification after Push")
	}
	select {
	case <-f.Notify():
		t.Fatal("expected coalesced notifications")
	default:
	}
}
