// Package frontier holds the per-session crawl state shared by the
// coordinator and its workers: the FIFO queue of pending URLs, the visited
// set and the count of in-flight work items.
package frontier

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const (
	defaultExpected = 100_000
	falsePositive   = 0.01
)

// Frontier is safe for concurrent use. Any goroutine may push; the engine
// pops from a single coordinator.
type Frontier struct {
	qmu   sync.Mutex
	queue *list.List

	vmu     sync.RWMutex
	filter  *bloom.BloomFilter
	visited map[string]struct{}

	active atomic.Int64
	notify chan struct{}
}

// New creates a Frontier whose Bloom filter is sized for expected URLs.
// Zero selects a default.
func New(expected uint) *Frontier {
	if expected == 0 {
		expected = defaultExpected
	}
	return &Frontier{
		queue:   list.New(),
		filter:  bloom.NewWithEstimates(expected, falsePositive),
		visited: make(map[string]struct{}),
		notify:  make(chan struct{}, 1),
	}
}

// Push appends an entry to the tail of the queue.
func (f *Frontier) Push(entry crawler.FrontierEntry) {
	f.qmu.Lock()
	f.queue.PushBack(entry)
	f.qmu.Unlock()
	f.signal()
}

// Pop removes the head of the queue. The bool is false when the queue is empty.
func (f *Frontier) Pop() (crawler.FrontierEntry, bool) {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	front := f.queue.Front()
	if front == nil {
		return crawler.FrontierEntry{}, false
	}
	f.queue.Remove(front)
	entry, _ := front.Value.(crawler.FrontierEntry)
	return entry, true
}

// Len returns the number of queued entries.
func (f *Frontier) Len() int {
	f.qmu.Lock()
	defer f.qmu.Unlock()
	return f.queue.Len()
}

// MarkVisited adds url to the visited set if absent and reports whether this
// call added it. Exactly one of several concurrent callers wins.
func (f *Frontier) MarkVisited(url string) bool {
	f.vmu.Lock()
	defer f.vmu.Unlock()
	if f.filter.TestString(url) {
		if _, ok := f.visited[url]; ok {
			return false
		}
	}
	f.filter.AddString(url)
	f.visited[url] = struct{}{}
	return true
}

// IsVisited reports whether url has been claimed.
func (f *Frontier) IsVisited(url string) bool {
	f.vmu.RLock()
	defer f.vmu.RUnlock()
	if !f.filter.TestString(url) {
		return false
	}
	_, ok := f.visited[url]
	return ok
}

// VisitedCount returns the size of the visited set.
func (f *Frontier) VisitedCount() int {
	f.vmu.RLock()
	defer f.vmu.RUnlock()
	return len(f.visited)
}

// IncActive records a dispatched work item.
func (f *Frontier) IncActive() {
	f.active.Add(1)
}

// DecActive records a finished work item and wakes the coordinator.
func (f *Frontier) DecActive() {
	f.active.Add(-1)
	f.signal()
}

// Active returns the number of in-flight work items.
func (f *Frontier) Active() int {
	return int(f.active.Load())
}

// Notify fires after a push or a finished work item. Signals coalesce, so a
// receiver must re-check state rather than count wake-ups.
func (f *Frontier) Notify() <-chan struct{} {
	return f.notify
}

func (f *Frontier) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}
