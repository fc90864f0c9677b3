package engine

import (
	"context"
	"sync"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// control is the pause/stop state of one session. Pausing installs a resume
// channel that the coordinator blocks on; stopping closes stopCh, which wakes
// every wait.
type control struct {
	mu       sync.Mutex
	status   crawler.Status
	resumeCh chan struct{}
	stopCh   chan struct{}
	stopped  bool
}

func newControl() *control {
	return &control{
		status: crawler.StatusRunning,
		stopCh: make(chan struct{}),
	}
}

func (c *control) pause() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.status != crawler.StatusRunning {
		return false
	}
	c.status = crawler.StatusPaused
	c.resumeCh = make(chan struct{})
	return true
}

func (c *control) resume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || c.status != crawler.StatusPaused {
		return false
	}
	c.status = crawler.StatusRunning
	close(c.resumeCh)
	c.resumeCh = nil
	return true
}

func (c *control) stop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return false
	}
	c.stopped = true
	c.status = crawler.StatusStopped
	close(c.stopCh)
	return true
}

func (c *control) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

func (c *control) current() crawler.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *control) finish(status crawler.Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = status
}

// waitWhilePaused blocks until the session is running again. It returns false
// when the session was stopped or ctx ended instead.
func (c *control) waitWhilePaused(ctx context.Context) bool {
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return false
		}
		ch := c.resumeCh
		c.mu.Unlock()
		if ch == nil {
			return true
		}
		select {
		case <-ch:
		case <-c.stopCh:
			return false
		case <-ctx.Done():
			return false
		}
	}
}
