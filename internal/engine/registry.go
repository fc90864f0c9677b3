package engine

import (
	"sort"
	"sync"
)

// registry maps session ids to running sessions. Entries are added by
// StartCrawl and removed by the coordinator once the session is terminal.
type registry struct {
	mu   sync.RWMutex
	runs map[string]*run
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*run)}
}

func (r *registry) add(run *run) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.session.ID]; ok {
		return false
	}
	r.runs[run.session.ID] = run
	return true
}

func (r *registry) get(id string) (*run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, id)
}

func (r *registry) all() []*run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out
}

func (r *registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.runs))
	for id := range r.runs {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
