// Package memory keeps crawl sessions and their results in process memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

// SessionStore provides an in-memory crawler.SessionStore for development,
// tests and single-shot CLI runs.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]crawler.Session
	pages    map[string][]crawler.PageResult
	flows    map[string][]crawler.NavigationFlow
	links    map[string][]crawler.LinkRecord
}

var _ crawler.SessionStore = (*SessionStore)(nil)

// NewSessionStore constructs a SessionStore.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]crawler.Session),
		pages:    make(map[string][]crawler.PageResult),
		flows:    make(map[string][]crawler.NavigationFlow),
		links:    make(map[string][]crawler.LinkRecord),
	}
}

// CreateSession stores a new session.
func (s *SessionStore) CreateSession(_ context.Context, session crawler.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return fmt.Errorf("create session %s: %w", session.ID, crawler.ErrSessionExists)
	}
	session.Options = session.Options.Clone()
	s.sessions[session.ID] = session
	return nil
}

// UpdateStatus sets the status. A nil finishedAt leaves the recorded finish
// time unchanged.
func (s *SessionStore) UpdateStatus(_ context.Context, sessionID string, status crawler.Status, finishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	session.Status = status
	if finishedAt != nil {
		session.FinishedAt = pointerTime(*finishedAt)
	}
	s.sessions[sessionID] = session
	return nil
}

// IncrementCounters adds delta to the session's counters.
func (s *SessionStore) IncrementCounters(_ context.Context, sessionID string, delta crawler.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawler.ErrSessionNotFound
	}
	session.Counters = session.Counters.Add(delta)
	s.sessions[sessionID] = session
	return nil
}

// GetSession fetches a session by ID.
func (s *SessionStore) GetSession(_ context.Context, sessionID string) (crawler.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return crawler.Session{}, crawler.ErrSessionNotFound
	}
	return copySession(session), nil
}

// ListSessions returns every session, most recently started first.
func (s *SessionStore) ListSessions(_ context.Context) ([]crawler.Session, error) {
	s.mu.RLock()
	out := make([]crawler.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, copySession(session))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SavePage appends a page for its session.
func (s *SessionStore) SavePage(_ context.Context, page crawler.PageResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[page.SessionID]; !ok {
		return crawler.ErrSessionNotFound
	}
	page.Document = nil
	s.pages[page.SessionID] = append(s.pages[page.SessionID], page)
	return nil
}

// ListPages returns the recorded pages in discovery order.
func (s *SessionStore) ListPages(_ context.Context, sessionID string) ([]crawler.PageResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pages := s.pages[sessionID]
	out := make([]crawler.PageResult, len(pages))
	copy(out, pages)
	return out, nil
}

// SaveFlow appends a navigation flow for its session.
func (s *SessionStore) SaveFlow(_ context.Context, flow crawler.NavigationFlow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[flow.SessionID]; !ok {
		return crawler.ErrSessionNotFound
	}
	flow.Path = append([]string(nil), flow.Path...)
	s.flows[flow.SessionID] = append(s.flows[flow.SessionID], flow)
	return nil
}

// ListFlows returns the recorded flows in discovery order.
func (s *SessionStore) ListFlows(_ context.Context, sessionID string) ([]crawler.NavigationFlow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	flows := s.flows[sessionID]
	out := make([]crawler.NavigationFlow, len(flows))
	for i, flow := range flows {
		flow.Path = append([]string(nil), flow.Path...)
		out[i] = flow
	}
	return out, nil
}

// SaveLink appends a link record for its session.
func (s *SessionStore) SaveLink(_ context.Context, link crawler.LinkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[link.SessionID]; !ok {
		return crawler.ErrSessionNotFound
	}
	s.links[link.SessionID] = append(s.links[link.SessionID], link)
	return nil
}

// ListLinks returns the session's link records of kind in discovery order.
func (s *SessionStore) ListLinks(_ context.Context, sessionID string, kind crawler.LinkKind) ([]crawler.LinkRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.LinkRecord, 0)
	for _, link := range s.links[sessionID] {
		if link.Kind == kind {
			out = append(out, link)
		}
	}
	return out, nil
}

func copySession(session crawler.Session) crawler.Session {
	session.Options = session.Options.Clone()
	if session.FinishedAt != nil {
		session.FinishedAt = pointerTime(*session.FinishedAt)
	}
	return session
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
