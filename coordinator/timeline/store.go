// Package timeline keeps an in-memory audit trail of document lifecycle
// transitions, exposed to operators for per-document debugging.
package timeline

import (
	"sync"
	"time"
)

// Event is one document lifecycle transition.
type Event struct {
	DocumentID string            `json:"document_id"`
	Stage      string            `json:"stage"` // QUEUED, DEDUP_HIT, DISPATCH, EXTRACTING, EXTRACTED, CLASSIFYING, CLASSIFIED, RESOLVED, NEEDS_REVIEW, FAILED, REQUEUED
	NodeID     string            `json:"node_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Store holds events in arrival order, bounded by maxEvents.
type Store struct {
	mu        sync.RWMutex
	events    []Event
	maxEvents int
}

const defaultMaxEvents = 100000

// NewStore creates an event store bounded at the default capacity.
func NewStore() *Store {
	return &Store{maxEvents: defaultMaxEvents}
}

// Record appends an event, evicting the oldest half once full.
func (s *Store) Record(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.events = append(s.events, e)
	if len(s.events) > s.maxEvents {
		keep := s.maxEvents / 2
		s.events = append([]Event(nil), s.events[len(s.events)-keep:]...)
	}
}

// Events returns the trail for one document id, in order.
func (s *Store) Events(documentID string) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var results []Event
	for _, e := range s.events {
		if e.DocumentID == documentID {
			results = append(results, e)
		}
	}
	return results
}

// All returns a copy of every held event.
func (s *Store) All() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := make([]Event, len(s.events))
	copy(c, s.events)
	return c
}
