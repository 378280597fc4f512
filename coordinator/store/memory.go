package store

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is the in-memory Store used for tests and single-node runs.
// The fingerprint seen-set uses sync.Map LoadOrStore so duplicate claims
// resolve per entry without a global lock.
type MemoryStore struct {
	mu           sync.RWMutex
	documents    map[string]*Document
	records      map[string]*Record
	fingerprints sync.Map // fingerprint -> document id
}

// NewMemoryStore initializes an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string]*Document),
		records:   make(map[string]*Record),
	}
}

func (s *MemoryStore) UpsertDocument(ctx context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyDoc := *doc
	if copyDoc.CreatedAt.IsZero() {
		copyDoc.CreatedAt = time.Now()
	}
	copyDoc.UpdatedAt = time.Now()
	s.documents[doc.ID] = &copyDoc
	return nil
}

func (s *MemoryStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	if !ok {
		return nil, nil
	}
	copyDoc := *doc
	return &copyDoc, nil
}

func (s *MemoryStore) UpdateDocumentStatus(ctx context.Context, id, status, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.documents[id]
	if !ok {
		return fmt.Errorf("store: document %s not found", id)
	}
	doc.Status = status
	doc.LastError = lastError
	doc.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) CountDocumentsByStatus(ctx context.Context) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[string]int)
	for _, doc := range s.documents {
		counts[doc.Status]++
	}
	return counts, nil
}

func (s *MemoryStore) ClaimFingerprint(ctx context.Context, fingerprint, docID string) (bool, string, error) {
	existing, loaded := s.fingerprints.LoadOrStore(fingerprint, docID)
	if loaded {
		return false, existing.(string), nil
	}
	return true, "", nil
}

func (s *MemoryStore) UpsertRecord(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copyRec := *rec
	if copyRec.FinishedAt.IsZero() {
		copyRec.FinishedAt = time.Now()
	}
	s.records[rec.DocumentID] = &copyRec
	return nil
}

func (s *MemoryStore) GetRecord(ctx context.Context, docID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[docID]
	if !ok {
		return nil, nil
	}
	copyRec := *rec
	return &copyRec, nil
}

// RecordCount returns the number of finalized records held. Test helper.
func (s *MemoryStore) RecordCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *MemoryStore) Close() {}
