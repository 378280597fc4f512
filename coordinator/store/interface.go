// Package store persists documents, finalized records and the content
// fingerprint seen-set. It abstracts over Postgres (durable), Redis
// (shared/fast) and an in-memory backend for tests and single-node runs.
package store

import (
	"context"
)

// Store is the persistence contract the scheduler depends on.
type Store interface {
	// Document operations.
	UpsertDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status, lastError string) error
	CountDocumentsByStatus(ctx context.Context) (map[string]int, error)

	// ClaimFingerprint atomically claims a content fingerprint for docID.
	// The first claim wins and returns claimed=true; a later claim of the
	// same fingerprint returns claimed=false along with the original
	// document's id, so the new document can short-circuit as a duplicate.
	ClaimFingerprint(ctx context.Context, fingerprint, docID string) (claimed bool, existingDocID string, err error)

	// Record operations. UpsertRecord is idempotent on DocumentID:
	// re-submission overwrites rather than duplicates.
	UpsertRecord(ctx context.Context, rec *Record) error
	GetRecord(ctx context.Context, docID string) (*Record, error)

	Close()
}
