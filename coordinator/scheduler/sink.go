package scheduler

import (
	"context"

	"github.com/papermill-io/papermill/coordinator/store"
)

// Sink accepts finalized records. Delivery is idempotent on document id:
// re-submission of the same id overwrites rather than duplicates.
type Sink interface {
	Deliver(ctx context.Context, rec *store.Record) error
}

// StoreSink delivers records into the configured store backend.
type StoreSink struct {
	store store.Store
}

// NewStoreSink wraps a store as the pipeline sink.
func NewStoreSink(s store.Store) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Deliver(ctx context.Context, rec *store.Record) error {
	return s.store.UpsertRecord(ctx, rec)
}
