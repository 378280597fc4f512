package store

import (
	"context"
	"sync"
	"testing"
)

func TestClaimFingerprintFirstWins(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	claimed, _, err := s.ClaimFingerprint(ctx, "fp-1", "doc-a")
	if err != nil || !claimed {
		t.Fatalf("first claim = (%v, %v), want success", claimed, err)
	}

	claimed, original, err := s.ClaimFingerprint(ctx, "fp-1", "doc-b")
	if err != nil {
		t.Fatal(err)
	}
	if claimed {
		t.Fatal("second claim of the same fingerprint must lose")
	}
	if original != "doc-a" {
		t.Errorf("original = %s, want doc-a", original)
	}
}

func TestClaimFingerprintConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	const racers = 32
	var wg sync.WaitGroup
	winners := make(chan string, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			docID := string(rune('a' + id%26))
			if claimed, _, _ := s.ClaimFingerprint(ctx, "contested", docID); claimed {
				winners <- docID
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	if count != 1 {
		t.Errorf("claims won = %d, want exactly 1", count)
	}
}

func TestUpsertRecordIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertRecord(ctx, &Record{DocumentID: "d1", Outcome: OutcomeResolved}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertRecord(ctx, &Record{DocumentID: "d1", Outcome: OutcomeResolved, Category: "invoice"}); err != nil {
		t.Fatal(err)
	}
	if got := s.RecordCount(); got != 1 {
		t.Errorf("record count = %d, re-delivery must overwrite not duplicate", got)
	}
	rec, err := s.GetRecord(ctx, "d1")
	if err != nil || rec == nil {
		t.Fatal(err)
	}
	if rec.Category != "invoice" {
		t.Errorf("category = %s, want the latest delivery", rec.Category)
	}
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.UpsertDocument(ctx, &Document{ID: "d1", Status: StatusQueued}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateDocumentStatus(ctx, "d1", StatusExtracting, ""); err != nil {
		t.Fatal(err)
	}
	doc, err := s.GetDocument(ctx, "d1")
	if err != nil || doc == nil {
		t.Fatal(err)
	}
	if doc.Status != StatusExtracting {
		t.Errorf("status = %s, want extracting", doc.Status)
	}

	if err := s.UpdateDocumentStatus(ctx, "missing", StatusFailed, "x"); err == nil {
		t.Error("updating an unknown document must error")
	}

	counts, err := s.CountDocumentsByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[StatusExtracting] != 1 {
		t.Errorf("counts = %v, want one extracting", counts)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if doc, err := s.GetDocument(ctx, "nope"); err != nil || doc != nil {
		t.Errorf("GetDocument = (%v, %v), want (nil, nil)", doc, err)
	}
	if rec, err := s.GetRecord(ctx, "nope"); err != nil || rec != nil {
		t.Errorf("GetRecord = (%v, %v), want (nil, nil)", rec, err)
	}
}
