package timeline

import (
	"fmt"
	"testing"
)

func TestEventsFilterByDocument(t *testing.T) {
	s := NewStore()
	s.Record(Event{DocumentID: "d1", Stage: "QUEUED"})
	s.Record(Event{DocumentID: "d2", Stage: "QUEUED"})
	s.Record(Event{DocumentID: "d1", Stage: "EXTRACTING", NodeID: "n1"})

	events := s.Events("d1")
	if len(events) != 2 {
		t.Fatalf("events = %d, want 2", len(events))
	}
	if events[0].Stage != "QUEUED" || events[1].Stage != "EXTRACTING" {
		t.Errorf("order = %s, %s; want arrival order", events[0].Stage, events[1].Stage)
	}
	if events[0].Timestamp.IsZero() {
		t.Error("Record must stamp events")
	}
	if got := s.Events("missing"); len(got) != 0 {
		t.Errorf("unknown document returned %d events", len(got))
	}
}

func TestBoundedEviction(t *testing.T) {
	s := &Store{maxEvents: 10}
	for i := 0; i < 11; i++ {
		s.Record(Event{DocumentID: fmt.Sprintf("d%d", i), Stage: "QUEUED"})
	}
	all := s.All()
	if len(all) != 5 {
		t.Fatalf("after overflow len = %d, want 5 (oldest half evicted)", len(all))
	}
	// The newest events survive.
	if all[len(all)-1].DocumentID != "d10" {
		t.Errorf("newest surviving event = %s, want d10", all[len(all)-1].DocumentID)
	}
}
