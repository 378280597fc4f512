package store

import (
	"time"
)

// Document lifecycle statuses. Transitions are driven exclusively by the
// scheduler; no other component mutates document state.
const (
	StatusQueued      = "queued"
	StatusExtracting  = "extracting"
	StatusExtracted   = "extracted"
	StatusClassifying = "classifying"
	StatusClassified  = "classified"
	StatusResolved    = "resolved"
	StatusFailed      = "failed"
	StatusDuplicate   = "duplicate"
)

// Terminal record outcomes. Every document ends in exactly one of these.
const (
	OutcomeResolved    = "resolved"
	OutcomeNeedsReview = "needs_review"
	OutcomeFailed      = "failed"
	OutcomeDuplicate   = "duplicate"
)

// SourceMeta is the immutable origin metadata a document enters the
// pipeline with.
type SourceMeta struct {
	Sender     string    `json:"sender,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	ReceivedAt time.Time `json:"received_at,omitempty"`
}

// Document is one pipeline work item. Identity, fingerprint and source
// metadata are immutable once the document enters the pipeline; only
// Status, Attempts, LastError, DuplicateOf and UpdatedAt change.
type Document struct {
	ID          string     `json:"id"`
	Fingerprint string     `json:"fingerprint"`
	Source      SourceMeta `json:"source"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	DuplicateOf string     `json:"duplicate_of,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// AttemptRecord is one persisted extraction attempt.
type AttemptRecord struct {
	Stage      string  `json:"stage"`
	CostRank   int     `json:"cost_rank"`
	Confidence float64 `json:"confidence"`
	ElapsedMS  int64   `json:"elapsed_ms"`
	Outcome    string  `json:"outcome"`
	Err        string  `json:"error,omitempty"`
}

// BallotRecord is one persisted consensus ballot, kept for auditability.
type BallotRecord struct {
	VoterID   string `json:"voter_id"`
	Category  string `json:"category"`
	ItemCount int    `json:"item_count"`
}

// ConsensusMeta is the persisted reduction outcome.
type ConsensusMeta struct {
	Agreeing  []string       `json:"agreeing,omitempty"`
	Strength  float64        `json:"strength"`
	Ballots   []BallotRecord `json:"ballots,omitempty"`
	ItemCount int            `json:"item_count"`
}

// Record is the finalized output delivered to the sink: one per document
// id, idempotent on that id. Re-submission overwrites, never duplicates.
type Record struct {
	DocumentID  string            `json:"document_id"`
	Outcome     string            `json:"outcome"`
	Text        string            `json:"text,omitempty"`
	Category    string            `json:"category,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	Stage       string            `json:"stage,omitempty"` // winning extraction stage
	Confidence  float64           `json:"confidence"`
	Attempts    []AttemptRecord   `json:"attempts,omitempty"`
	Consensus   *ConsensusMeta    `json:"consensus,omitempty"`
	DuplicateOf string            `json:"duplicate_of,omitempty"`
	FailReason  string            `json:"fail_reason,omitempty"`
	FinishedAt  time.Time         `json:"finished_at"`
}
