// Package scheduler orchestrates the document pipeline: it admits queued
// documents onto worker slots gated by the throttle feedback loop, drives
// each through extraction, consensus classification and field extraction,
// and emits exactly one finalized record per document.
package scheduler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/papermill-io/papermill/coordinator/consensus"
	"github.com/papermill-io/papermill/coordinator/extract"
	"github.com/papermill-io/papermill/coordinator/fields"
	"github.com/papermill-io/papermill/coordinator/observability"
	"github.com/papermill-io/papermill/coordinator/registry"
	"github.com/papermill-io/papermill/coordinator/source"
	"github.com/papermill-io/papermill/coordinator/store"
	"github.com/papermill-io/papermill/coordinator/streaming"
	"github.com/papermill-io/papermill/coordinator/timeline"
)

// Extractor runs the cascading extraction pipeline for one document.
type Extractor interface {
	Extract(ctx context.Context, docID string, content []byte) ([]extract.Attempt, extract.Attempt, error)
}

// Classifier resolves a classification consensus for extracted text.
type Classifier interface {
	Resolve(ctx context.Context, docID, text, targetCategory string) (consensus.Result, error)
}

// Scheduler is the top-level pipeline orchestrator. It is the only
// component that transitions document state.
type Scheduler struct {
	queue      *Queue
	registry   *registry.Registry
	extractor  Extractor
	classifier Classifier
	fieldExt   fields.Extractor
	store      store.Store
	sink       Sink
	timeline   *timeline.Store
	publisher  streaming.Publisher
	cfg        Config

	paused atomic.Bool
	active atomic.Int64
	wg     sync.WaitGroup

	outcomeMu sync.Mutex
	outcomes  map[string]int
}

// New creates a Scheduler. Zero config fields fall back to defaults.
func New(
	reg *registry.Registry,
	extractor Extractor,
	classifier Classifier,
	fieldExt fields.Extractor,
	st store.Store,
	sink Sink,
	tl *timeline.Store,
	pub streaming.Publisher,
	cfg Config,
) *Scheduler {
	def := DefaultConfig()
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = def.RetryLimit
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = def.RetryBackoff
	}
	if cfg.MaxRetryBackoff <= 0 {
		cfg.MaxRetryBackoff = def.MaxRetryBackoff
	}
	if cfg.DispatchInterval <= 0 {
		cfg.DispatchInterval = def.DispatchInterval
	}
	if cfg.TargetCategory == "" {
		cfg.TargetCategory = def.TargetCategory
	}
	return &Scheduler{
		queue:      NewQueue(),
		registry:   reg,
		extractor:  extractor,
		classifier: classifier,
		fieldExt:   fieldExt,
		store:      st,
		sink:       sink,
		timeline:   tl,
		publisher:  pub,
		cfg:        cfg,
		outcomes:   make(map[string]int),
	}
}

// Fingerprint derives the content fingerprint used for deduplication.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Submit fingerprints a raw document and either queues it or
// short-circuits it as a duplicate. Duplicates never consume a worker
// slot: they are finalized immediately with a reference to the original
// document's record. Returns the new document's id.
func (s *Scheduler) Submit(ctx context.Context, raw *source.RawDocument) (string, error) {
	docID := uuid.NewString()
	fp := Fingerprint(raw.Content)

	doc := &store.Document{
		ID:          docID,
		Fingerprint: fp,
		Source: store.SourceMeta{
			Sender:     raw.Meta.Sender,
			Subject:    raw.Meta.Subject,
			Origin:     raw.Meta.Origin,
			ReceivedAt: raw.Meta.ReceivedAt,
		},
	}

	claimed, originalID, err := s.store.ClaimFingerprint(ctx, fp, docID)
	if err != nil {
		return "", err
	}

	if !claimed {
		doc.Status = store.StatusDuplicate
		doc.DuplicateOf = originalID
		if err := s.store.UpsertDocument(ctx, doc); err != nil {
			return "", err
		}
		s.timeline.Record(timeline.Event{
			DocumentID: docID,
			Stage:      "DEDUP_HIT",
			Metadata:   map[string]string{"duplicate_of": originalID},
		})
		logDecision(Decision{
			Decision:   "DEDUP_SHORT_CIRCUIT",
			DocumentID: docID,
			Reason:     "fingerprint already claimed",
			Metadata:   map[string]string{"duplicate_of": originalID},
		})
		observability.DuplicatesDetected.Inc()
		s.deliver(ctx, &store.Record{
			DocumentID:  docID,
			Outcome:     store.OutcomeDuplicate,
			DuplicateOf: originalID,
			FinishedAt:  time.Now(),
		})
		s.countOutcome(store.OutcomeDuplicate)
		return docID, nil
	}

	doc.Status = store.StatusQueued
	if err := s.store.UpsertDocument(ctx, doc); err != nil {
		return "", err
	}
	s.timeline.Record(timeline.Event{DocumentID: docID, Stage: "QUEUED"})
	s.queue.Push(&Task{DocID: docID, Content: raw.Content})
	return docID, nil
}

// Start launches the dispatch loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
}

// Wait blocks until all in-flight documents have settled. Call after the
// Start context is cancelled.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Pause stops new dispatches. In-flight documents finish.
func (s *Scheduler) Pause() {
	if s.paused.CompareAndSwap(false, true) {
		log.Println("scheduler: paused by operator")
		s.publisher.Publish(context.Background(), "pipeline.paused", map[string]string{"by": "operator"})
	}
}

// Resume re-enables dispatching.
func (s *Scheduler) Resume() {
	if s.paused.CompareAndSwap(true, false) {
		log.Println("scheduler: resumed by operator")
		s.publisher.Publish(context.Background(), "pipeline.resumed", map[string]string{"by": "operator"})
	}
}

// Paused reports whether dispatch is held, either by the operator or by a
// fleet-wide throttle (every node at zero admitted concurrency).
func (s *Scheduler) Paused() bool {
	return s.paused.Load() || s.registry.FleetPaused()
}

// Stats summarizes scheduler state for the operator surface.
func (s *Scheduler) Stats(ctx context.Context) Stats {
	s.outcomeMu.Lock()
	outcomes := make(map[string]int, len(s.outcomes))
	for k, v := range s.outcomes {
		outcomes[k] = v
	}
	s.outcomeMu.Unlock()

	statuses, err := s.store.CountDocumentsByStatus(ctx)
	if err != nil {
		log.Printf("scheduler: counting statuses: %v", err)
	}
	return Stats{
		QueueDepth: s.queue.Len(),
		Active:     int(s.active.Load()),
		Paused:     s.paused.Load(),
		FleetIdle:  s.registry.FleetPaused(),
		Outcomes:   outcomes,
		Statuses:   statuses,
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			s.dispatchReady(ctx)
			observability.SchedulerLoopDuration.Observe(time.Since(start).Seconds())
			observability.QueueDepth.Set(float64(s.queue.Len()))
		}
	}
}

// dispatchReady starts as many eligible documents as the fleet currently
// admits. Admission is re-read from the registry on every tick; a stale
// total is never cached because the throttle loop mutates it continuously.
func (s *Scheduler) dispatchReady(ctx context.Context) {
	if s.Paused() {
		observability.PipelinePaused.Set(1)
		return
	}
	observability.PipelinePaused.Set(0)

	free := s.registry.FreeSlots(registry.Healthy)
	for started := 0; started < free; started++ {
		task := s.queue.PopReady()
		if task == nil {
			return
		}
		logDecision(Decision{Decision: "DISPATCH", DocumentID: task.DocID, Attempt: task.Attempt})
		s.wg.Add(1)
		s.active.Add(1)
		go func(t *Task) {
			defer s.wg.Done()
			defer s.active.Add(-1)
			s.runDocument(ctx, t)
		}(task)
	}
}

// runDocument drives one document through its lifecycle. Within a single
// document the stage transitions are strictly sequential; across
// documents everything runs independently.
func (s *Scheduler) runDocument(ctx context.Context, task *Task) {
	s.setStatus(ctx, task.DocID, store.StatusExtracting, "", "EXTRACTING")

	attempts, best, err := s.extractor.Extract(ctx, task.DocID, task.Content)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			s.requeueCancelled(ctx, task)
		case errors.Is(err, registry.ErrNoSlot):
			s.requeueResource(ctx, task)
		case errors.Is(err, extract.ErrBelowFloor):
			// Confidence shortfall is a domain outcome, never retried.
			s.finalize(ctx, task, store.StatusFailed, &store.Record{
				DocumentID: task.DocID,
				Outcome:    store.OutcomeFailed,
				Text:       best.Text,
				Stage:      best.Stage,
				Confidence: best.Confidence,
				Attempts:   toAttemptRecords(attempts),
				FailReason: "low_confidence",
			})
		default:
			// All stages failed in transport: retriable.
			s.retryTransport(ctx, task, err, toAttemptRecords(attempts))
		}
		return
	}

	s.setStatus(ctx, task.DocID, store.StatusExtracted, "", "EXTRACTED")
	s.setStatus(ctx, task.DocID, store.StatusClassifying, "", "CLASSIFYING")

	res, err := s.classifier.Resolve(ctx, task.DocID, best.Text, s.cfg.TargetCategory)
	if err != nil {
		switch {
		case errors.Is(err, context.Canceled):
			s.requeueCancelled(ctx, task)
		default:
			// No ballots at all means the voters were unreachable, not
			// that they disagreed.
			s.retryTransport(ctx, task, err, toAttemptRecords(attempts))
		}
		return
	}

	s.setStatus(ctx, task.DocID, store.StatusClassified, "", "CLASSIFIED")

	fieldMap, err := s.fieldExt.Invoke(ctx, best.Text, res.Category)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			s.requeueCancelled(ctx, task)
		} else {
			s.retryTransport(ctx, task, err, toAttemptRecords(attempts))
		}
		return
	}
	// Consensus ballots may carry structured fields of their own; the
	// dedicated extractor wins where both produced a value.
	merged := make(map[string]string, len(res.Fields)+len(fieldMap))
	for k, v := range res.Fields {
		merged[k] = v
	}
	for k, v := range fieldMap {
		merged[k] = v
	}

	outcome := store.OutcomeResolved
	if res.NeedsReview {
		// Low agreement routes to review, not failure: the record is
		// still emitted downstream, tagged for human follow-up.
		outcome = store.OutcomeNeedsReview
	}

	s.finalize(ctx, task, store.StatusResolved, &store.Record{
		DocumentID: task.DocID,
		Outcome:    outcome,
		Text:       best.Text,
		Category:   res.Category,
		Fields:     merged,
		Stage:      best.Stage,
		Confidence: best.Confidence,
		Attempts:   toAttemptRecords(attempts),
		Consensus:  toConsensusMeta(res),
	})
}

// retryTransport re-queues the document with exponential backoff, or
// fails it terminally once the retry budget is spent. Even then a record
// reaches the sink: no document silently disappears.
func (s *Scheduler) retryTransport(ctx context.Context, task *Task, cause error, attempts []store.AttemptRecord) {
	if ctx.Err() != nil {
		// A collaborator failure observed under a dying run context is
		// shutdown, not transport; the document comes back resumable.
		s.requeueCancelled(ctx, task)
		return
	}
	if task.Attempt >= s.cfg.RetryLimit {
		logDecision(Decision{
			Decision:   "FINALIZE",
			DocumentID: task.DocID,
			Attempt:    task.Attempt,
			Reason:     "retry budget exhausted",
		})
		s.finalize(ctx, task, store.StatusFailed, &store.Record{
			DocumentID: task.DocID,
			Outcome:    store.OutcomeFailed,
			Attempts:   attempts,
			FailReason: "transport: " + cause.Error(),
		})
		return
	}

	delay := s.backoff(task.Attempt)
	logDecision(Decision{
		Decision:   "RETRY",
		DocumentID: task.DocID,
		Attempt:    task.Attempt + 1,
		Reason:     cause.Error(),
		Metadata:   map[string]string{"delay": delay.String()},
	})
	observability.DocumentRetries.Inc()
	s.setStatus(ctx, task.DocID, store.StatusQueued, cause.Error(), "REQUEUED")
	s.queue.Push(&Task{
		DocID:      task.DocID,
		Content:    task.Content,
		Attempt:    task.Attempt + 1,
		NotBefore:  time.Now().Add(delay),
		EnqueuedAt: task.EnqueuedAt,
	})
}

// requeueResource puts the document back unchanged: no admitted slot was
// available anywhere, which consumes no retry budget. It is re-evaluated
// on the next scheduling tick, never discarded.
func (s *Scheduler) requeueResource(ctx context.Context, task *Task) {
	logDecision(Decision{
		Decision:   "RESOURCE_EXHAUSTED",
		DocumentID: task.DocID,
		Attempt:    task.Attempt,
		Reason:     "no admitted slot available",
	})
	s.setStatus(ctx, task.DocID, store.StatusQueued, "", "REQUEUED")
	s.queue.Push(&Task{
		DocID:      task.DocID,
		Content:    task.Content,
		Attempt:    task.Attempt,
		NotBefore:  time.Now().Add(s.cfg.DispatchInterval),
		EnqueuedAt: task.EnqueuedAt,
	})
}

// requeueCancelled handles operator shutdown or pipeline-wide pause:
// the document returns to a resumable Queued state with no partial
// results persisted.
func (s *Scheduler) requeueCancelled(ctx context.Context, task *Task) {
	logDecision(Decision{
		Decision:   "RETRY",
		DocumentID: task.DocID,
		Attempt:    task.Attempt,
		Reason:     "cancelled",
	})
	// The run context is gone; use a fresh one for the status write.
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.setStatus(sctx, task.DocID, store.StatusQueued, "", "REQUEUED")
	s.queue.Push(&Task{
		DocID:      task.DocID,
		Content:    task.Content,
		Attempt:    task.Attempt,
		EnqueuedAt: task.EnqueuedAt,
	})
}

func (s *Scheduler) finalize(ctx context.Context, task *Task, status string, rec *store.Record) {
	rec.FinishedAt = time.Now()
	s.setStatus(ctx, task.DocID, status, rec.FailReason, finalStage(rec.Outcome))
	s.deliver(ctx, rec)
	s.countOutcome(rec.Outcome)
	observability.DocumentsFinished.WithLabelValues(rec.Outcome).Inc()
	s.publisher.Publish(ctx, "document.finished", rec)
}

func (s *Scheduler) deliver(ctx context.Context, rec *store.Record) {
	if err := s.sink.Deliver(ctx, rec); err != nil {
		// Idempotent on document id, so a later re-delivery is safe.
		log.Printf("scheduler: sink delivery for %s failed: %v", rec.DocumentID, err)
		return
	}
	observability.SinkDeliveries.WithLabelValues(rec.Outcome).Inc()
}

func (s *Scheduler) setStatus(ctx context.Context, docID, status, lastError, stage string) {
	if err := s.store.UpdateDocumentStatus(ctx, docID, status, lastError); err != nil {
		log.Printf("scheduler: updating %s to %s: %v", docID, status, err)
	}
	if stage != "" {
		s.timeline.Record(timeline.Event{DocumentID: docID, Stage: stage})
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	delay := s.cfg.RetryBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= s.cfg.MaxRetryBackoff {
			return s.cfg.MaxRetryBackoff
		}
	}
	return delay
}

func (s *Scheduler) countOutcome(outcome string) {
	s.outcomeMu.Lock()
	s.outcomes[outcome]++
	s.outcomeMu.Unlock()
}

func finalStage(outcome string) string {
	switch outcome {
	case store.OutcomeResolved:
		return "RESOLVED"
	case store.OutcomeNeedsReview:
		return "NEEDS_REVIEW"
	case store.OutcomeFailed:
		return "FAILED"
	default:
		return ""
	}
}

func toAttemptRecords(attempts []extract.Attempt) []store.AttemptRecord {
	records := make([]store.AttemptRecord, 0, len(attempts))
	for _, a := range attempts {
		records = append(records, store.AttemptRecord{
			Stage:      a.Stage,
			CostRank:   a.CostRank,
			Confidence: a.Confidence,
			ElapsedMS:  a.Elapsed.Milliseconds(),
			Outcome:    string(a.Outcome),
			Err:        a.Err,
		})
	}
	return records
}

func toConsensusMeta(res consensus.Result) *store.ConsensusMeta {
	ballots := make([]store.BallotRecord, 0, len(res.Ballots))
	for _, b := range res.Ballots {
		ballots = append(ballots, store.BallotRecord{
			VoterID:   b.VoterID,
			Category:  b.Category,
			ItemCount: b.ItemCount,
		})
	}
	return &store.ConsensusMeta{
		Agreeing:  res.Agreeing,
		Strength:  res.Strength,
		Ballots:   ballots,
		ItemCount: res.ItemCount,
	}
}
