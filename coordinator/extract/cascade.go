// Package extract runs the cascading extraction pipeline: an ordered list
// of stages from cheapest to most expensive, stopping as soon as one
// produces text at or above its stop threshold. Cheap stages resolve most
// documents, so the expensive ones only see the hard residue.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/papermill-io/papermill/coordinator/observability"
	"github.com/papermill-io/papermill/coordinator/registry"
)

// Outcome classifies one stage attempt.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeLowConfidence Outcome = "low_confidence"
	OutcomeError         Outcome = "error"
)

// Stage configures one extraction stage.
type Stage struct {
	// Capability names the remote capability invoked for this stage,
	// e.g. "text-layer" or "ocr-accurate".
	Capability string

	// CostRank orders stages cheapest first. Stages are invoked in
	// ascending cost order and never re-ordered.
	CostRank int

	// StopThreshold is the confidence in [0,100] at which the cascade
	// halts with this stage's result.
	StopThreshold float64

	// Timeout bounds a single invocation of this stage.
	Timeout time.Duration
}

// Attempt records one stage invocation. The attempt sequence for a
// document is append-only and strictly ordered by cost rank.
type Attempt struct {
	Stage      string        `json:"stage"`
	CostRank   int           `json:"cost_rank"`
	Text       string        `json:"text,omitempty"`
	Confidence float64       `json:"confidence"`
	Elapsed    time.Duration `json:"elapsed"`
	Outcome    Outcome       `json:"outcome"`
	Err        string        `json:"error,omitempty"`
}

// Result is a stage invocation's raw output.
type Result struct {
	Text       string
	Confidence float64
}

// Invoker dispatches a capability call to some admitted worker node.
// A transport failure surfaces as an error; the cascade treats it as a
// zero-confidence attempt, never a crash.
type Invoker interface {
	Invoke(ctx context.Context, capability string, content []byte, timeout time.Duration) (Result, error)
}

// ErrAllStagesFailed reports that every stage ended in a transport error,
// so no confidence judgment was possible. Callers retry these.
var ErrAllStagesFailed = errors.New("extract: all stages failed with transport errors")

// ErrBelowFloor reports that the cascade exhausted all stages and the best
// confidence seen is below the acceptable floor. Callers must not retry:
// the same stages produce the same answer.
var ErrBelowFloor = errors.New("extract: best confidence below acceptable floor")

// Cascade runs the configured stages against document content.
type Cascade struct {
	stages  []Stage
	floor   float64
	invoker Invoker
}

// New creates a Cascade. Stages must already be sorted by ascending cost
// rank; NewFromConfig in the coordinator validates and sorts them.
func New(stages []Stage, floor float64, invoker Invoker) *Cascade {
	return &Cascade{stages: stages, floor: floor, invoker: invoker}
}

// Extract runs stages in cost order until one meets its stop threshold or
// the list is exhausted. On exhaustion the best attempt by confidence wins,
// which is not necessarily the last one. It returns the full append-only
// attempt sequence alongside the winning attempt.
func (c *Cascade) Extract(ctx context.Context, docID string, content []byte) ([]Attempt, Attempt, error) {
	attempts := make([]Attempt, 0, len(c.stages))
	best := Attempt{Confidence: -1}
	transportOnly := true

	for _, stage := range c.stages {
		if err := ctx.Err(); err != nil {
			return attempts, best, err
		}

		start := time.Now()
		res, err := c.invoker.Invoke(ctx, stage.Capability, content, stage.Timeout)
		elapsed := time.Since(start)
		observability.StageLatency.WithLabelValues(stage.Capability).Observe(elapsed.Seconds())

		attempt := Attempt{
			Stage:    stage.Capability,
			CostRank: stage.CostRank,
			Elapsed:  elapsed,
		}
		if err != nil {
			// Cancellation is the caller's signal, not a stage outcome.
			if errors.Is(err, context.Canceled) {
				return attempts, best, err
			}
			// No admitted slot for this stage: stop rather than skipping
			// ahead to a more expensive stage. The document stays queued
			// until the cheap stage has capacity again.
			if errors.Is(err, registry.ErrNoSlot) {
				return attempts, best, err
			}
			attempt.Outcome = OutcomeError
			attempt.Err = err.Error()
			attempts = append(attempts, attempt)
			observability.StageInvocations.WithLabelValues(stage.Capability, string(OutcomeError)).Inc()
			log.Printf("extract: doc %s stage %s failed after %v: %v", docID, stage.Capability, elapsed, err)
			continue
		}

		transportOnly = false
		attempt.Text = res.Text
		attempt.Confidence = res.Confidence
		if res.Confidence >= stage.StopThreshold {
			attempt.Outcome = OutcomeSuccess
		} else {
			attempt.Outcome = OutcomeLowConfidence
		}
		attempts = append(attempts, attempt)
		observability.StageInvocations.WithLabelValues(stage.Capability, string(attempt.Outcome)).Inc()

		if attempt.Confidence > best.Confidence {
			best = attempt
		}
		if attempt.Outcome == OutcomeSuccess {
			return attempts, attempt, nil
		}
	}

	if transportOnly {
		return attempts, Attempt{}, ErrAllStagesFailed
	}
	if best.Confidence < c.floor {
		return attempts, best, fmt.Errorf("%w: best %.1f, floor %.1f", ErrBelowFloor, best.Confidence, c.floor)
	}
	return attempts, best, nil
}

// Floor returns the configured minimum acceptable confidence.
func (c *Cascade) Floor() float64 {
	return c.floor
}
