// Package consensus resolves disagreement between independent
// classification models. Requests fan out concurrently with per-voter
// timeouts into a shared results channel; the reduction never blocks on
// the slowest voter beyond its own deadline.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"time"

	"github.com/papermill-io/papermill/coordinator/observability"
)

// Voter identifies one classification capability participating in a vote.
type Voter struct {
	// ID is the unique model identifier carried on each ballot.
	ID string

	// Capability names the remote classification capability to invoke.
	Capability string

	// Primary marks the configured highest-trust model, used to break
	// ties between equal-size ballot groups.
	Primary bool
}

// Ballot is one voter's proposal. Ballots exist only for the duration of a
// single resolution.
type Ballot struct {
	VoterID   string            `json:"voter_id"`
	Category  string            `json:"category"`
	ItemCount int               `json:"item_count"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Result is the reduced outcome of one resolution, persisted alongside the
// document's final record for auditability.
type Result struct {
	Category    string            `json:"category"`
	ItemCount   int               `json:"item_count"`
	Fields      map[string]string `json:"fields,omitempty"`
	Agreeing    []string          `json:"agreeing"`
	Strength    float64           `json:"strength"`
	Ballots     []Ballot          `json:"ballots"`
	NeedsReview bool              `json:"needs_review"`
}

// Caller dispatches one classification request to a voter's capability.
type Caller interface {
	Call(ctx context.Context, voter Voter, text, targetCategory string) (Ballot, error)
}

// ErrNoBallots reports that no voter returned a ballot at all, which is a
// transport-class failure: classification was never judged, only unreachable.
var ErrNoBallots = errors.New("consensus: no ballots received from any voter")

// Config holds resolution tuning.
type Config struct {
	// VoterTimeout bounds each voter independently. A voter that misses
	// it contributes no ballot and does not delay the others.
	VoterTimeout time.Duration

	// MinAgreement is the agreement strength below which the result is
	// flagged for manual review rather than silently accepted.
	MinAgreement float64
}

// DefaultConfig returns the resolution defaults.
func DefaultConfig() Config {
	return Config{
		VoterTimeout: 30 * time.Second,
		MinAgreement: 0.5,
	}
}

// Resolver reduces independent classification votes to a single result.
type Resolver struct {
	voters []Voter
	caller Caller
	cfg    Config
}

// New creates a Resolver over a fixed voter set.
func New(voters []Voter, caller Caller, cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.VoterTimeout <= 0 {
		cfg.VoterTimeout = def.VoterTimeout
	}
	if cfg.MinAgreement <= 0 {
		cfg.MinAgreement = def.MinAgreement
	}
	return &Resolver{voters: voters, caller: caller, cfg: cfg}
}

// Voters returns the configured voter set.
func (r *Resolver) Voters() []Voter {
	return r.voters
}

type voterReply struct {
	ballot Ballot
	err    error
}

// Resolve queries every voter concurrently and reduces the ballots.
//
// Reduction groups ballots by (category, item count); the largest group
// wins. Ties prefer the group containing the primary voter, then the group
// whose item count lies closest to the mean of all ballots (the lowest-
// variance group relative to the full vote). Agreement strength is always
// recomputed as majority size over ballots received, never cached: a voter
// that errored shrinks the denominator, not the numerator.
func (r *Resolver) Resolve(ctx context.Context, docID, text, targetCategory string) (Result, error) {
	if len(r.voters) == 0 {
		return Result{}, errors.New("consensus: no voters configured")
	}

	replies := make(chan voterReply, len(r.voters))
	for _, v := range r.voters {
		voter := v
		go func() {
			voterCtx, cancel := context.WithTimeout(ctx, r.cfg.VoterTimeout)
			defer cancel()
			ballot, err := r.caller.Call(voterCtx, voter, text, targetCategory)
			if err == nil {
				ballot.VoterID = voter.ID
			}
			replies <- voterReply{ballot: ballot, err: err}
		}()
	}

	ballots := make([]Ballot, 0, len(r.voters))
	for range r.voters {
		reply := <-replies
		if reply.err != nil {
			outcome := "error"
			if errors.Is(reply.err, context.DeadlineExceeded) {
				outcome = "timeout"
			}
			observability.ConsensusBallots.WithLabelValues(reply.ballot.VoterID, outcome).Inc()
			log.Printf("consensus: doc %s voter dropped: %v", docID, reply.err)
			continue
		}
		observability.ConsensusBallots.WithLabelValues(reply.ballot.VoterID, "ballot").Inc()
		ballots = append(ballots, reply.ballot)
	}

	if len(ballots) == 0 {
		// An empty ballot box during shutdown is cancellation, not a
		// voter outage; keep the identity so callers can requeue.
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("consensus: %w", err)
		}
		return Result{}, fmt.Errorf("%w: %d voters dispatched", ErrNoBallots, len(r.voters))
	}

	result := r.reduce(ballots)
	observability.ConsensusAgreement.Observe(result.Strength)
	if result.NeedsReview {
		log.Printf("consensus: doc %s agreement %.2f below minimum %.2f, flagged for review",
			docID, result.Strength, r.cfg.MinAgreement)
	}
	return result, nil
}

type groupKey struct {
	category  string
	itemCount int
}

func (r *Resolver) reduce(ballots []Ballot) Result {
	groups := make(map[groupKey][]Ballot)
	var meanCount float64
	for _, b := range ballots {
		key := groupKey{category: b.Category, itemCount: b.ItemCount}
		groups[key] = append(groups[key], b)
		meanCount += float64(b.ItemCount)
	}
	meanCount /= float64(len(ballots))

	primary := make(map[string]bool)
	for _, v := range r.voters {
		if v.Primary {
			primary[v.ID] = true
		}
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		gi, gj := groups[keys[i]], groups[keys[j]]
		if len(gi) != len(gj) {
			return len(gi) > len(gj)
		}
		pi, pj := containsPrimary(gi, primary), containsPrimary(gj, primary)
		if pi != pj {
			return pi
		}
		di := math.Abs(float64(keys[i].itemCount) - meanCount)
		dj := math.Abs(float64(keys[j].itemCount) - meanCount)
		if di != dj {
			return di < dj
		}
		// Deterministic final ordering.
		if keys[i].category != keys[j].category {
			return keys[i].category < keys[j].category
		}
		return keys[i].itemCount < keys[j].itemCount
	})

	winner := keys[0]
	majority := groups[winner]
	agreeing := make([]string, 0, len(majority))
	chosen := majority[0]
	for _, b := range majority {
		agreeing = append(agreeing, b.VoterID)
		if primary[b.VoterID] {
			chosen = b
		}
	}
	sort.Strings(agreeing)

	strength := float64(len(majority)) / float64(len(ballots))
	return Result{
		Category:    winner.category,
		ItemCount:   winner.itemCount,
		Fields:      chosen.Fields,
		Agreeing:    agreeing,
		Strength:    strength,
		Ballots:     ballots,
		NeedsReview: strength < r.cfg.MinAgreement,
	}
}

func containsPrimary(group []Ballot, primary map[string]bool) bool {
	for _, b := range group {
		if primary[b.VoterID] {
			return true
		}
	}
	return false
}
