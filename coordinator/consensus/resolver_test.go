package consensus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// scriptedCaller replies per voter id.
type scriptedCaller struct {
	ballots map[string]Ballot
	errs    map[string]error
	delays  map[string]time.Duration
}

func (s *scriptedCaller) Call(ctx context.Context, voter Voter, text, targetCategory string) (Ballot, error) {
	if d, ok := s.delays[voter.ID]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return Ballot{VoterID: voter.ID}, ctx.Err()
		}
	}
	if err, ok := s.errs[voter.ID]; ok {
		return Ballot{VoterID: voter.ID}, err
	}
	return s.ballots[voter.ID], nil
}

func threeVoters() []Voter {
	return []Voter{
		{ID: "model-a", Capability: "classify-a", Primary: true},
		{ID: "model-b", Capability: "classify-b"},
		{ID: "model-c", Capability: "classify-c"},
	}
}

func TestMajorityWins(t *testing.T) {
	caller := &scriptedCaller{ballots: map[string]Ballot{
		"model-a": {Category: "invoice", ItemCount: 3},
		"model-b": {Category: "invoice", ItemCount: 3},
		"model-c": {Category: "receipt", ItemCount: 1},
	}}
	r := New(threeVoters(), caller, Config{MinAgreement: 0.5})

	res, err := r.Resolve(context.Background(), "d1", "text", "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Category != "invoice" || res.ItemCount != 3 {
		t.Errorf("winner = %s/%d, want invoice/3", res.Category, res.ItemCount)
	}
	if res.Strength != 2.0/3.0 {
		t.Errorf("strength = %v, want 2/3", res.Strength)
	}
	if diff := cmp.Diff([]string{"model-a", "model-b"}, res.Agreeing); diff != "" {
		t.Errorf("agreeing mismatch (-want +got):\n%s", diff)
	}
	if res.NeedsReview {
		t.Error("2/3 agreement must not need review at 0.5 minimum")
	}
}

func TestTimedOutVoterShrinksDenominator(t *testing.T) {
	caller := &scriptedCaller{
		ballots: map[string]Ballot{
			"model-a": {Category: "invoice", ItemCount: 2},
			"model-b": {Category: "invoice", ItemCount: 2},
		},
		delays: map[string]time.Duration{"model-c": time.Second},
	}
	r := New(threeVoters(), caller, Config{VoterTimeout: 20 * time.Millisecond, MinAgreement: 0.5})

	start := time.Now()
	res, err := r.Resolve(context.Background(), "d1", "text", "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("resolution took %v, a slow voter must not delay the result", elapsed)
	}
	// Two ballots received, both agree: strength is 1.0, not 2/3.
	if res.Strength != 1.0 {
		t.Errorf("strength = %v, want 1.0 over received ballots", res.Strength)
	}
	if len(res.Ballots) != 2 {
		t.Errorf("ballots = %d, want 2", len(res.Ballots))
	}
}

func TestTiePrefersPrimaryGroup(t *testing.T) {
	caller := &scriptedCaller{ballots: map[string]Ballot{
		"model-a": {Category: "invoice", ItemCount: 5},
		"model-b": {Category: "receipt", ItemCount: 5},
	}}
	voters := []Voter{
		{ID: "model-a", Capability: "classify-a", Primary: true},
		{ID: "model-b", Capability: "classify-b"},
	}
	res, err := New(voters, caller, Config{MinAgreement: 0.6}).
		Resolve(context.Background(), "d1", "text", "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Category != "invoice" {
		t.Errorf("category = %s, the primary voter's group must win a tie", res.Category)
	}
	if !res.NeedsReview {
		t.Error("1-of-2 split is below the 0.6 minimum and must be flagged")
	}
}

func TestTieWithoutPrimaryPrefersCountNearMean(t *testing.T) {
	// Three singleton groups; none contains the primary (no primary set).
	// Mean count = (2+9+4)/3 = 5; closest is 4.
	caller := &scriptedCaller{ballots: map[string]Ballot{
		"model-a": {Category: "invoice", ItemCount: 2},
		"model-b": {Category: "invoice", ItemCount: 9},
		"model-c": {Category: "invoice", ItemCount: 4},
	}}
	voters := []Voter{
		{ID: "model-a", Capability: "classify-a"},
		{ID: "model-b", Capability: "classify-b"},
		{ID: "model-c", Capability: "classify-c"},
	}
	res, err := New(voters, caller, Config{MinAgreement: 0.5}).
		Resolve(context.Background(), "d1", "text", "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if res.ItemCount != 4 {
		t.Errorf("item count = %d, want 4 (closest to the vote mean)", res.ItemCount)
	}
}

func TestPrimaryBallotCarriesFields(t *testing.T) {
	caller := &scriptedCaller{ballots: map[string]Ballot{
		"model-a": {Category: "invoice", ItemCount: 3, Fields: map[string]string{"total": "120.50"}},
		"model-b": {Category: "invoice", ItemCount: 3, Fields: map[string]string{"total": "999.99"}},
		"model-c": {Category: "receipt", ItemCount: 1},
	}}
	res, err := New(threeVoters(), caller, Config{MinAgreement: 0.5}).
		Resolve(context.Background(), "d1", "text", "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Fields["total"] != "120.50" {
		t.Errorf("fields = %v, want the primary voter's values", res.Fields)
	}
}

func TestAllVotersFailing(t *testing.T) {
	caller := &scriptedCaller{errs: map[string]error{
		"model-a": errors.New("refused"),
		"model-b": errors.New("refused"),
		"model-c": errors.New("refused"),
	}}
	_, err := New(threeVoters(), caller, Config{MinAgreement: 0.5}).
		Resolve(context.Background(), "d1", "text", "invoice")
	if !errors.Is(err, ErrNoBallots) {
		t.Fatalf("err = %v, want ErrNoBallots", err)
	}
}

func TestCancelledResolveKeepsCancellationIdentity(t *testing.T) {
	caller := &scriptedCaller{delays: map[string]time.Duration{
		"model-a": time.Second,
		"model-b": time.Second,
		"model-c": time.Second,
	}}
	r := New(threeVoters(), caller, Config{VoterTimeout: 5 * time.Second, MinAgreement: 0.5})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := r.Resolve(ctx, "d1", "text", "invoice")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled surfaced to the caller", err)
	}
	if errors.Is(err, ErrNoBallots) {
		t.Error("a cancelled resolve must not be reported as a voter outage")
	}
}

func TestSingleBallotFullStrength(t *testing.T) {
	caller := &scriptedCaller{
		ballots: map[string]Ballot{"model-c": {Category: "receipt", ItemCount: 1}},
		errs: map[string]error{
			"model-a": errors.New("refused"),
			"model-b": errors.New("refused"),
		},
	}
	res, err := New(threeVoters(), caller, Config{MinAgreement: 0.5}).
		Resolve(context.Background(), "d1", "text", "invoice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Strength != 1.0 {
		t.Errorf("strength = %v, want 1.0 (sole ballot agrees with itself)", res.Strength)
	}
	if res.Category != "receipt" {
		t.Errorf("category = %s, want receipt", res.Category)
	}
}

func TestNoVotersConfigured(t *testing.T) {
	r := New(nil, &scriptedCaller{}, Config{})
	if _, err := r.Resolve(context.Background(), "d1", "text", "invoice"); err == nil {
		t.Fatal("expected an error with no voters configured")
	}
}
