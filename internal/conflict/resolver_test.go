package conflict

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"conclave/pkg/models"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func contrib(v any, id string, offset time.Duration) models.Contribution {
	return models.Contribution{
		Value:         models.PrimitiveValue(v),
		ContributorID: id,
		Timestamp:     base.Add(offset),
	}
}

func objContrib(m map[string]any, id string, offset time.Duration) models.Contribution {
	return models.Contribution{
		Value:         models.ObjectValue(m),
		ContributorID: id,
		Timestamp:     base.Add(offset),
	}
}

// fixedTrust maps contributor ids to trust weights, defaulting to 1.0.
type fixedTrust map[string]float64

func (t fixedTrust) Trust(id string) float64 {
	if w, ok := t[id]; ok {
		return w
	}
	return 1.0
}

func TestResolveMajorityVote(t *testing.T) {
	r := NewResolver(nil)
	res, err := r.Resolve([]models.Contribution{
		contrib(true, "w1", 0),
		contrib(false, "w2", time.Second),
		contrib(true, "w3", 2*time.Second),
	}, PolicyMajorityVote)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Value.Data != true {
		t.Errorf("value = %v, want true", res.Value.Data)
	}
	if res.TieBroken {
		t.Error("majority was clear, no tie-break expected")
	}
	if res.PolicyApplied != PolicyMajorityVote {
		t.Errorf("policy = %s", res.PolicyApplied)
	}
}

func TestResolveMajorityVoteDeepEquality(t *testing.T) {
	// Structurally equal objects from different contributors count as
	// the same vote.
	r := NewResolver(nil)
	res, err := r.Resolve([]models.Contribution{
		objContrib(map[string]any{"verdict": "pass", "score": 9}, "w1", 0),
		objContrib(map[string]any{"verdict": "fail"}, "w2", time.Second),
		objContrib(map[string]any{"verdict": "pass", "score": 9}, "w3", 2*time.Second),
	}, PolicyMajorityVote)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	want := models.ObjectValue(map[string]any{"verdict": "pass", "score": 9})
	if diff := cmp.Diff(want, res.Value); diff != "" {
		t.Errorf("value mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMajorityVoteTie(t *testing.T) {
	// Even split: the value with the most recent contribution wins and
	// the resolution is marked tie-broken.
	r := NewResolver(nil)
	res, err := r.Resolve([]models.Contribution{
		contrib("alpha", "w1", 0),
		contrib("beta", "w2", time.Second),
	}, PolicyMajorityVote)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Value.Data != "beta" {
		t.Errorf("value = %v, want beta", res.Value.Data)
	}
	if !res.TieBroken {
		t.Error("expected tie-break")
	}
}

func TestResolveLatestWins(t *testing.T) {
	// Frequency is ignored: the single most recent contribution wins.
	r := NewResolver(nil)
	res, err := r.Resolve([]models.Contribution{
		contrib("old", "w1", 0),
		contrib("old", "w2", time.Second),
		contrib("new", "w3", 5*time.Second),
	}, PolicyLatestWins)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Value.Data != "new" {
		t.Errorf("value = %v, want new", res.Value.Data)
	}
	if res.TieBroken {
		t.Error("latest_wins never tie-breaks")
	}
}

func TestResolveWeighted(t *testing.T) {
	// One high-trust contributor outweighs two low-trust ones.
	r := NewResolver(fixedTrust{"expert": 3.0, "w1": 1.0, "w2": 1.0})
	res, err := r.Resolve([]models.Contribution{
		contrib("consensus", "w1", 0),
		contrib("consensus", "w2", time.Second),
		contrib("dissent", "expert", 2*time.Second),
	}, PolicyWeighted)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Value.Data != "dissent" {
		t.Errorf("value = %v, want dissent", res.Value.Data)
	}
	if res.TieBroken {
		t.Error("weights were unequal, no tie-break expected")
	}
}

func TestResolveWeightedTieFallsBackToLatest(t *testing.T) {
	r := NewResolver(fixedTrust{})
	res, err := r.Resolve([]models.Contribution{
		contrib("first", "w1", 0),
		contrib("second", "w2", time.Second),
	}, PolicyWeighted)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Value.Data != "second" {
		t.Errorf("value = %v, want second", res.Value.Data)
	}
	if !res.TieBroken {
		t.Error("expected tie-break on equal weights")
	}
}

func TestResolveWeightedNilTrustSource(t *testing.T) {
	// Without a trust source every contributor weighs the same, so the
	// majority's cumulative weight wins.
	r := NewResolver(nil)
	res, err := r.Resolve([]models.Contribution{
		contrib("popular", "w1", 0),
		contrib("popular", "w2", time.Second),
		contrib("lone", "w3", 2*time.Second),
	}, PolicyWeighted)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Value.Data != "popular" {
		t.Errorf("value = %v, want popular", res.Value.Data)
	}
}

func TestResolveSingleContribution(t *testing.T) {
	r := NewResolver(nil)
	res, err := r.Resolve([]models.Contribution{
		contrib(42, "w1", 0),
	}, PolicyMajorityVote)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Value.Data != 42 {
		t.Errorf("value = %v, want 42", res.Value.Data)
	}
}

func TestResolveUnknownPolicy(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Resolve([]models.Contribution{contrib(1, "w1", 0)}, Policy("consensus-ish"))
	var perr *PolicyError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PolicyError, got %v", err)
	}
	if perr.Policy != "consensus-ish" {
		t.Errorf("policy = %q", perr.Policy)
	}
}

func TestResolveEmptyContributions(t *testing.T) {
	r := NewResolver(nil)
	if _, err := r.Resolve(nil, PolicyMajorityVote); err == nil {
		t.Fatal("expected error for empty contributions")
	}
}

func TestPolicyValid(t *testing.T) {
	for _, p := range []Policy{PolicyMajorityVote, PolicyLatestWins, PolicyWeighted} {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Policy("majority").Valid() {
		t.Error("partial name should be invalid")
	}
}
