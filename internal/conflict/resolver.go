// Package conflict collapses competing shared-context contributions
// into a single resolved value under a named policy.
package conflict

import (
	"fmt"
	"sort"

	"github.com/google/go-cmp/cmp"

	"conclave/pkg/models"
)

// Policy names a resolution rule. An unrecognized policy is a
// configuration error, never silently defaulted.
type Policy string

const (
	// PolicyMajorityVote picks the most frequent value by deep
	// structural equality, breaking ties by most recent timestamp.
	PolicyMajorityVote Policy = "majority_vote"
	// PolicyLatestWins picks the most recent contribution.
	PolicyLatestWins Policy = "latest_wins"
	// PolicyWeighted picks the value with the highest cumulative
	// contributor trust weight, falling back to latest_wins on ties.
	PolicyWeighted Policy = "weighted"
)

// Valid reports whether the policy names a known resolution rule.
func (p Policy) Valid() bool {
	switch p {
	case PolicyMajorityVote, PolicyLatestWins, PolicyWeighted:
		return true
	}
	return false
}

// PolicyError reports an unrecognized policy name.
type PolicyError struct {
	Policy Policy
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("unrecognized conflict policy %q", e.Policy)
}

// Resolution is the outcome of resolving a set of contributions.
type Resolution struct {
	// Value is the winning value.
	Value models.Value `json:"value"`
	// PolicyApplied is the policy that produced the value.
	PolicyApplied Policy `json:"policy_applied"`
	// TieBroken reports whether the primary rule tied and a
	// tie-break decided the winner.
	TieBroken bool `json:"tie_broken"`
}

// TrustSource supplies per-contributor trust weights for the weighted
// policy. Unknown contributors weigh 1.0.
type TrustSource interface {
	Trust(id string) float64
}

// Resolver applies conflict policies to contribution sets.
type Resolver struct {
	trust TrustSource
}

// NewResolver builds a resolver. trust may be nil; the weighted policy
// then treats every contributor equally.
func NewResolver(trust TrustSource) *Resolver {
	return &Resolver{trust: trust}
}

// Resolve collapses contributions under the given policy. Contributions
// must be non-empty; data-level conflicts always resolve to some value,
// only an unknown policy fails.
func (r *Resolver) Resolve(contributions []models.Contribution, policy Policy) (Resolution, error) {
	if !policy.Valid() {
		return Resolution{}, &PolicyError{Policy: policy}
	}
	if len(contributions) == 0 {
		return Resolution{}, fmt.Errorf("resolve %s: no contributions", policy)
	}
	if len(contributions) == 1 {
		return Resolution{Value: contributions[0].Value, PolicyApplied: policy}, nil
	}

	switch policy {
	case PolicyMajorityVote:
		return r.majorityVote(contributions), nil
	case PolicyLatestWins:
		return Resolution{
			Value:         latest(contributions).Value,
			PolicyApplied: PolicyLatestWins,
		}, nil
	default:
		return r.weighted(contributions), nil
	}
}

// group buckets contributions sharing a deep-structurally equal value.
type group struct {
	value  models.Value
	count  int
	weight float64
	latest models.Contribution
}

// groupBy buckets contributions by structural value equality.
func (r *Resolver) groupBy(contributions []models.Contribution) []*group {
	var groups []*group
	for _, c := range contributions {
		var g *group
		for _, cand := range groups {
			if cmp.Equal(cand.value, c.Value) {
				g = cand
				break
			}
		}
		if g == nil {
			g = &group{value: c.Value, latest: c}
			groups = append(groups, g)
		}
		g.count++
		g.weight += r.trustFor(c.ContributorID)
		if c.Timestamp.After(g.latest.Timestamp) {
			g.latest = c
		}
	}
	return groups
}

func (r *Resolver) majorityVote(contributions []models.Contribution) Resolution {
	groups := r.groupBy(contributions)
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].count != groups[j].count {
			return groups[i].count > groups[j].count
		}
		return groups[i].latest.Timestamp.After(groups[j].latest.Timestamp)
	})

	tie := len(groups) > 1 && groups[0].count == groups[1].count
	return Resolution{
		Value:         groups[0].value,
		PolicyApplied: PolicyMajorityVote,
		TieBroken:     tie,
	}
}

func (r *Resolver) weighted(contributions []models.Contribution) Resolution {
	groups := r.groupBy(contributions)
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].weight != groups[j].weight {
			return groups[i].weight > groups[j].weight
		}
		return groups[i].latest.Timestamp.After(groups[j].latest.Timestamp)
	})

	tie := len(groups) > 1 && groups[0].weight == groups[1].weight
	return Resolution{
		Value:         groups[0].value,
		PolicyApplied: PolicyWeighted,
		TieBroken:     tie,
	}
}

func (r *Resolver) trustFor(id string) float64 {
	if r.trust == nil {
		return 1.0
	}
	return r.trust.Trust(id)
}

// latest returns the contribution with the most recent timestamp,
// preferring the later submission on equal timestamps.
func latest(contributions []models.Contribution) models.Contribution {
	best := contributions[0]
	for _, c := range contributions[1:] {
		if !c.Timestamp.Before(best.Timestamp) {
			best = c
		}
	}
	return best
}
