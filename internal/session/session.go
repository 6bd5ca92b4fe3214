// Package session owns per-session shared state, interaction history,
// and lifecycle. Mutating operations on one session are serialized by a
// per-session lock; unrelated sessions never contend.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"conclave/pkg/models"
)

// ErrSessionNotFound reports an operation against an unknown or
// already cleaned-up session.
var ErrSessionNotFound = errors.New("session not found")

// ErrKeyNotFound reports a shared-context read for a key with no
// contributions.
var ErrKeyNotFound = errors.New("shared context key not found")

// DelegationStateError reports a delegation state-machine violation:
// registering a duplicate key or completing an unregistered one.
type DelegationStateError struct {
	SessionID string
	Key       string
	Op        string
}

func (e *DelegationStateError) Error() string {
	return fmt.Sprintf("delegation %s in session %s: invalid %s", e.Key, e.SessionID, e.Op)
}

// Interaction is one append-only audit log entry for a session.
type Interaction struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id"`
	Action    string        `json:"action"`
	Result    string        `json:"result"`
	Success   bool          `json:"success"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// DelegationState tracks a delegation record's lifecycle.
type DelegationState string

const (
	DelegationPending   DelegationState = "pending"
	DelegationCompleted DelegationState = "completed"
)

// DelegationRecord captures which strategy and workers were chosen for
// one delegated operation, plus its eventual outcome.
type DelegationRecord struct {
	Key               string          `json:"key"`
	Strategy          models.Strategy `json:"strategy"`
	Workers           []string        `json:"workers"`
	Complexity        float64         `json:"complexity"`
	EstimatedDuration time.Duration   `json:"estimated_duration"`
	State             DelegationState `json:"state"`
	Result            string          `json:"result,omitempty"`
	RegisteredAt      time.Time       `json:"registered_at"`
	CompletedAt       time.Time       `json:"completed_at,omitempty"`
}

// Status is the externally visible summary of a session.
type Status struct {
	Active     bool      `json:"active"`
	AgentCount int       `json:"agent_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// session is the in-memory record for one session id. All fields after
// the lock are guarded by it.
type session struct {
	mu sync.Mutex

	id           string
	createdAt    time.Time
	lastActivity time.Time
	active       bool

	context      map[string][]models.Contribution
	interactions []Interaction
	delegations  map[string]*DelegationRecord
}

// distinctContributors counts the distinct contributor ids in a
// contribution list.
func distinctContributors(contributions []models.Contribution) int {
	ids := make(map[string]struct{}, len(contributions))
	for _, c := range contributions {
		ids[c.ContributorID] = struct{}{}
	}
	return len(ids)
}

// agentCount returns the number of distinct contributor ids seen
// across interactions and delegations. Caller holds the lock.
func (s *session) agentCount() int {
	agents := make(map[string]struct{})
	for _, in := range s.interactions {
		agents[in.AgentID] = struct{}{}
	}
	for _, d := range s.delegations {
		for _, w := range d.Workers {
			agents[w] = struct{}{}
		}
	}
	return len(agents)
}

// touch records activity for idle-reap accounting. Caller holds the
// lock.
func (s *session) touch(now time.Time) {
	s.lastActivity = now
}

// evict drops the bulky per-session state, leaving an inactive
// tombstone. Caller holds the lock.
func (s *session) evict() {
	s.active = false
	s.context = nil
	s.interactions = nil
	s.delegations = nil
}
