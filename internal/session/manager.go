package session

import (
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"conclave/internal/conflict"
	"conclave/pkg/models"
)

const (
	// DefaultIdleTimeout is how long a session may sit without
	// activity before the reaper evicts it.
	DefaultIdleTimeout = 300 * time.Second
	// DefaultReapInterval is how often the reaper sweeps.
	DefaultReapInterval = 30 * time.Second
)

// HistoryStore receives best-effort copies of session activity for
// diagnostics and reporting. Implementations must tolerate concurrent
// calls. A nil store disables persistence.
type HistoryStore interface {
	SaveSession(id string, createdAt time.Time) error
	SaveInteraction(sessionID string, in Interaction) error
	SaveDelegation(sessionID string, d DelegationRecord) error
}

// Config carries the manager's tunables. Zero values fall back to the
// package defaults.
type Config struct {
	IdleTimeout   time.Duration
	ReapInterval  time.Duration
	DefaultPolicy conflict.Policy

	// OnReap, when set, is called with each session id the idle
	// reaper removes.
	OnReap func(id string)
}

// Manager is the session store. One Manager serves the whole process;
// construct it with NewManager and release its reaper with Close.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*session

	resolver      *conflict.Resolver
	defaultPolicy conflict.Policy
	store         HistoryStore

	idleTimeout  time.Duration
	reapInterval time.Duration
	onReap       func(string)

	auditFailures atomic.Uint64
	auditWG       sync.WaitGroup
	now           func() time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewManager builds a session manager and starts its idle reaper.
// resolver decides multi-contributor shared-context reads; store may
// be nil.
func NewManager(cfg Config, resolver *conflict.Resolver, store HistoryStore) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = DefaultReapInterval
	}
	if !cfg.DefaultPolicy.Valid() {
		cfg.DefaultPolicy = conflict.PolicyMajorityVote
	}

	m := &Manager{
		sessions:      make(map[string]*session),
		resolver:      resolver,
		defaultPolicy: cfg.DefaultPolicy,
		store:         store,
		idleTimeout:   cfg.IdleTimeout,
		reapInterval:  cfg.ReapInterval,
		onReap:        cfg.OnReap,
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.reapLoop()
	return m
}

// Close stops the idle reaper and waits for in-flight diagnostics
// writes to drain. Safe to call more than once.
func (m *Manager) Close() {
	m.stopOnce.Do(func() {
		close(m.stop)
		<-m.done
		m.auditWG.Wait()
	})
}

// Initialize creates the session if needed and returns its status.
// Re-initializing an active session returns it unchanged; re-using the
// id of a cleaned-up session starts a fresh one.
func (m *Manager) Initialize(id string) Status {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		s.mu.Lock()
		if s.active {
			status := Status{Active: true, AgentCount: s.agentCount(), CreatedAt: s.createdAt}
			s.mu.Unlock()
			m.mu.Unlock()
			return status
		}
		s.mu.Unlock()
	}

	now := m.now()
	s = &session{
		id:           id,
		createdAt:    now,
		lastActivity: now,
		active:       true,
		context:      make(map[string][]models.Contribution),
		delegations:  make(map[string]*DelegationRecord),
	}
	m.sessions[id] = s
	m.mu.Unlock()

	if m.store != nil {
		m.auditWG.Add(1)
		go func() {
			defer m.auditWG.Done()
			m.audit(m.store.SaveSession(id, now))
		}()
	}
	return Status{Active: true, CreatedAt: now}
}

// ShareContext appends a contribution for key. Prior contributions are
// never overwritten. Writes against a cleaned-up session are refused
// so late task results cannot leak back in.
func (m *Manager) ShareContext(sessionID, key string, value models.Value, contributorID string) error {
	s, err := m.live(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrSessionNotFound
	}
	s.context[key] = append(s.context[key], models.Contribution{
		Value:         value,
		ContributorID: contributorID,
		Timestamp:     m.now(),
	})
	s.touch(m.now())
	return nil
}

// GetSharedContext reads the value for key. A single contributor's
// value is returned as-is; multiple contributors are collapsed by the
// resolver under the manager's default policy.
func (m *Manager) GetSharedContext(sessionID, key string) (models.Value, error) {
	return m.ResolveConflict(sessionID, key, m.defaultPolicy)
}

// ResolveConflict reads the value for key under an explicit policy.
func (m *Manager) ResolveConflict(sessionID, key string, policy conflict.Policy) (models.Value, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return models.Value{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return models.Value{}, ErrSessionNotFound
	}

	contributions := s.context[key]
	if len(contributions) == 0 {
		return models.Value{}, ErrKeyNotFound
	}
	if distinctContributors(contributions) == 1 {
		return contributions[len(contributions)-1].Value, nil
	}

	res, err := m.resolver.Resolve(contributions, policy)
	if err != nil {
		return models.Value{}, err
	}
	return res.Value, nil
}

// RecordInteraction appends an audit log entry. Storage trouble never
// propagates to the caller; it is counted and forwarded to the
// diagnostics store only.
func (m *Manager) RecordInteraction(sessionID, agentID string, action, result string, success bool, duration time.Duration) {
	s, err := m.live(sessionID)
	if err != nil {
		return
	}
	in := Interaction{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Action:    action,
		Result:    result,
		Success:   success,
		Duration:  duration,
		Timestamp: m.now(),
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.interactions = append(s.interactions, in)
	s.touch(m.now())
	s.mu.Unlock()

	if m.store != nil {
		m.auditWG.Add(1)
		go func() {
			defer m.auditWG.Done()
			m.audit(m.store.SaveInteraction(sessionID, in))
		}()
	}
}

// Interactions returns a copy of the session's audit log.
func (m *Manager) Interactions(sessionID string) ([]Interaction, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return nil, ErrSessionNotFound
	}
	out := make([]Interaction, len(s.interactions))
	copy(out, s.interactions)
	return out, nil
}

// RegisterDelegation records a pending delegation under key.
// Registering a key twice in one session is a state violation.
func (m *Manager) RegisterDelegation(sessionID, key string, plan models.DelegationPlan) error {
	s, err := m.live(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrSessionNotFound
	}
	if _, exists := s.delegations[key]; exists {
		return &DelegationStateError{SessionID: sessionID, Key: key, Op: "register: already registered"}
	}
	d := &DelegationRecord{
		Key:               key,
		Strategy:          plan.Strategy,
		Workers:           plan.WorkerIDs(),
		Complexity:        float64(plan.Complexity.Value),
		EstimatedDuration: plan.EstimatedDuration,
		State:             DelegationPending,
		RegisteredAt:      m.now(),
	}
	s.delegations[key] = d
	s.touch(m.now())

	if m.store != nil {
		record := *d
		m.auditWG.Add(1)
		go func() {
			defer m.auditWG.Done()
			m.audit(m.store.SaveDelegation(sessionID, record))
		}()
	}
	return nil
}

// CompleteDelegation transitions a pending delegation to completed.
// Completing an unregistered or already completed key is a state
// violation.
func (m *Manager) CompleteDelegation(sessionID, key, result string) error {
	s, err := m.live(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return ErrSessionNotFound
	}
	d, exists := s.delegations[key]
	if !exists {
		return &DelegationStateError{SessionID: sessionID, Key: key, Op: "complete: not registered"}
	}
	if d.State != DelegationPending {
		return &DelegationStateError{SessionID: sessionID, Key: key, Op: "complete: already completed"}
	}
	d.State = DelegationCompleted
	d.Result = result
	d.CompletedAt = m.now()
	s.touch(m.now())

	if m.store != nil {
		record := *d
		m.auditWG.Add(1)
		go func() {
			defer m.auditWG.Done()
			m.audit(m.store.SaveDelegation(sessionID, record))
		}()
	}
	return nil
}

// Delegation returns the record registered under key.
func (m *Manager) Delegation(sessionID, key string) (DelegationRecord, error) {
	s, err := m.live(sessionID)
	if err != nil {
		return DelegationRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return DelegationRecord{}, ErrSessionNotFound
	}
	d, exists := s.delegations[key]
	if !exists {
		return DelegationRecord{}, &DelegationStateError{SessionID: sessionID, Key: key, Op: "lookup: not registered"}
	}
	return *d, nil
}

// GetStatus returns the session's status, or ErrSessionNotFound for an
// unknown id. Cleaned-up sessions still report until the reaper
// removes their tombstone.
func (m *Manager) GetStatus(id string) (Status, error) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return Status{}, ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{Active: s.active, AgentCount: s.agentCount(), CreatedAt: s.createdAt}, nil
}

// Cleanup marks the session inactive and evicts its shared context and
// interaction log. Idempotent: cleaning an unknown or already cleaned
// session is a no-op.
func (m *Manager) Cleanup(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evict()
}

// AuditFailures reports how many diagnostics-store writes have failed
// since startup. The failures themselves are swallowed by design of
// the audit path; this counter is the secondary channel.
func (m *Manager) AuditFailures() uint64 {
	return m.auditFailures.Load()
}

// live looks up the session record for id without checking activity.
// Callers re-check active under the session lock.
func (m *Manager) live(id string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// audit accounts a diagnostics-store write result.
func (m *Manager) audit(err error) {
	if err == nil {
		return
	}
	m.auditFailures.Add(1)
	log.Printf("session: diagnostics write failed: %v", err)
}

// reapLoop periodically evicts idle sessions and removes tombstones.
func (m *Manager) reapLoop() {
	defer close(m.done)
	ticker := time.NewTicker(m.reapInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.reap()
		}
	}
}

// reap removes sessions idle past the timeout and any tombstones left
// by explicit cleanup. It takes each session's own lock so it never
// races with in-flight writes.
func (m *Manager) reap() {
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	candidates := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.Unlock()

	for _, s := range candidates {
		s.mu.Lock()
		expired := !s.active || s.lastActivity.Before(cutoff)
		if expired {
			s.evict()
		}
		s.mu.Unlock()

		if !expired {
			continue
		}
		m.mu.Lock()
		// A fresh session may have replaced the tombstone since the
		// snapshot; only remove the record we inspected.
		if cur, ok := m.sessions[s.id]; ok && cur == s {
			delete(m.sessions, s.id)
		}
		m.mu.Unlock()
		if m.onReap != nil {
			m.onReap(s.id)
		}
	}
}
