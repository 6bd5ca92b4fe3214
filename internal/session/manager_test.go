package session

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"conclave/internal/conflict"
	"conclave/pkg/models"
)

func newTestManager(t *testing.T, cfg Config, store HistoryStore) *Manager {
	t.Helper()
	m := NewManager(cfg, conflict.NewResolver(nil), store)
	t.Cleanup(m.Close)
	return m
}

// failingStore rejects every write, exercising the swallowed-error
// audit path.
type failingStore struct{}

func (failingStore) SaveSession(string, time.Time) error { return errors.New("disk full") }

func (failingStore) SaveInteraction(string, Interaction) error { return errors.New("disk full") }

func (failingStore) SaveDelegation(string, DelegationRecord) error {
	return errors.New("disk full")
}

func TestInitializeIdempotent(t *testing.T) {
	m := newTestManager(t, Config{}, nil)

	first := m.Initialize("s1")
	m.RecordInteraction("s1", "w1", "analyze", "ok", true, time.Second)
	second := m.Initialize("s1")

	if !second.Active {
		t.Error("expected active session")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Error("re-initialize must not replace an active session")
	}
	if second.AgentCount != 1 {
		t.Errorf("agent count = %d, want 1", second.AgentCount)
	}
}

func TestInitializeAfterCleanupStartsFresh(t *testing.T) {
	m := newTestManager(t, Config{}, nil)

	m.Initialize("s1")
	m.RecordInteraction("s1", "w1", "analyze", "ok", true, time.Second)
	m.Cleanup("s1")

	status := m.Initialize("s1")
	if !status.Active {
		t.Error("expected a fresh active session")
	}
	got, err := m.GetStatus("s1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.AgentCount != 0 {
		t.Errorf("agent count = %d, want 0 after fresh initialize", got.AgentCount)
	}
}

func TestShareContextSingleContributor(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	m.Initialize("s1")

	if err := m.ShareContext("s1", "verdict", models.PrimitiveValue("pass"), "w1"); err != nil {
		t.Fatalf("ShareContext: %v", err)
	}
	if err := m.ShareContext("s1", "verdict", models.PrimitiveValue("pass-v2"), "w1"); err != nil {
		t.Fatalf("ShareContext: %v", err)
	}

	v, err := m.GetSharedContext("s1", "verdict")
	if err != nil {
		t.Fatalf("GetSharedContext: %v", err)
	}
	if v.Data != "pass-v2" {
		t.Errorf("value = %v, want the contributor's latest", v.Data)
	}
}

func TestGetSharedContextResolvesConflicts(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	m.Initialize("s1")

	for i, c := range []struct {
		value string
		id    string
	}{
		{"pass", "w1"},
		{"fail", "w2"},
		{"pass", "w3"},
	} {
		if err := m.ShareContext("s1", "verdict", models.PrimitiveValue(c.value), c.id); err != nil {
			t.Fatalf("ShareContext %d: %v", i, err)
		}
	}

	v, err := m.GetSharedContext("s1", "verdict")
	if err != nil {
		t.Fatalf("GetSharedContext: %v", err)
	}
	if v.Data != "pass" {
		t.Errorf("value = %v, want majority", v.Data)
	}
}

func TestResolveConflictExplicitPolicy(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	m.Initialize("s1")

	m.ShareContext("s1", "k", models.PrimitiveValue("old"), "w1")
	m.ShareContext("s1", "k", models.PrimitiveValue("old"), "w2")
	m.ShareContext("s1", "k", models.PrimitiveValue("new"), "w3")

	v, err := m.ResolveConflict("s1", "k", conflict.PolicyLatestWins)
	if err != nil {
		t.Fatalf("ResolveConflict: %v", err)
	}
	if v.Data != "new" {
		t.Errorf("value = %v, want new", v.Data)
	}

	var perr *conflict.PolicyError
	if _, err := m.ResolveConflict("s1", "k", conflict.Policy("bogus")); !errors.As(err, &perr) {
		t.Errorf("expected PolicyError, got %v", err)
	}
}

func TestGetSharedContextMissingKey(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	m.Initialize("s1")

	if _, err := m.GetSharedContext("s1", "nothing"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
	if _, err := m.GetSharedContext("nope", "k"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRecordInteractionSwallowsStoreFailure(t *testing.T) {
	m := newTestManager(t, Config{}, failingStore{})
	m.Initialize("s1")

	// No error surface for the caller: the call has no error return
	// at all, failures land on the diagnostics counter.
	m.RecordInteraction("s1", "w1", "analyze", "ok", true, time.Second)
	m.Close()

	if m.AuditFailures() == 0 {
		t.Error("expected audit failures on the diagnostics channel")
	}
	ins, err := m.Interactions("s1")
	if err != nil {
		t.Fatalf("Interactions: %v", err)
	}
	if len(ins) != 1 {
		t.Fatalf("interactions = %d, want 1", len(ins))
	}
	if ins[0].ID == "" {
		t.Error("interaction id not assigned")
	}
}

func TestDelegationLifecycle(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	m.Initialize("s1")

	plan := models.DelegationPlan{
		Strategy: models.StrategyParallel,
		Workers: []models.WorkerInfo{
			{ID: "w1"}, {ID: "w2"},
		},
		EstimatedDuration: time.Hour,
	}

	if err := m.RegisterDelegation("s1", "refactor", plan); err != nil {
		t.Fatalf("RegisterDelegation: %v", err)
	}

	var derr *DelegationStateError
	if err := m.RegisterDelegation("s1", "refactor", plan); !errors.As(err, &derr) {
		t.Fatalf("expected DelegationStateError on duplicate register, got %v", err)
	}
	if err := m.CompleteDelegation("s1", "unknown", "done"); !errors.As(err, &derr) {
		t.Fatalf("expected DelegationStateError on unregistered complete, got %v", err)
	}

	if err := m.CompleteDelegation("s1", "refactor", "merged"); err != nil {
		t.Fatalf("CompleteDelegation: %v", err)
	}
	if err := m.CompleteDelegation("s1", "refactor", "again"); !errors.As(err, &derr) {
		t.Fatalf("expected DelegationStateError on double complete, got %v", err)
	}

	d, err := m.Delegation("s1", "refactor")
	if err != nil {
		t.Fatalf("Delegation: %v", err)
	}
	if d.State != DelegationCompleted || d.Result != "merged" {
		t.Errorf("record = %+v", d)
	}

	status, err := m.GetStatus("s1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.AgentCount != 2 {
		t.Errorf("agent count = %d, want 2 delegation workers", status.AgentCount)
	}
}

// recordingStore captures delegation writes so the audit flow around
// registration and completion can be asserted.
type recordingStore struct {
	mu          sync.Mutex
	delegations []DelegationRecord
}

func (r *recordingStore) SaveSession(string, time.Time) error { return nil }

func (r *recordingStore) SaveInteraction(string, Interaction) error { return nil }

func (r *recordingStore) SaveDelegation(_ string, d DelegationRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delegations = append(r.delegations, d)
	return nil
}

func TestDelegationWritesPendingAndCompletedRows(t *testing.T) {
	store := &recordingStore{}
	m := newTestManager(t, Config{}, store)
	m.Initialize("s1")

	plan := models.DelegationPlan{
		Strategy: models.StrategySingle,
		Workers:  []models.WorkerInfo{{ID: "w1"}},
	}
	if err := m.RegisterDelegation("s1", "review", plan); err != nil {
		t.Fatalf("RegisterDelegation: %v", err)
	}
	if err := m.CompleteDelegation("s1", "review", "approved"); err != nil {
		t.Fatalf("CompleteDelegation: %v", err)
	}
	m.Close()

	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.delegations) != 2 {
		t.Fatalf("delegation writes = %d, want pending then completed", len(store.delegations))
	}
	states := map[DelegationState]bool{}
	for _, d := range store.delegations {
		states[d.State] = true
	}
	if !states[DelegationPending] || !states[DelegationCompleted] {
		t.Errorf("states written = %v, want both pending and completed", store.delegations)
	}
}

func TestGetStatusUnknownSession(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	if _, err := m.GetStatus("ghost"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestCleanupIdempotentAndDiscardsLateWrites(t *testing.T) {
	m := newTestManager(t, Config{}, nil)
	m.Initialize("s1")
	m.ShareContext("s1", "k", models.PrimitiveValue(1), "w1")

	m.Cleanup("s1")
	m.Cleanup("s1")
	m.Cleanup("never-existed")

	status, err := m.GetStatus("s1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Active {
		t.Error("expected inactive after cleanup")
	}

	// A worker finishing late cannot write into the cleaned session.
	if err := m.ShareContext("s1", "k", models.PrimitiveValue(2), "w2"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on late write, got %v", err)
	}
	if _, err := m.GetSharedContext("s1", "k"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on read, got %v", err)
	}
}

func TestIdleReaperEvictsSessions(t *testing.T) {
	reaped := make(chan string, 4)
	m := newTestManager(t, Config{
		IdleTimeout:  20 * time.Millisecond,
		ReapInterval: 5 * time.Millisecond,
		OnReap:       func(id string) { reaped <- id },
	}, nil)

	m.Initialize("idle")

	select {
	case id := <-reaped:
		if id != "idle" {
			t.Errorf("reaped %q, want idle", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reaper never fired")
	}

	if _, err := m.GetStatus("idle"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected session removed, got %v", err)
	}
}

func TestManagerShutdownLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	m := NewManager(Config{ReapInterval: 5 * time.Millisecond}, conflict.NewResolver(nil), failingStore{})
	m.Initialize("s1")
	m.RecordInteraction("s1", "w1", "analyze", "ok", true, time.Second)
	m.Close()
	m.Close()
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	m := newTestManager(t, Config{}, nil)

	const sessions = 8
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s%d", i)
		m.Initialize(id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				m.ShareContext(id, "counter", models.PrimitiveValue(j), "w1")
				m.RecordInteraction(id, "w1", "tick", "ok", true, time.Millisecond)
			}
		}()
	}
	wg.Wait()

	for i := 0; i < sessions; i++ {
		id := fmt.Sprintf("s%d", i)
		ins, err := m.Interactions(id)
		if err != nil {
			t.Fatalf("Interactions(%s): %v", id, err)
		}
		if len(ins) != 50 {
			t.Errorf("session %s interactions = %d, want 50", id, len(ins))
		}
	}
}
