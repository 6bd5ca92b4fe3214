package models

import "testing"

func TestTaskPriorityValid(t *testing.T) {
	valid := []TaskPriority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
	for _, p := range valid {
		if !p.Valid() {
			t.Errorf("expected %q to be valid", p)
		}
	}

	invalid := []TaskPriority{"", "urgent", "LOW"}
	for _, p := range invalid {
		if p.Valid() {
			t.Errorf("expected %q to be invalid", p)
		}
	}
}

func TestTaskPriorityRank(t *testing.T) {
	if PriorityCritical.Rank() <= PriorityHigh.Rank() {
		t.Error("critical should outrank high")
	}
	if PriorityHigh.Rank() <= PriorityMedium.Rank() {
		t.Error("high should outrank medium")
	}
	if PriorityMedium.Rank() <= PriorityLow.Rank() {
		t.Error("medium should outrank low")
	}

	// Unknown priorities rank as medium.
	if TaskPriority("bogus").Rank() != PriorityMedium.Rank() {
		t.Error("unknown priority should rank as medium")
	}
}

func TestStrategyValid(t *testing.T) {
	for _, s := range []Strategy{StrategySingle, StrategyParallel, StrategyOrchestrator} {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if Strategy("swarm").Valid() {
		t.Error("expected unknown strategy to be invalid")
	}
}

func TestWorkerInfoHasCapability(t *testing.T) {
	w := WorkerInfo{
		ID:           "w1",
		Capabilities: []string{"analysis", "refactor"},
	}

	if !w.HasCapability("analysis") {
		t.Error("expected analysis capability")
	}
	if w.HasCapability("testing") {
		t.Error("did not expect testing capability")
	}
}

func TestDelegationPlanWorkerIDs(t *testing.T) {
	plan := DelegationPlan{
		Workers: []WorkerInfo{{ID: "a"}, {ID: "b"}, {ID: "c"}},
	}

	ids := plan.WorkerIDs()
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids, got %d", len(ids))
	}
	for i, want := range []string{"a", "b", "c"} {
		if ids[i] != want {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want)
		}
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"bool primitive", PrimitiveValue(true), "true"},
		{"string primitive", PrimitiveValue("done"), "done"},
		{"object", ObjectValue(map[string]any{"k": "v"}), `{"k":"v"}`},
		{"list", ListValue([]any{1, 2}), "[1,2]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.value.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestComplexityLevelValid(t *testing.T) {
	for _, l := range []ComplexityLevel{ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityEnterprise} {
		if !l.Valid() {
			t.Errorf("expected %q to be valid", l)
		}
	}
	if ComplexityLevel("extreme").Valid() {
		t.Error("expected unknown level to be invalid")
	}
}
