package models

import "time"

// Strategy is the delegation pattern chosen for a work request.
type Strategy string

const (
	// StrategySingle delegates to exactly one worker with the best
	// capability match.
	StrategySingle Strategy = "single"
	// StrategyParallel delegates to 2-4 workers covering the required
	// capabilities without duplication.
	StrategyParallel Strategy = "parallel"
	// StrategyOrchestrator delegates to a coordinating worker plus
	// specialists. The coordinator holds conflict-resolution authority
	// for the session.
	StrategyOrchestrator Strategy = "orchestrator"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategySingle, StrategyParallel, StrategyOrchestrator:
		return true
	default:
		return false
	}
}

// WorkRequest describes a unit of work submitted for delegation analysis.
type WorkRequest struct {
	// Description is the human-readable statement of the work.
	Description string `json:"description"`
	// Metrics are the size and risk signals for the work.
	Metrics ComplexityMetrics `json:"metrics"`
	// Priority is the caller-declared urgency.
	Priority TaskPriority `json:"priority,omitempty"`
	// RequiredCapabilities lists the worker capabilities the work needs.
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// WorkerInfo identifies a registered worker and its declared capabilities.
// Entries come from the capability registry supplied at process startup.
type WorkerInfo struct {
	// ID is the unique worker identity.
	ID string `json:"id" yaml:"id"`
	// Name is the display name.
	Name string `json:"name,omitempty" yaml:"name"`
	// Capabilities lists what the worker can execute.
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
	// Priority orders equally capable workers; higher is preferred.
	Priority int `json:"priority,omitempty" yaml:"priority"`
	// Trust is the weight used by the weighted conflict policy.
	// Zero means unset; the registry defaults it to 1.0.
	Trust float64 `json:"trust,omitempty" yaml:"trust"`
}

// HasCapability returns true if the worker declares the capability.
func (w WorkerInfo) HasCapability(capability string) bool {
	for _, c := range w.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// DelegationPlan is the strategist's answer to a work request.
type DelegationPlan struct {
	// Strategy is the chosen delegation pattern.
	Strategy Strategy `json:"strategy"`
	// Workers are the selected workers, in deterministic order.
	Workers []WorkerInfo `json:"workers"`
	// CoordinatorID is the coordinating worker for orchestrator-led
	// plans, empty otherwise.
	CoordinatorID string `json:"coordinator_id,omitempty"`
	// Complexity is the score the plan was derived from.
	Complexity ComplexityScore `json:"complexity"`
	// EstimatedDuration is the expected wall-clock duration.
	EstimatedDuration time.Duration `json:"estimated_duration"`
	// Degraded is set when no registered worker satisfies a required
	// capability. A degraded plan is returned instead of an error so
	// the caller can retry with relaxed requirements.
	Degraded bool `json:"degraded,omitempty"`
	// Reason explains why the plan is degraded.
	Reason string `json:"reason,omitempty"`
}

// WorkerIDs returns the IDs of the plan's workers, in plan order.
func (p DelegationPlan) WorkerIDs() []string {
	ids := make([]string, 0, len(p.Workers))
	for _, w := range p.Workers {
		ids = append(ids, w.ID)
	}
	return ids
}
