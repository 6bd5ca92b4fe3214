package models

// RiskLevel qualifies how risky a work request is.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Valid returns true if the risk level is a known value.
func (r RiskLevel) Valid() bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		return true
	default:
		return false
	}
}

// ComplexityMetrics are the raw size and risk signals for a work request.
// They are computed fresh per request and never stored beyond the
// resulting delegation record.
type ComplexityMetrics struct {
	// FileCount is the number of files the work is expected to touch.
	FileCount int `json:"file_count"`
	// ChangeVolume is the expected change size in lines.
	ChangeVolume int `json:"change_volume"`
	// DependencyCount is the number of dependencies involved.
	DependencyCount int `json:"dependency_count"`
	// RiskLevel qualifies the risk of the change.
	RiskLevel RiskLevel `json:"risk_level"`
	// EstimatedDurationMinutes is the expected duration of the work.
	EstimatedDurationMinutes int `json:"estimated_duration_minutes"`
}

// ComplexityLevel buckets a numeric complexity value.
type ComplexityLevel string

const (
	// ComplexitySimple covers scores below 30.
	ComplexitySimple ComplexityLevel = "simple"
	// ComplexityModerate covers scores from 30 to 69.
	ComplexityModerate ComplexityLevel = "moderate"
	// ComplexityComplex covers scores from 70 to 94.
	ComplexityComplex ComplexityLevel = "complex"
	// ComplexityEnterprise covers scores of 95 and above, and requires
	// at least two distinct metrics over threshold so a single noisy
	// dimension cannot escalate to the top level on its own.
	ComplexityEnterprise ComplexityLevel = "enterprise"
)

// Valid returns true if the level is a known value.
func (l ComplexityLevel) Valid() bool {
	switch l {
	case ComplexitySimple, ComplexityModerate, ComplexityComplex, ComplexityEnterprise:
		return true
	default:
		return false
	}
}

// ComplexityScore is the scored assessment of a work request.
type ComplexityScore struct {
	// Value is the additive score. It is uncapped and can exceed 100.
	Value int `json:"value"`
	// Level is the qualitative bucket for Value.
	Level ComplexityLevel `json:"level"`
	// RecommendedStrategy is the delegation strategy the score maps to.
	RecommendedStrategy Strategy `json:"recommended_strategy"`
	// Reasoning lists every threshold that fired, in metric-definition
	// order, so a score is explainable and testable.
	Reasoning []string `json:"reasoning"`
}
