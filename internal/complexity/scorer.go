// Package complexity scores work requests so the strategist can pick a
// delegation strategy. Scoring is a pure function of the request metrics.
package complexity

import (
	"fmt"

	"conclave/pkg/models"
)

// Thresholds and weights for each metric, in metric-definition order.
// A metric contributes its weight once it reaches its threshold;
// thresholds are inclusive.
const (
	fileCountThreshold       = 50
	fileCountWeight          = 30
	changeVolumeThreshold    = 1000
	changeVolumeWeight       = 25
	dependencyThreshold      = 20
	dependencyWeight         = 15
	riskWeight               = 20
	durationThresholdMinutes = 720
	durationWeight           = 10
)

// Level boundaries for the additive score.
const (
	moderateFloor   = 30
	complexFloor    = 70
	enterpriseFloor = 95
)

// Score maps work metrics to a complexity assessment. It is
// deterministic and has no failure modes: every input, including
// all-zero metrics, produces a valid score at the simple level.
func Score(m models.ComplexityMetrics) models.ComplexityScore {
	var value int
	var reasons []string

	// Each threshold check appends its reason in metric-definition
	// order so the reasoning list is stable across runs.
	if m.FileCount >= fileCountThreshold {
		value += fileCountWeight
		reasons = append(reasons, fmt.Sprintf("file count %d reaches %d (+%d)", m.FileCount, fileCountThreshold, fileCountWeight))
	}
	if m.ChangeVolume >= changeVolumeThreshold {
		value += changeVolumeWeight
		reasons = append(reasons, fmt.Sprintf("change volume %d lines reaches %d (+%d)", m.ChangeVolume, changeVolumeThreshold, changeVolumeWeight))
	}
	if m.DependencyCount >= dependencyThreshold {
		value += dependencyWeight
		reasons = append(reasons, fmt.Sprintf("dependency count %d reaches %d (+%d)", m.DependencyCount, dependencyThreshold, dependencyWeight))
	}
	if m.RiskLevel == models.RiskCritical {
		value += riskWeight
		reasons = append(reasons, fmt.Sprintf("risk level is critical (+%d)", riskWeight))
	}
	if m.EstimatedDurationMinutes >= durationThresholdMinutes {
		value += durationWeight
		reasons = append(reasons, fmt.Sprintf("estimated duration %dm reaches %dm (+%d)", m.EstimatedDurationMinutes, durationThresholdMinutes, durationWeight))
	}

	level := levelFor(value, len(reasons))

	return models.ComplexityScore{
		Value:               value,
		Level:               level,
		RecommendedStrategy: strategyFor(value),
		Reasoning:           reasons,
	}
}

// levelFor buckets the score. The enterprise level additionally
// requires at least two fired thresholds: a single metric spike alone
// must not produce the top level.
func levelFor(value, firedThresholds int) models.ComplexityLevel {
	switch {
	case value >= enterpriseFloor && firedThresholds >= 2:
		return models.ComplexityEnterprise
	case value >= complexFloor:
		return models.ComplexityComplex
	case value >= moderateFloor:
		return models.ComplexityModerate
	default:
		return models.ComplexitySimple
	}
}

// strategyFor maps the score value to a delegation strategy.
func strategyFor(value int) models.Strategy {
	switch {
	case value >= complexFloor:
		return models.StrategyOrchestrator
	case value >= moderateFloor:
		return models.StrategyParallel
	default:
		return models.StrategySingle
	}
}
