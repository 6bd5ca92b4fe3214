// Package strategy chooses a delegation strategy and worker set for a
// work request, based on its complexity score and the capability
// registry supplied by the host environment.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"conclave/internal/complexity"
	"conclave/internal/registry"
	"conclave/pkg/models"
)

// DefaultCapability is assumed when a request declares no required
// capabilities. The core does not infer capabilities from the request
// text; that is an external concern.
const DefaultCapability = "general"

// CoordinationCapability marks workers that can act as the coordinator
// of an orchestrator-led delegation.
const CoordinationCapability = "coordination"

// Parallel strategy worker bounds.
const (
	parallelMinWorkers = 2
	parallelMaxWorkers = 4
)

// Fallback duration estimates per complexity level, used when the
// request carries no duration metric.
var levelDurations = map[models.ComplexityLevel]time.Duration{
	models.ComplexitySimple:     15 * time.Minute,
	models.ComplexityModerate:   time.Hour,
	models.ComplexityComplex:    4 * time.Hour,
	models.ComplexityEnterprise: 8 * time.Hour,
}

// Strategist maps work requests to delegation plans.
type Strategist struct {
	registry *registry.Registry
}

// New creates a Strategist backed by the given capability registry.
func New(reg *registry.Registry) *Strategist {
	return &Strategist{registry: reg}
}

// Analyze scores the request and produces a delegation plan.
//
// Score below 30 selects a single worker with the best capability
// match; 30-69 selects 2-4 workers covering the required capabilities;
// 70 and above selects a coordinating worker plus specialists. When no
// registered worker declares a required capability the plan comes back
// degraded rather than as an error, so the caller can retry with
// relaxed requirements.
func (s *Strategist) Analyze(req models.WorkRequest) models.DelegationPlan {
	score := complexity.Score(req.Metrics)

	required := req.RequiredCapabilities
	if len(required) == 0 {
		required = []string{DefaultCapability}
	}

	plan := models.DelegationPlan{
		Strategy:          score.RecommendedStrategy,
		Complexity:        score,
		EstimatedDuration: s.estimateDuration(req.Metrics, score.Level),
	}

	var missing []string
	switch score.RecommendedStrategy {
	case models.StrategySingle:
		plan.Workers, missing = s.selectSingle(required)
	case models.StrategyParallel:
		plan.Workers, missing = s.selectParallel(required)
	case models.StrategyOrchestrator:
		plan.Workers, plan.CoordinatorID, missing = s.selectOrchestrated(required)
	}

	if len(missing) > 0 {
		plan.Degraded = true
		plan.Reason = fmt.Sprintf("no registered worker declares capability: %s", strings.Join(missing, ", "))
	}
	return plan
}

// selectSingle picks the one worker covering the most required
// capabilities, preferring higher declared priority and then
// registration order.
func (s *Strategist) selectSingle(required []string) ([]models.WorkerInfo, []string) {
	type scored struct {
		worker   models.WorkerInfo
		coverage int
		pos      int
	}

	var candidates []scored
	for pos, w := range s.registry.All() {
		coverage := 0
		for _, c := range required {
			if w.HasCapability(c) {
				coverage++
			}
		}
		if coverage > 0 {
			candidates = append(candidates, scored{worker: w, coverage: coverage, pos: pos})
		}
	}

	if len(candidates) == 0 {
		return nil, required
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].coverage != candidates[j].coverage {
			return candidates[i].coverage > candidates[j].coverage
		}
		if candidates[i].worker.Priority != candidates[j].worker.Priority {
			return candidates[i].worker.Priority > candidates[j].worker.Priority
		}
		return candidates[i].pos < candidates[j].pos
	})

	best := candidates[0]
	missing := capabilitiesNotCovered(required, []models.WorkerInfo{best.worker})
	return []models.WorkerInfo{best.worker}, missing
}

// selectParallel covers each required capability with a distinct
// worker. A capability is only double-covered when demand exceeds the
// number of distinct capable workers. The result is padded to at least
// two workers and capped at four.
func (s *Strategist) selectParallel(required []string) ([]models.WorkerInfo, []string) {
	selected := make([]models.WorkerInfo, 0, parallelMaxWorkers)
	used := make(map[string]bool)
	var missing []string

	for _, c := range required {
		capable := s.registry.Capable(c)
		if len(capable) == 0 {
			missing = append(missing, c)
			continue
		}

		for _, w := range capable {
			if !used[w.ID] {
				selected = append(selected, w)
				used[w.ID] = true
				break
			}
		}
		// If every capable worker is already selected the capability
		// is covered by one of them; nothing more to do.
	}

	// Pad to the minimum worker count with the next best candidates,
	// duplicating capabilities as needed.
	if len(selected) < parallelMinWorkers {
		for _, c := range required {
			for _, w := range s.registry.Capable(c) {
				if len(selected) >= parallelMinWorkers {
					break
				}
				if !used[w.ID] {
					selected = append(selected, w)
					used[w.ID] = true
				}
			}
		}
	}

	if len(selected) > parallelMaxWorkers {
		selected = selected[:parallelMaxWorkers]
	}
	return selected, missing
}

// selectOrchestrated picks a coordinator plus one specialist per
// required capability. The coordinator is the best coordination-capable
// worker, falling back to the highest-priority specialist when none is
// registered. The coordinator holds conflict-resolution authority for
// the session.
func (s *Strategist) selectOrchestrated(required []string) ([]models.WorkerInfo, string, []string) {
	selected := make([]models.WorkerInfo, 0, len(required)+1)
	used := make(map[string]bool)
	var missing []string

	var coordinator models.WorkerInfo
	if coords := s.registry.Capable(CoordinationCapability); len(coords) > 0 {
		coordinator = coords[0]
		selected = append(selected, coordinator)
		used[coordinator.ID] = true
	}

	for _, c := range required {
		capable := s.registry.Capable(c)
		if len(capable) == 0 {
			missing = append(missing, c)
			continue
		}
		for _, w := range capable {
			if !used[w.ID] {
				selected = append(selected, w)
				used[w.ID] = true
				break
			}
		}
	}

	if coordinator.ID == "" && len(selected) > 0 {
		// No dedicated coordinator registered: promote the strongest
		// specialist.
		coordinator = selected[0]
		for _, w := range selected[1:] {
			if w.Priority > coordinator.Priority {
				coordinator = w
			}
		}
	}

	return selected, coordinator.ID, missing
}

// estimateDuration prefers the request's own duration metric and falls
// back to a per-level default.
func (s *Strategist) estimateDuration(m models.ComplexityMetrics, level models.ComplexityLevel) time.Duration {
	if m.EstimatedDurationMinutes > 0 {
		return time.Duration(m.EstimatedDurationMinutes) * time.Minute
	}
	return levelDurations[level]
}

// capabilitiesNotCovered returns the required capabilities no selected
// worker declares.
func capabilitiesNotCovered(required []string, selected []models.WorkerInfo) []string {
	var missing []string
	for _, c := range required {
		covered := false
		for _, w := range selected {
			if w.HasCapability(c) {
				covered = true
				break
			}
		}
		if !covered {
			missing = append(missing, c)
		}
	}
	return missing
}
