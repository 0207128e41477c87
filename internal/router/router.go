package router

import (
	"context"
	"math"
	"sync"

	"pcagent/internal/config"
	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// Decision is the router's verdict for one subtask.
type Decision struct {
	SubtaskID     string           `json:"subtask_id"`
	Complexity    float64          `json:"complexity"`
	Features      Features         `json:"features"`
	Tier          config.ModelTier `json:"tier"`
	EstimatedCost float64          `json:"estimated_cost"`
	Reason        string           `json:"reason"`
}

// Router composes the complexity scorer, model selector, and budget
// tracker into a single routing facade.
type Router struct {
	scorer   *ComplexityScorer
	selector *ModelSelector
	budget   *BudgetTracker

	// checkBudget false disables affordability cascades (simulation).
	checkBudget bool

	mu      sync.Mutex
	history []Decision
}

// New creates a router. budget may be nil to route without spend limits.
func New(cfg config.RouterConfig, mode string, budget *BudgetTracker) *Router {
	return &Router{
		scorer:      NewComplexityScorer(),
		selector:    NewModelSelector(cfg, mode),
		budget:      budget,
		checkBudget: budget != nil,
	}
}

// SetMode changes the execution mode bias for subsequent routing.
func (r *Router) SetMode(mode string) {
	r.selector.SetMode(mode)
}

// Budget exposes the tracker for status queries; nil when disabled.
func (r *Router) Budget() *BudgetTracker {
	return r.budget
}

// Scorer exposes the complexity scorer.
func (r *Router) Scorer() *ComplexityScorer {
	return r.scorer
}

// Route scores a subtask and selects an affordable tier.
func (r *Router) Route(ctx context.Context, subtask types.Subtask) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	complexity, features := r.scorer.Score(subtask)

	remaining := math.Inf(1) // unbounded when budget is off
	if r.checkBudget {
		remaining = r.budget.Remaining("daily")
	}

	tier, why, err := r.selector.Select(complexity, remaining)
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{
		SubtaskID:     subtask.ID,
		Complexity:    complexity,
		Features:      features,
		Tier:          tier,
		EstimatedCost: EstimateCost(tier, complexity),
		Reason:        why,
	}

	r.mu.Lock()
	r.history = append(r.history, decision)
	r.mu.Unlock()

	logging.Router("routed %.50s -> %s (%s)", subtask.Description, tier.Name, why)
	return decision, nil
}

// RecordActualCost posts the real expense after execution.
func (r *Router) RecordActualCost(decision Decision, taskID string, cost float64, description string) {
	if r.budget == nil {
		return
	}
	r.budget.RecordExpense(decision.Tier.Model, decision.Tier.Name, taskID, cost, description)
}

// Distribution returns per-tier decision counts and ratios.
func (r *Router) Distribution() (counts map[string]int, ratios map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts = make(map[string]int)
	for _, d := range r.history {
		counts[d.Tier.Name]++
	}
	ratios = make(map[string]float64, len(counts))
	if total := len(r.history); total > 0 {
		for name, n := range counts {
			ratios[name] = float64(n) / float64(total)
		}
	}
	return counts, ratios
}

// Decisions reports how many routing decisions were made.
func (r *Router) Decisions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history)
}
