package router

import (
	"fmt"

	"pcagent/internal/config"
	"pcagent/internal/logging"
)

// modeShift biases thresholds by execution mode: cost_saving makes
// expensive tiers harder to reach, performance makes them easier.
const modeShift = 0.1

// ModelSelector maps a complexity score and remaining budget to a tier.
type ModelSelector struct {
	cfg  config.RouterConfig
	mode string
}

// NewModelSelector creates a selector for the given router config and
// execution mode.
func NewModelSelector(cfg config.RouterConfig, mode string) *ModelSelector {
	return &ModelSelector{cfg: cfg, mode: mode}
}

// SetMode changes the execution mode bias.
func (s *ModelSelector) SetMode(mode string) {
	s.mode = mode
}

// thresholds returns the mode-adjusted tier thresholds.
func (s *ModelSelector) thresholds() (premium, mid, open float64) {
	premium, mid, open = s.cfg.PremiumThreshold, s.cfg.MidThreshold, s.cfg.OpenThreshold
	switch s.mode {
	case config.ModeCostSaving:
		premium = clamp01(premium + modeShift)
		mid = clamp01(mid + modeShift)
		open = clamp01(open + modeShift)
	case config.ModePerformance:
		premium = clamp01(premium - modeShift)
		mid = clamp01(mid - modeShift)
		open = clamp01(open - modeShift)
	}
	return premium, mid, open
}

// tierOrder is the affordability cascade, most expensive first.
var tierOrder = []string{config.TierPremium, config.TierMid, config.TierOpen, config.TierRule}

// EstimateCost is the projected dollar cost of running a subtask of the
// given complexity on a tier: complexity scales the token estimate.
func EstimateCost(tier config.ModelTier, complexity float64) float64 {
	estimatedTokens := complexity * 1000
	return tier.CostPer1K * estimatedTokens / 1000
}

// Select picks a tier for a complexity score given the remaining daily
// budget. A tier that cannot be afforded cascades to the next cheaper
// one; the rule tier is always affordable.
func (s *ModelSelector) Select(complexity, remainingBudget float64) (config.ModelTier, string, error) {
	premium, mid, open := s.thresholds()

	var wanted string
	switch {
	case complexity >= premium:
		wanted = config.TierPremium
	case complexity >= mid:
		wanted = config.TierMid
	case complexity >= open:
		wanted = config.TierOpen
	default:
		wanted = config.TierRule
	}

	// Walk the cascade from the wanted tier downward.
	start := 0
	for i, name := range tierOrder {
		if name == wanted {
			start = i
			break
		}
	}
	for _, name := range tierOrder[start:] {
		tier, ok := tierByName(s.cfg.Tiers, name)
		if !ok {
			continue
		}
		if name == config.TierRule {
			return tier, reason(wanted, name, complexity), nil
		}
		cost := EstimateCost(tier, complexity)
		if cost <= remainingBudget && remainingBudget >= s.cfg.MinCostPerCall {
			return tier, reason(wanted, name, complexity), nil
		}
		logging.RouterDebug("tier %s unaffordable (est $%.4f, remaining $%.4f)", name, cost, remainingBudget)
	}

	return config.ModelTier{}, "", fmt.Errorf("no usable tier configured")
}

func reason(wanted, got string, complexity float64) string {
	if wanted == got {
		return fmt.Sprintf("complexity %.2f -> %s", complexity, got)
	}
	return fmt.Sprintf("complexity %.2f -> %s, downgraded to %s by budget", complexity, wanted, got)
}

func tierByName(tiers []config.ModelTier, name string) (config.ModelTier, bool) {
	for _, t := range tiers {
		if t.Name == name {
			return t, true
		}
	}
	return config.ModelTier{}, false
}
