package router

import (
	"testing"

	"pcagent/internal/config"
)

func testRouterConfig() config.RouterConfig {
	return config.DefaultConfig().Router
}

func TestSelectByThreshold(t *testing.T) {
	s := NewModelSelector(testRouterConfig(), config.ModeBalanced)

	tests := []struct {
		complexity float64
		wantTier   string
	}{
		{0.9, config.TierPremium},
		{0.8, config.TierPremium},
		{0.6, config.TierMid},
		{0.3, config.TierOpen},
		{0.1, config.TierRule},
	}
	for _, tt := range tests {
		tier, _, err := s.Select(tt.complexity, 100.0)
		if err != nil {
			t.Fatalf("Select(%v): %v", tt.complexity, err)
		}
		if tier.Name != tt.wantTier {
			t.Errorf("complexity %v -> %s, want %s", tt.complexity, tier.Name, tt.wantTier)
		}
	}
}

func TestSelectBudgetCascade(t *testing.T) {
	s := NewModelSelector(testRouterConfig(), config.ModeBalanced)

	// Premium at 0.9 complexity estimates 0.015*0.9 = $0.0135. With only
	// a hair of budget left, the cascade should land on the open tier
	// (zero cost) rather than abort.
	tier, why, err := s.Select(0.9, 0.002)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if tier.Name != config.TierOpen {
		t.Errorf("tier = %s, want open (got reason %q)", tier.Name, why)
	}

	// Below min_cost_per_call everything paid is out; rule remains.
	tier, _, err = s.Select(0.9, 0.0001)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if tier.Name != config.TierRule {
		t.Errorf("tier = %s, want rule", tier.Name)
	}
}

func TestModeShiftsThresholds(t *testing.T) {
	cfg := testRouterConfig()

	// 0.85 reaches premium in balanced mode but not in cost_saving
	// (threshold shifts to 0.9).
	balanced := NewModelSelector(cfg, config.ModeBalanced)
	tier, _, err := balanced.Select(0.85, 100)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if tier.Name != config.TierPremium {
		t.Fatalf("balanced tier = %s, want premium", tier.Name)
	}

	saving := NewModelSelector(cfg, config.ModeCostSaving)
	tier, _, err = saving.Select(0.85, 100)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if tier.Name != config.TierMid {
		t.Errorf("cost_saving tier = %s, want mid", tier.Name)
	}

	// 0.75 misses premium in balanced mode but reaches it in
	// performance mode (threshold shifts to 0.7).
	perf := NewModelSelector(cfg, config.ModePerformance)
	tier, _, err = perf.Select(0.75, 100)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if tier.Name != config.TierPremium {
		t.Errorf("performance tier = %s, want premium", tier.Name)
	}
}

func TestEstimateCost(t *testing.T) {
	tier := config.ModelTier{Name: config.TierPremium, CostPer1K: 0.015}
	// complexity 0.5 -> 500 estimated tokens -> $0.0075
	if got := EstimateCost(tier, 0.5); got != 0.0075 {
		t.Errorf("EstimateCost = %v, want 0.0075", got)
	}
	free := config.ModelTier{Name: config.TierRule, CostPer1K: 0}
	if got := EstimateCost(free, 1.0); got != 0 {
		t.Errorf("rule tier cost = %v, want 0", got)
	}
}
