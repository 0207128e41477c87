package simulation

import (
	"context"
	"math"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pcagent/internal/config"
)

func testParams() Parameters {
	cfg := config.DefaultConfig()
	p := ParametersFromConfig(cfg)
	p.TaskCount = 500
	p.Seed = 42
	p.Workers = 4
	return p
}

func TestRunDeterministic(t *testing.T) {
	ctx := context.Background()
	first, err := Run(ctx, testParams(), config.ModeBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	second, err := Run(ctx, testParams(), config.ModeBalanced)
	if err != nil {
		t.Fatalf("Run (repeat): %v", err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("runs with equal seeds differ (-first +second):\n%s", diff)
	}
}

func TestRunSeedChangesOutcome(t *testing.T) {
	ctx := context.Background()
	first, err := Run(ctx, testParams(), config.ModeBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	params := testParams()
	params.Seed = 43
	second, err := Run(ctx, params, config.ModeBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if first.TotalCost == second.TotalCost && first.SuccessRate == second.SuccessRate {
		t.Error("different seeds produced identical outcomes")
	}
}

func TestBaselineAllPremium(t *testing.T) {
	result, err := Run(context.Background(), testParams(), ScenarioBaseline)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.TierDistribution[config.TierPremium] != result.TaskCount {
		t.Errorf("baseline distribution = %v, want all %d premium",
			result.TierDistribution, result.TaskCount)
	}
	wantCost := 0.15 * float64(result.TaskCount)
	if math.Abs(result.TotalCost-wantCost) > 1e-9 {
		t.Errorf("TotalCost = %v, want %v", result.TotalCost, wantCost)
	}
}

func TestScenarioSpreadsTiers(t *testing.T) {
	result, err := Run(context.Background(), testParams(), config.ModeBalanced)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	total := 0
	for _, n := range result.TierDistribution {
		total += n
	}
	if total != result.TaskCount {
		t.Errorf("tier counts sum to %d, want %d", total, result.TaskCount)
	}
	if len(result.TierDistribution) < 2 {
		t.Errorf("expected multiple tiers in use, got %v", result.TierDistribution)
	}
	if result.AvgComplexity <= 0 || result.AvgComplexity >= 1 {
		t.Errorf("AvgComplexity = %v", result.AvgComplexity)
	}
}

func TestCostSavingCheaperThanBaseline(t *testing.T) {
	ctx := context.Background()
	baseline, err := Run(ctx, testParams(), ScenarioBaseline)
	if err != nil {
		t.Fatalf("Run baseline: %v", err)
	}
	saving, err := Run(ctx, testParams(), config.ModeCostSaving)
	if err != nil {
		t.Fatalf("Run cost_saving: %v", err)
	}
	if saving.TotalCost >= baseline.TotalCost {
		t.Errorf("cost_saving $%.2f not cheaper than baseline $%.2f",
			saving.TotalCost, baseline.TotalCost)
	}

	c := Compare(saving, baseline)
	if c.CostSavingsPct <= 0 {
		t.Errorf("CostSavingsPct = %v, want positive", c.CostSavingsPct)
	}
	wantPct := (baseline.TotalCost - saving.TotalCost) / baseline.TotalCost * 100
	if math.Abs(c.CostSavingsPct-wantPct) > 1e-9 {
		t.Errorf("CostSavingsPct = %v, want %v", c.CostSavingsPct, wantPct)
	}
	if got := saving.SuccessRate - baseline.SuccessRate; math.Abs(c.SuccessDelta-got) > 1e-9 {
		t.Errorf("SuccessDelta = %v, want %v", c.SuccessDelta, got)
	}
}

func TestRunAllOrder(t *testing.T) {
	results, err := RunAll(context.Background(), testParams())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	want := Scenarios()
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i, r := range results {
		if r.Name != want[i] {
			t.Errorf("result %d = %s, want %s", i, r.Name, want[i])
		}
	}
}

func TestUnknownScenario(t *testing.T) {
	if _, err := Run(context.Background(), testParams(), "aggressive"); err == nil {
		t.Error("expected error for unknown scenario")
	}
}

func TestUnknownDistribution(t *testing.T) {
	params := testParams()
	params.Distribution = "pareto"
	if _, err := Run(context.Background(), params, ScenarioBaseline); err == nil {
		t.Error("expected error for unknown distribution")
	}
}

func TestSampleComplexityBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for _, dist := range []string{"normal", "uniform", "beta"} {
		sum := 0.0
		const n = 5000
		for i := 0; i < n; i++ {
			v := sampleComplexity(rng, dist)
			if v < 0 || v > 1 {
				t.Fatalf("%s sample %v out of range", dist, v)
			}
			sum += v
		}
		mean := sum / n
		switch dist {
		case "normal", "uniform":
			if mean < 0.45 || mean > 0.55 {
				t.Errorf("%s mean = %v, want about 0.5", dist, mean)
			}
		case "beta":
			// Beta(2,5) has mean 2/7.
			if mean < 0.24 || mean > 0.34 {
				t.Errorf("beta mean = %v, want about 0.29", mean)
			}
		}
	}
}
