// Package simulation estimates the cost/benefit of routing policies by
// running synthetic task loads through the model selector. No LLM calls
// are made; per-tier cost and success priors stand in for real outcomes.
package simulation

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"pcagent/internal/config"
	"pcagent/internal/logging"
	"pcagent/internal/router"
)

// ScenarioBaseline routes every task to the premium tier; the other
// scenarios reuse the execution-mode names and their threshold biases.
const ScenarioBaseline = "baseline"

// Scenarios lists the supported scenario names in report order.
func Scenarios() []string {
	return []string{
		ScenarioBaseline,
		config.ModeCostSaving,
		config.ModeBalanced,
		config.ModePerformance,
	}
}

// Parameters drives one simulation run.
type Parameters struct {
	TaskCount    int
	Seed         int64
	Distribution string // normal, uniform, beta
	Workers      int
	Tiers        map[string]config.TierSimParams
	Router       config.RouterConfig
}

// ParametersFromConfig pulls simulation parameters out of the loaded
// configuration.
func ParametersFromConfig(cfg *config.Config) Parameters {
	return Parameters{
		TaskCount:    cfg.Simulation.TaskCount,
		Seed:         cfg.Simulation.Seed,
		Distribution: cfg.Simulation.Distribution,
		Workers:      cfg.Simulation.Workers,
		Tiers:        cfg.Simulation.Tiers,
		Router:       cfg.Router,
	}
}

func (p *Parameters) normalize() error {
	if p.TaskCount <= 0 {
		p.TaskCount = 100
	}
	if p.Workers <= 0 {
		p.Workers = runtime.NumCPU()
	}
	if p.Distribution == "" {
		p.Distribution = "beta"
	}
	switch p.Distribution {
	case "normal", "uniform", "beta":
	default:
		return fmt.Errorf("unknown complexity distribution %q", p.Distribution)
	}
	if len(p.Tiers) == 0 {
		p.Tiers = config.DefaultConfig().Simulation.Tiers
	}
	if len(p.Router.Tiers) == 0 {
		p.Router = config.DefaultConfig().Router
	}
	return nil
}

// ScenarioResult summarizes one scenario run.
type ScenarioResult struct {
	Name             string         `json:"name"`
	TaskCount        int            `json:"task_count"`
	TotalCost        float64        `json:"total_cost"`
	SuccessRate      float64        `json:"success_rate"`
	TierDistribution map[string]int `json:"tier_distribution"`
	AvgComplexity    float64        `json:"avg_complexity"`
}

// Comparison relates a scenario to the baseline.
type Comparison struct {
	Scenario       string  `json:"scenario"`
	Baseline       string  `json:"baseline"`
	CostSavingsPct float64 `json:"cost_savings_pct"`
	SuccessDelta   float64 `json:"success_delta"`
}

// Compare computes cost savings and success-rate delta against a
// baseline run.
func Compare(result, baseline ScenarioResult) Comparison {
	c := Comparison{
		Scenario:     result.Name,
		Baseline:     baseline.Name,
		SuccessDelta: result.SuccessRate - baseline.SuccessRate,
	}
	if baseline.TotalCost > 0 {
		c.CostSavingsPct = (baseline.TotalCost - result.TotalCost) / baseline.TotalCost * 100
	}
	return c
}

// syntheticTask is one pre-sampled draw. Complexity and the success
// roll are fixed up front so worker scheduling cannot perturb results.
type syntheticTask struct {
	complexity  float64
	successRoll float64
}

// Run executes one scenario. Identical parameters and seed always
// produce identical results.
func Run(ctx context.Context, params Parameters, scenario string) (ScenarioResult, error) {
	if err := params.normalize(); err != nil {
		return ScenarioResult{}, err
	}
	mode, err := scenarioMode(scenario)
	if err != nil {
		return ScenarioResult{}, err
	}
	logging.Simulation("running scenario %s: %d tasks, %s complexity, seed %d",
		scenario, params.TaskCount, params.Distribution, params.Seed)

	rng := rand.New(rand.NewSource(params.Seed))
	tasks := make([]syntheticTask, params.TaskCount)
	for i := range tasks {
		tasks[i] = syntheticTask{
			complexity:  sampleComplexity(rng, params.Distribution),
			successRoll: rng.Float64(),
		}
	}

	var selector *router.ModelSelector
	if scenario != ScenarioBaseline {
		selector = router.NewModelSelector(params.Router, mode)
	}

	type partial struct {
		cost       float64
		successes  int
		complexity float64
		tiers      map[string]int
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(params.Workers)
	var (
		mu       sync.Mutex
		combined = partial{tiers: map[string]int{}}
	)

	chunk := (len(tasks) + params.Workers - 1) / params.Workers
	for start := 0; start < len(tasks); start += chunk {
		end := start + chunk
		if end > len(tasks) {
			end = len(tasks)
		}
		batch := tasks[start:end]
		g.Go(func() error {
			p := partial{tiers: map[string]int{}}
			for _, task := range batch {
				if err := ctx.Err(); err != nil {
					return err
				}
				tierName := config.TierPremium
				if selector != nil {
					tier, _, err := selector.Select(task.complexity, math.Inf(1))
					if err != nil {
						return err
					}
					tierName = tier.Name
				}
				prior := params.Tiers[tierName]
				p.cost += prior.CostPerTask
				if task.successRoll < prior.SuccessRate {
					p.successes++
				}
				p.complexity += task.complexity
				p.tiers[tierName]++
			}
			mu.Lock()
			combined.cost += p.cost
			combined.successes += p.successes
			combined.complexity += p.complexity
			for name, n := range p.tiers {
				combined.tiers[name] += n
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ScenarioResult{}, err
	}

	result := ScenarioResult{
		Name:             scenario,
		TaskCount:        params.TaskCount,
		TotalCost:        combined.cost,
		SuccessRate:      float64(combined.successes) / float64(params.TaskCount),
		TierDistribution: combined.tiers,
		AvgComplexity:    combined.complexity / float64(params.TaskCount),
	}
	logging.Simulation("scenario %s: cost $%.2f, success %.1f%%",
		scenario, result.TotalCost, result.SuccessRate*100)
	return result, nil
}

// RunAll executes every scenario with the same parameters, baseline
// first.
func RunAll(ctx context.Context, params Parameters) ([]ScenarioResult, error) {
	results := make([]ScenarioResult, 0, len(Scenarios()))
	for _, name := range Scenarios() {
		r, err := Run(ctx, params, name)
		if err != nil {
			return nil, fmt.Errorf("scenario %s: %w", name, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func scenarioMode(scenario string) (string, error) {
	switch scenario {
	case ScenarioBaseline:
		return "", nil
	case config.ModeCostSaving, config.ModeBalanced, config.ModePerformance:
		return scenario, nil
	default:
		return "", fmt.Errorf("unknown scenario %q", scenario)
	}
}

// sampleComplexity draws one complexity in [0,1].
func sampleComplexity(rng *rand.Rand, distribution string) float64 {
	switch distribution {
	case "normal":
		return clamp01(0.5 + 0.2*rng.NormFloat64())
	case "beta":
		// Beta(2,5) via two gamma draws; integer shapes reduce to
		// sums of exponentials.
		x := gammaInt(rng, 2)
		y := gammaInt(rng, 5)
		if x+y == 0 {
			return 0
		}
		return x / (x + y)
	default: // uniform
		return rng.Float64()
	}
}

// gammaInt samples Gamma(k, 1) for integer k.
func gammaInt(rng *rand.Rand, k int) float64 {
	product := 1.0
	for i := 0; i < k; i++ {
		product *= 1 - rng.Float64() // avoid log(0)
	}
	return -math.Log(product)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
