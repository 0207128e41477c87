// Package core coordinates the agents, router, evaluator, and driver
// into end-to-end task execution.
package core

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pcagent/internal/agents"
	"pcagent/internal/config"
	"pcagent/internal/driver"
	"pcagent/internal/evaluator"
	"pcagent/internal/llm"
	"pcagent/internal/logging"
	"pcagent/internal/router"
	"pcagent/internal/types"
)

// History records completed executions. The SQLite store implements it;
// nil disables persistence.
type History interface {
	RecordExecution(ctx context.Context, result types.ExecutionResult) error
}

// Deps are the orchestrator's collaborators. Any nil field is built
// from the configuration; tests inject mocks here.
type Deps struct {
	ManagerClient  llm.Client
	DecisionClient llm.Client
	Memory         agents.TaskMemory
	Driver         driver.Driver
	Evaluator      *evaluator.HybridEvaluator
	Router         *router.Router
	History        History
}

// Orchestrator executes natural-language tasks through the agent
// hierarchy. All result aggregation happens on the calling goroutine;
// only the stats counters are shared.
type Orchestrator struct {
	cfg *config.Config

	manager    *agents.ManagerAgent
	progress   *agents.ProgressAgent
	reflection *agents.ReflectionAgent
	rtr        *router.Router
	eval       *evaluator.HybridEvaluator
	drv        driver.Driver
	history    History

	// decisionClient, when set, serves every model tier. Otherwise
	// tier clients are built on demand and cached.
	decisionClient llm.Client
	clientMu       sync.Mutex
	tierClients    map[string]llm.Client

	statsMu sync.Mutex
	stats   types.ExecutionStats
}

// New wires an orchestrator from the configuration, honoring any
// pre-built collaborators in deps.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	eval := deps.Evaluator
	if eval == nil {
		var err error
		eval, err = evaluator.New(cfg.Evaluator)
		if err != nil {
			return nil, fmt.Errorf("failed to build evaluator: %w", err)
		}
	}

	drv := deps.Driver
	if drv == nil {
		var err error
		drv, err = driver.New(ctx, cfg)
		if err != nil {
			eval.Close()
			return nil, fmt.Errorf("failed to build driver: %w", err)
		}
	}

	rtr := deps.Router
	if rtr == nil {
		budget, err := router.NewBudgetTracker(cfg.Budget, cfg.BudgetStatePath())
		if err != nil {
			eval.Close()
			drv.Close()
			return nil, fmt.Errorf("failed to build budget tracker: %w", err)
		}
		rtr = router.New(cfg.Router, cfg.Execution.Mode, budget)
	}

	o := &Orchestrator{
		cfg:            cfg,
		manager:        agents.NewManagerAgent(deps.ManagerClient, deps.Memory),
		progress:       agents.NewProgressAgent(),
		reflection:     agents.NewReflectionAgent(eval.Visual()),
		rtr:            rtr,
		eval:           eval,
		drv:            drv,
		history:        deps.History,
		decisionClient: deps.DecisionClient,
		tierClients:    map[string]llm.Client{},
	}
	o.stats.ModelUsage = map[string]int{}
	return o, nil
}

// Progress exposes the progress agent so UIs can subscribe to updates.
func (o *Orchestrator) Progress() *agents.ProgressAgent { return o.progress }

// Router exposes the router for budget and distribution queries.
func (o *Orchestrator) Router() *router.Router { return o.rtr }

// Close releases the driver, evaluator, and budget tracker.
func (o *Orchestrator) Close() error {
	var first error
	if err := o.drv.Close(); err != nil {
		first = err
	}
	if err := o.eval.Close(); err != nil && first == nil {
		first = err
	}
	if b := o.rtr.Budget(); b != nil {
		if err := b.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ExecuteTask runs one instruction end to end. The returned result is
// populated even when err is non-nil.
func (o *Orchestrator) ExecuteTask(ctx context.Context, instruction string) (*types.ExecutionResult, error) {
	result := &types.ExecutionResult{
		TaskID:           uuid.New().String(),
		Instruction:      instruction,
		ModelsUsed:       map[string]int{},
		EvaluationScores: map[string]float64{},
		StartedAt:        time.Now(),
	}
	logging.Orchestrator("task %s: %.80s", result.TaskID, instruction)
	audit := logging.AuditForTask(result.TaskID)
	audit.Log(logging.AuditEvent{EventType: logging.AuditTaskStart, Success: true, Message: instruction})

	defer func() {
		result.TotalTime = time.Since(result.StartedAt)
		audit.Log(logging.AuditEvent{
			EventType:  logging.AuditTaskComplete,
			Success:    result.Success,
			Cost:       result.TotalCost,
			DurationMs: result.TotalTime.Milliseconds(),
			Error:      result.ErrorMessage,
		})
		o.recordStats(result)
		if o.history != nil {
			if err := o.history.RecordExecution(ctx, *result); err != nil {
				logging.OrchestratorError("could not persist execution %s: %v", result.TaskID, err)
			}
		}
	}()

	subtasks, err := o.manager.DecomposeTask(ctx, instruction)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("decomposition failed: %v", err)
		return result, fmt.Errorf("decomposition failed: %w", err)
	}
	ordered, err := agents.OrderByDependencies(subtasks)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("invalid plan: %v", err)
		return result, fmt.Errorf("invalid plan: %w", err)
	}
	logging.Orchestrator("task %s: %d subtasks", result.TaskID, len(ordered))

	succeeded := map[string]bool{}
	aborted := false
	for _, subtask := range ordered {
		if err := ctx.Err(); err != nil {
			result.ErrorMessage = err.Error()
			return result, err
		}

		if aborted {
			audit.Log(logging.AuditEvent{EventType: logging.AuditSubtaskSkip, SubtaskID: subtask.ID, Message: "earlier subtask failed"})
			result.SubtaskResults = append(result.SubtaskResults,
				skippedResult(subtask, "earlier subtask failed"))
			continue
		}
		if unmet := unmetDependency(subtask, succeeded); unmet != "" {
			audit.Log(logging.AuditEvent{EventType: logging.AuditSubtaskSkip, SubtaskID: subtask.ID, Message: "dependency " + unmet + " failed"})
			o.progress.RecordStep(subtask.ID, 0, "skip", "dependency "+unmet+" failed", types.StatusSkipped)
			result.SubtaskResults = append(result.SubtaskResults,
				skippedResult(subtask, "dependency "+unmet+" failed"))
			continue
		}

		sr := o.executeSubtask(ctx, result.TaskID, subtask)
		result.SubtaskResults = append(result.SubtaskResults, sr)
		result.TotalCost += sr.Cost
		if sr.ModelUsed != "" {
			result.ModelsUsed[sr.ModelUsed] += sr.Attempts
		}
		if sr.Evaluation != nil {
			result.EvaluationScores[subtask.ID] = sr.Evaluation.TotalScore
		}
		succeeded[subtask.ID] = sr.Success

		if sr.Success {
			o.manager.RecordOutput(subtask.ID, sr.Output)
			continue
		}
		logging.Orchestrator("task %s: subtask %.60q failed", result.TaskID, subtask.Description)
		if !o.cfg.Execution.ContinueOnFailure {
			aborted = true
			result.ErrorMessage = fmt.Sprintf("subtask failed: %s", subtask.Description)
			audit.Log(logging.AuditEvent{EventType: logging.AuditTaskAbort, SubtaskID: subtask.ID, Error: sr.Error})
		}
	}

	result.Success = len(result.SubtaskResults) > 0 && allSucceeded(result.SubtaskResults)
	logging.Orchestrator("task %s: success=%v cost=$%.4f", result.TaskID, result.Success, result.TotalCost)
	return result, nil
}

// ExecuteTaskFile runs every non-empty, non-comment line of a task file
// as its own instruction.
func (o *Orchestrator) ExecuteTaskFile(ctx context.Context, path string) ([]*types.ExecutionResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open task file: %w", err)
	}
	defer f.Close()

	var results []*types.ExecutionResult
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		result, err := o.ExecuteTask(ctx, line)
		results = append(results, result)
		if err != nil && ctx.Err() != nil {
			return results, err
		}
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("failed to read task file: %w", err)
	}
	return results, nil
}

// Stats aggregates every execution this orchestrator has run.
func (o *Orchestrator) Stats() types.ExecutionStats {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()

	stats := o.stats
	stats.ModelUsage = make(map[string]int, len(o.stats.ModelUsage))
	for model, n := range o.stats.ModelUsage {
		stats.ModelUsage[model] = n
	}
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalExecutions)
		stats.AverageCost = stats.TotalCost / float64(stats.TotalExecutions)
		stats.AverageTime = stats.TotalTime / time.Duration(stats.TotalExecutions)
	}
	return stats
}

func (o *Orchestrator) recordStats(result *types.ExecutionResult) {
	o.statsMu.Lock()
	defer o.statsMu.Unlock()
	o.stats.TotalExecutions++
	if result.Success {
		o.stats.Successful++
	}
	o.stats.TotalCost += result.TotalCost
	o.stats.TotalTime += result.TotalTime
	for model, n := range result.ModelsUsed {
		o.stats.ModelUsage[model] += n
	}
}

func skippedResult(subtask types.Subtask, reason string) types.SubtaskResult {
	return types.SubtaskResult{
		Subtask: subtask,
		Success: false,
		Error:   "skipped: " + reason,
	}
}

func unmetDependency(subtask types.Subtask, succeeded map[string]bool) string {
	for _, dep := range subtask.Dependencies {
		if !succeeded[dep] {
			return dep
		}
	}
	return ""
}

func allSucceeded(results []types.SubtaskResult) bool {
	for _, sr := range results {
		if !sr.Success {
			return false
		}
	}
	return true
}
