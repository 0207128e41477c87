// Package evaluator scores task outcomes with three independent
// checkers: file system state, visual screenshot comparison, and process
// state. The hybrid evaluator weights their scores by the kind of task
// being judged.
package evaluator

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"pcagent/internal/config"
	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// Task type names used for weight selection.
const (
	TaskFileOperations    = "file_operations"
	TaskAppManagement     = "app_management"
	TaskCrossAppWorkflows = "cross_app_workflows"
	TaskGUIInteractions   = "gui_interactions"
)

// checkWeights are the per-task-type weights for file/visual/process.
type checkWeights struct {
	file    float64
	visual  float64
	process float64
}

var taskWeights = map[string]checkWeights{
	TaskFileOperations:    {file: 0.7, visual: 0.2, process: 0.1},
	TaskAppManagement:     {file: 0.1, visual: 0.3, process: 0.6},
	TaskCrossAppWorkflows: {file: 0.4, visual: 0.4, process: 0.2},
	TaskGUIInteractions:   {file: 0.1, visual: 0.8, process: 0.1},
}

var (
	fileTaskKeywords = []string{"save", "create", "delete", "move", "copy", "rename", "export", "import"}
	appTaskKeywords  = []string{"open", "close", "launch", "exit", "start", "quit", "run"}
	crossAppApps     = []string{"chrome", "firefox", "word", "excel", "outlook", "notepad", "powerpoint"}
)

// VisualExpectation bundles the visual checks for one evaluation. Only
// supplied parts are checked.
type VisualExpectation struct {
	Before      []byte      `json:"-"`
	After       []byte      `json:"-"`
	Elements    []UIElement `json:"elements,omitempty"`
	PageHTML    string      `json:"-"`
	WindowTitle string      `json:"window_title,omitempty"`
}

// Expectations are everything an evaluation checks against.
type Expectations struct {
	Files     []FileExpectation
	Processes []ProcessExpectation
	Visual    *VisualExpectation
}

func (e Expectations) empty() bool {
	return len(e.Files) == 0 && len(e.Processes) == 0 && e.Visual == nil
}

// HybridEvaluator runs the three checkers concurrently and combines
// their scores.
type HybridEvaluator struct {
	cfg     config.EvaluatorConfig
	files   *FileMonitor
	visual  *VisualChecker
	process *ProcessVerifier

	mu      sync.Mutex
	history []types.EvalResult
}

// New creates a hybrid evaluator. The file monitor starts watching the
// configured paths when any are set.
func New(cfg config.EvaluatorConfig) (*HybridEvaluator, error) {
	files := NewFileMonitor()
	if len(cfg.WatchPaths) > 0 {
		if err := files.Watch(cfg.WatchPaths); err != nil {
			return nil, err
		}
	}
	return &HybridEvaluator{
		cfg:     cfg,
		files:   files,
		visual:  NewVisualChecker(cfg.VisualMethod),
		process: NewProcessVerifier(),
	}, nil
}

// Files exposes the file monitor for snapshot recording.
func (h *HybridEvaluator) Files() *FileMonitor {
	return h.files
}

// Visual exposes the visual checker (also the reflection agent's
// screen comparator).
func (h *HybridEvaluator) Visual() *VisualChecker {
	return h.visual
}

// Processes exposes the process verifier.
func (h *HybridEvaluator) Processes() *ProcessVerifier {
	return h.process
}

// Close stops the file watcher.
func (h *HybridEvaluator) Close() error {
	return h.files.Close()
}

// Evaluate scores the expectations for a task. Checks with no
// expectations do not run; the weights of the checks that did run are
// renormalized so the total stays in [0,1].
func (h *HybridEvaluator) Evaluate(ctx context.Context, taskDescription string, exps Expectations) (types.EvalResult, error) {
	taskType := ClassifyTask(taskDescription)
	weights := taskWeights[taskType]

	result := types.EvalResult{
		TaskType:    taskType,
		Scores:      make(map[string]float64),
		Threshold:   h.threshold(taskType),
		EvaluatedAt: time.Now(),
	}

	if exps.empty() {
		// Nothing to verify: trivially passed.
		result.TotalScore = 1.0
		result.Passed = true
		h.record(result)
		return result, nil
	}

	var (
		resultMu sync.Mutex
		weighted float64
		used     float64
	)
	addScore := func(name string, score, weight float64) {
		resultMu.Lock()
		result.Scores[name] = score
		result.ChecksRun = append(result.ChecksRun, name)
		weighted += score * weight
		used += weight
		resultMu.Unlock()
	}

	g, ctx := errgroup.WithContext(ctx)

	if len(exps.Files) > 0 {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			addScore("file", h.files.CheckExpectations(exps.Files), weights.file)
			return nil
		})
	}
	if exps.Visual != nil {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			score, err := h.visualScore(*exps.Visual)
			if err != nil {
				return err
			}
			addScore("visual", score, weights.visual)
			return nil
		})
	}
	if len(exps.Processes) > 0 {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			addScore("process", h.process.CheckExpectations(exps.Processes), weights.process)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return types.EvalResult{}, err
	}

	if used > 0 {
		result.TotalScore = weighted / used
	}
	result.Passed = result.TotalScore >= result.Threshold

	logging.Evaluator("%s: %s score %.2f threshold %.2f -> %v",
		taskType, strings.Join(result.ChecksRun, "+"), result.TotalScore, result.Threshold, result.Passed)

	h.record(result)
	return result, nil
}

// visualScore averages whichever visual sub-checks were supplied.
func (h *HybridEvaluator) visualScore(exp VisualExpectation) (float64, error) {
	var scores []float64

	if len(exp.Before) > 0 && len(exp.After) > 0 {
		sim, err := h.visual.Similarity(exp.Before, exp.After)
		if err != nil {
			return 0, err
		}
		scores = append(scores, sim)
	}
	if len(exp.Elements) > 0 && exp.PageHTML != "" {
		score, err := h.visual.CheckUIElements(exp.PageHTML, exp.Elements)
		if err != nil {
			return 0, err
		}
		scores = append(scores, score)
	}
	if exp.WindowTitle != "" && exp.PageHTML != "" {
		ok, err := h.visual.CheckWindowTitle(exp.PageHTML, exp.WindowTitle)
		if err != nil {
			return 0, err
		}
		if ok {
			scores = append(scores, 1.0)
		} else {
			scores = append(scores, 0.0)
		}
	}

	if len(scores) == 0 {
		return 0, nil
	}
	var total float64
	for _, s := range scores {
		total += s
	}
	return total / float64(len(scores)), nil
}

// threshold applies the per-task-type override when configured.
func (h *HybridEvaluator) threshold(taskType string) float64 {
	if t, ok := h.cfg.TaskThresholds[taskType]; ok {
		return t
	}
	if h.cfg.DefaultThreshold > 0 {
		return h.cfg.DefaultThreshold
	}
	return 0.7
}

func (h *HybridEvaluator) record(result types.EvalResult) {
	h.mu.Lock()
	h.history = append(h.history, result)
	h.mu.Unlock()
}

// EvalStats aggregates the evaluation history.
type EvalStats struct {
	Total        int            `json:"total"`
	Passed       int            `json:"passed"`
	PassRate     float64        `json:"pass_rate"`
	AverageScore float64        `json:"average_score"`
	TypeCounts   map[string]int `json:"type_counts"`
}

// Stats summarizes all evaluations seen so far.
func (h *HybridEvaluator) Stats() EvalStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	stats := EvalStats{TypeCounts: make(map[string]int)}
	stats.Total = len(h.history)
	var scoreSum float64
	for _, r := range h.history {
		if r.Passed {
			stats.Passed++
		}
		scoreSum += r.TotalScore
		stats.TypeCounts[r.TaskType]++
	}
	if stats.Total > 0 {
		stats.PassRate = float64(stats.Passed) / float64(stats.Total)
		stats.AverageScore = scoreSum / float64(stats.Total)
	}
	return stats
}

// ClassifyTask buckets a task description into one of the four task
// types. Two or more app mentions override the keyword buckets.
func ClassifyTask(description string) string {
	lower := strings.ToLower(description)

	appCount := 0
	for _, app := range crossAppApps {
		if strings.Contains(lower, app) {
			appCount++
		}
	}
	if appCount > 1 {
		return TaskCrossAppWorkflows
	}

	for _, kw := range fileTaskKeywords {
		if strings.Contains(lower, kw) {
			return TaskFileOperations
		}
	}
	for _, kw := range appTaskKeywords {
		if strings.Contains(lower, kw) {
			return TaskAppManagement
		}
	}
	return TaskGUIInteractions
}
