// Package types holds the domain records shared across the agent
// pipeline: subtasks, GUI actions, progress updates, reflection verdicts,
// and the execution results the store persists. Keeping them here keeps
// the agents, router, evaluator, and store free of each other.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Subtask is one unit of work produced by task decomposition.
type Subtask struct {
	ID             string            `json:"id"`
	Description    string            `json:"description"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	Dependencies   []string          `json:"dependencies,omitempty"`
	ExpectedOutput string            `json:"expected_output,omitempty"`

	// Complexity is the decomposer's hint in [0,1]; the router rescores it.
	Complexity float64 `json:"complexity"`
}

// NewSubtask creates a subtask with a fresh ID.
func NewSubtask(description string) Subtask {
	return Subtask{
		ID:          uuid.New().String(),
		Description: description,
		Complexity:  0.5,
	}
}

// ActionType names one GUI action the decision agent can emit.
type ActionType string

const (
	ActionClick       ActionType = "click"
	ActionDoubleClick ActionType = "double_click"
	ActionTypeText    ActionType = "type"
	ActionSelect      ActionType = "select"
	ActionDrag        ActionType = "drag"
	ActionScroll      ActionType = "scroll"
	ActionShortcut    ActionType = "shortcut"
	ActionStop        ActionType = "stop"
)

// RequiredParams maps each action type to the parameters it must carry.
var RequiredParams = map[ActionType][]string{
	ActionClick:       {"x", "y"},
	ActionDoubleClick: {"x", "y"},
	ActionTypeText:    {"text"},
	ActionSelect:      {"target"},
	ActionDrag:        {"from_x", "from_y", "to_x", "to_y"},
	ActionScroll:      {"direction", "amount"},
	ActionShortcut:    {"keys"},
	ActionStop:        {},
}

// Action is one executable GUI step.
type Action struct {
	Type       ActionType        `json:"type"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning,omitempty"`
}

// Validate checks the action type and its required parameters.
func (a Action) Validate() error {
	required, ok := RequiredParams[a.Type]
	if !ok {
		return fmt.Errorf("unknown action type: %s", a.Type)
	}
	for _, param := range required {
		if _, present := a.Parameters[param]; !present {
			return fmt.Errorf("action %s missing parameter %q", a.Type, param)
		}
	}
	return nil
}

// ActionResult is what a driver reports back after performing an action.
type ActionResult struct {
	Action   Action        `json:"action"`
	Output   string        `json:"output,omitempty"`
	Success  bool          `json:"success"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Step statuses recorded by the progress agent.
const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusSkipped    = "skipped"
)

// ProgressUpdate is one journal entry for a subtask step.
type ProgressUpdate struct {
	SubtaskID  string    `json:"subtask_id"`
	StepNumber int       `json:"step_number"`
	Action     string    `json:"action"`
	Result     string    `json:"result,omitempty"`
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
}

// Reflection statuses.
const (
	ReflectSuccess        = "success"
	ReflectPartialSuccess = "partial_success"
	ReflectFailure        = "failure"
)

// ReflectionResult is the reflection agent's verdict on a subtask outcome.
type ReflectionResult struct {
	Status      string   `json:"status"`
	Score       float64  `json:"score"`
	Issues      []string `json:"issues,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	ShouldRetry bool     `json:"should_retry"`
}

// EvalResult summarizes one hybrid evaluation.
type EvalResult struct {
	TaskType    string             `json:"task_type"`
	Scores      map[string]float64 `json:"scores"` // file, visual, process
	TotalScore  float64            `json:"total_score"`
	Threshold   float64            `json:"threshold"`
	Passed      bool               `json:"passed"`
	ChecksRun   []string           `json:"checks_run,omitempty"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}

// SubtaskResult records one subtask's execution.
type SubtaskResult struct {
	Subtask    Subtask           `json:"subtask"`
	Success    bool              `json:"success"`
	ModelUsed  string            `json:"model_used"`
	Tier       string            `json:"tier"`
	Cost       float64           `json:"cost"`
	Duration   time.Duration     `json:"duration"`
	Attempts   int               `json:"attempts"`
	Actions    []ActionResult    `json:"actions,omitempty"`
	Output     string            `json:"output,omitempty"`
	Evaluation *EvalResult       `json:"evaluation,omitempty"`
	Reflection *ReflectionResult `json:"reflection,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// ExecutionResult is the end-to-end outcome of one task.
type ExecutionResult struct {
	TaskID           string             `json:"task_id"`
	Instruction      string             `json:"instruction"`
	Success          bool               `json:"success"`
	SubtaskResults   []SubtaskResult    `json:"subtask_results"`
	TotalCost        float64            `json:"total_cost"`
	TotalTime        time.Duration      `json:"total_time"`
	ModelsUsed       map[string]int     `json:"models_used"`
	EvaluationScores map[string]float64 `json:"evaluation_scores,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	StartedAt        time.Time          `json:"started_at"`
}

// ExecutionStats aggregates across stored executions.
type ExecutionStats struct {
	TotalExecutions int            `json:"total_executions"`
	Successful      int            `json:"successful"`
	SuccessRate     float64        `json:"success_rate"`
	TotalCost       float64        `json:"total_cost"`
	AverageCost     float64        `json:"average_cost"`
	TotalTime       time.Duration  `json:"total_time"`
	AverageTime     time.Duration  `json:"average_time"`
	ModelUsage      map[string]int `json:"model_usage"`
}
