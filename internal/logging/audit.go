// Audit logging: one JSONL file per day recording every consequential
// orchestration event (routing decisions, LLM calls, driver actions,
// evaluations, expenses). The file is the ground truth when replaying why
// a task cost what it cost or why a subtask was retried.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType names a kind of audit event.
type AuditEventType string

const (
	// Task lifecycle
	AuditTaskStart    AuditEventType = "task_start"
	AuditTaskComplete AuditEventType = "task_complete"
	AuditTaskAbort    AuditEventType = "task_abort"

	// Subtask lifecycle
	AuditSubtaskStart    AuditEventType = "subtask_start"
	AuditSubtaskComplete AuditEventType = "subtask_complete"
	AuditSubtaskRetry    AuditEventType = "subtask_retry"
	AuditSubtaskSkip     AuditEventType = "subtask_skip"

	// Routing and spend
	AuditRouteDecision AuditEventType = "route_decision"
	AuditExpense       AuditEventType = "expense"
	AuditBudgetAlert   AuditEventType = "budget_alert"

	// Execution
	AuditActionPerform AuditEventType = "action_perform"
	AuditActionError   AuditEventType = "action_error"
	AuditLLMRequest    AuditEventType = "llm_request"
	AuditLLMError      AuditEventType = "llm_error"

	// Evaluation
	AuditEvaluation AuditEventType = "evaluation"
	AuditReflection AuditEventType = "reflection"
)

// AuditEvent is one JSONL record in the audit trail.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	TaskID     string                 `json:"task,omitempty"`
	SubtaskID  string                 `json:"subtask,omitempty"`
	Target     string                 `json:"target,omitempty"` // model, path, action type
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Cost       float64                `json:"cost,omitempty"`
	Score      float64                `json:"score,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit trail. No-op when logging is disabled.
func InitAudit() error {
	if !enabled() || logsDir == "" {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	date := time.Now().Format("2006-01-02")
	path := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("logging: create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit trail file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// AuditLogger emits events pre-scoped to a task.
type AuditLogger struct {
	taskID string
}

// AuditForTask returns an audit logger scoped to one task.
func AuditForTask(taskID string) *AuditLogger {
	return &AuditLogger{taskID: taskID}
}

// Log writes one audit event, filling defaults from the scope.
func (a *AuditLogger) Log(event AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.TaskID == "" {
		event.TaskID = a.taskID
	}

	if data, err := json.Marshal(event); err == nil {
		auditFile.Write(append(data, '\n'))
	}
}

// Route records a routing decision.
func (a *AuditLogger) Route(subtaskID, model string, complexity, estCost float64) {
	a.Log(AuditEvent{
		EventType: AuditRouteDecision,
		SubtaskID: subtaskID,
		Target:    model,
		Success:   true,
		Cost:      estCost,
		Fields:    map[string]interface{}{"complexity": complexity},
	})
}

// Expense records a posted cost.
func (a *AuditLogger) Expense(subtaskID, model string, cost float64) {
	a.Log(AuditEvent{
		EventType: AuditExpense,
		SubtaskID: subtaskID,
		Target:    model,
		Success:   true,
		Cost:      cost,
	})
}

// Action records a driver action outcome.
func (a *AuditLogger) Action(subtaskID, actionType string, err error, took time.Duration) {
	ev := AuditEvent{
		EventType:  AuditActionPerform,
		SubtaskID:  subtaskID,
		Target:     actionType,
		Success:    err == nil,
		DurationMs: took.Milliseconds(),
	}
	if err != nil {
		ev.EventType = AuditActionError
		ev.Error = err.Error()
	}
	a.Log(ev)
}

// Evaluation records a hybrid evaluation score.
func (a *AuditLogger) Evaluation(subtaskID string, score float64, passed bool) {
	a.Log(AuditEvent{
		EventType: AuditEvaluation,
		SubtaskID: subtaskID,
		Success:   passed,
		Score:     score,
	})
}
