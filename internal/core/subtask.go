package core

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"pcagent/internal/agents"
	"pcagent/internal/config"
	"pcagent/internal/evaluator"
	"pcagent/internal/llm"
	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// executeSubtask routes one subtask and runs its decision loop,
// retrying per the execution config. Failures are captured in the
// result; only context cancellation propagates as abandonment.
func (o *Orchestrator) executeSubtask(ctx context.Context, taskID string, subtask types.Subtask) types.SubtaskResult {
	start := time.Now()
	sr := types.SubtaskResult{Subtask: subtask}
	audit := logging.AuditForTask(taskID)
	audit.Log(logging.AuditEvent{EventType: logging.AuditSubtaskStart, SubtaskID: subtask.ID, Success: true, Message: subtask.Description})
	defer func() {
		sr.Duration = time.Since(start)
		audit.Log(logging.AuditEvent{
			EventType:  logging.AuditSubtaskComplete,
			SubtaskID:  subtask.ID,
			Target:     sr.ModelUsed,
			Success:    sr.Success,
			Cost:       sr.Cost,
			DurationMs: sr.Duration.Milliseconds(),
			Error:      sr.Error,
		})
	}()

	decision, err := o.rtr.Route(ctx, subtask)
	if err != nil {
		sr.Error = fmt.Sprintf("routing failed: %v", err)
		return sr
	}
	sr.Tier = decision.Tier.Name
	sr.ModelUsed = decision.Tier.Model
	logging.Orchestrator("subtask %.60q -> %s (%s), est $%.4f",
		subtask.Description, decision.Tier.Name, decision.Tier.Model, decision.EstimatedCost)
	audit.Route(subtask.ID, decision.Tier.Model, decision.Complexity, decision.EstimatedCost)

	client, err := o.clientForTier(decision.Tier)
	if err != nil {
		sr.Error = fmt.Sprintf("no client for tier %s: %v", decision.Tier.Name, err)
		return sr
	}

	maxAttempts := o.cfg.Execution.MaxRetries + 1
	reflectionHint := ""
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		sr.Attempts = attempt
		if err := ctx.Err(); err != nil {
			sr.Error = err.Error()
			return sr
		}
		if attempt > 1 {
			logging.Orchestrator("retry %d/%d for %.60q", attempt-1, maxAttempts-1, subtask.Description)
			audit.Log(logging.AuditEvent{EventType: logging.AuditSubtaskRetry, SubtaskID: subtask.ID, Message: reflectionHint})
			select {
			case <-time.After(o.cfg.GetRetryDelay()):
			case <-ctx.Done():
				sr.Error = ctx.Err().Error()
				return sr
			}
		}

		outcome := o.runAttempt(ctx, subtask, client, &sr, reflectionHint)
		if decision.Tier.Name != config.TierRule {
			sr.Cost += decision.EstimatedCost
			o.rtr.RecordActualCost(decision, taskID, decision.EstimatedCost, subtask.Description)
			audit.Expense(subtask.ID, decision.Tier.Model, decision.EstimatedCost)
		}

		if o.cfg.Evaluator.Enabled {
			evalResult, err := o.eval.Evaluate(ctx, subtask.Description, o.deriveExpectations(subtask))
			if err != nil {
				logging.OrchestratorError("evaluation failed for %.60q: %v", subtask.Description, err)
			} else {
				sr.Evaluation = &evalResult
				audit.Evaluation(subtask.ID, evalResult.TotalScore, evalResult.Passed)
			}
		}

		reflection := o.reflection.Reflect(ctx, subtask, outcome)
		sr.Reflection = &reflection

		sr.Success = reflection.Status != types.ReflectFailure &&
			(sr.Evaluation == nil || sr.Evaluation.Passed)
		if sr.Success {
			sr.Error = ""
			o.progress.RecordStep(subtask.ID, len(sr.Actions)+1, "done", outcome.Output, types.StatusCompleted)
			return sr
		}

		sr.Error = firstIssue(reflection)
		if !reflection.ShouldRetry {
			break
		}
		reflectionHint = strings.Join(reflection.Suggestions, "; ")
	}
	o.progress.RecordStep(subtask.ID, len(sr.Actions)+1, "done", sr.Error, types.StatusFailed)
	return sr
}

// runAttempt drives the decision/perform loop for one attempt and
// returns the outcome handed to reflection.
func (o *Orchestrator) runAttempt(ctx context.Context, subtask types.Subtask, client llm.Client, sr *types.SubtaskResult, hint string) agents.Outcome {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.GetSubtaskTimeout())
	defer cancel()

	decider := agents.NewDecisionAgent(client)
	screenBefore, err := o.drv.Screenshot(ctx)
	if err != nil {
		logging.OrchestratorDebug("no before screenshot: %v", err)
	}

	feedback := hint
	var outputs []string
	var lastErr string
	for step := 1; step <= o.cfg.Execution.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			lastErr = err.Error()
			break
		}

		action, err := decider.NextAction(ctx, subtask, o.progress.Summary(subtask.ID), feedback)
		if err != nil {
			lastErr = err.Error()
			o.progress.RecordStep(subtask.ID, step, "decide", lastErr, types.StatusFailed)
			break
		}
		if action.Type == types.ActionStop {
			break
		}

		result, err := o.drv.Perform(ctx, action)
		if err != nil {
			lastErr = err.Error()
			o.progress.RecordStep(subtask.ID, step, string(action.Type), lastErr, types.StatusFailed)
			break
		}
		sr.Actions = append(sr.Actions, result)

		status := types.StatusInProgress
		if !result.Success {
			status = types.StatusFailed
			lastErr = result.Error
			feedback = result.Error
		} else if result.Output != "" {
			outputs = append(outputs, result.Output)
		}
		o.progress.RecordStep(subtask.ID, step, string(action.Type), result.Output, status)
		if !result.Success {
			break
		}
	}

	screenAfter, err := o.drv.Screenshot(ctx)
	if err != nil {
		logging.OrchestratorDebug("no after screenshot: %v", err)
	}

	outcome := agents.Outcome{
		Output:       strings.Join(outputs, "; "),
		Err:          lastErr,
		ScreenBefore: screenBefore,
		ScreenAfter:  screenAfter,
	}
	sr.Output = outcome.Output
	return outcome
}

// clientForTier returns the LLM client serving a tier. The rule tier
// needs none; an injected decision client serves every model tier.
func (o *Orchestrator) clientForTier(tier config.ModelTier) (llm.Client, error) {
	if tier.Name == config.TierRule {
		return nil, nil
	}
	if o.decisionClient != nil {
		return o.decisionClient, nil
	}

	o.clientMu.Lock()
	defer o.clientMu.Unlock()
	if client, ok := o.tierClients[tier.Name]; ok {
		return client, nil
	}
	client, err := llm.NewClientForTier(tier, o.cfg)
	if err != nil {
		return nil, err
	}
	o.tierClients[tier.Name] = client
	return client, nil
}

var quotedPathRe = regexp.MustCompile(`['"]([^'"]+\.[A-Za-z0-9]{1,5})['"]`)

// deriveExpectations builds evaluator expectations from the subtask's
// parameters and description. Nothing derivable means the evaluation
// trivially passes and reflection alone judges the outcome.
func (o *Orchestrator) deriveExpectations(subtask types.Subtask) evaluator.Expectations {
	var exps evaluator.Expectations
	lower := strings.ToLower(subtask.Description)

	path := subtask.Parameters["path"]
	if path == "" {
		if m := quotedPathRe.FindStringSubmatch(subtask.Description); m != nil {
			path = m[1]
		}
	}
	if path != "" {
		condition := evaluator.FileExists
		switch {
		case strings.Contains(lower, "delete") || strings.Contains(lower, "remove"):
			condition = evaluator.FileDeleted
		case strings.Contains(lower, "create") || strings.Contains(lower, "save") ||
			strings.Contains(lower, "write"):
			condition = evaluator.FileCreated
		case strings.Contains(lower, "edit") || strings.Contains(lower, "modify") ||
			strings.Contains(lower, "update") || strings.Contains(lower, "append"):
			condition = evaluator.FileModified
		}
		exps.Files = append(exps.Files, evaluator.FileExpectation{
			Path:      path,
			Condition: condition,
			Content:   subtask.Parameters["content"],
		})
	}

	if app := subtask.Parameters["app"]; app != "" {
		condition := evaluator.ProcessRunning
		if strings.Contains(lower, "close") || strings.Contains(lower, "quit") ||
			strings.Contains(lower, "exit") {
			condition = evaluator.ProcessNotRunning
		}
		exps.Processes = append(exps.Processes, evaluator.ProcessExpectation{
			Name:      app,
			Condition: condition,
		})
	}

	return exps
}

func firstIssue(reflection types.ReflectionResult) string {
	if len(reflection.Issues) > 0 {
		return reflection.Issues[0]
	}
	return "subtask did not meet its expected outcome"
}
