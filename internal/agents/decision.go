package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"pcagent/internal/llm"
	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// DecisionAgent chooses the next GUI action for a subtask. Simple
// subtasks resolve through rules; anything needing reasoning goes to the
// configured decision model.
type DecisionAgent struct {
	client llm.Client

	mu      sync.Mutex
	history []types.Action
}

// NewDecisionAgent creates a decision agent. A nil client restricts the
// agent to rule-based decisions.
func NewDecisionAgent(client llm.Client) *DecisionAgent {
	return &DecisionAgent{client: client}
}

// historyWindow is how many recent actions appear in the prompt.
const historyWindow = 5

// complexKeywords mark subtasks that need model reasoning.
var complexKeywords = []string{
	"analyze", "summarize", "compare", "extract", "translate",
	"calculate", "format", "organize", "verify", "decide",
	"if ", "unless", "depending on", "based on",
}

var (
	typeTextRe = regexp.MustCompile(`(?i)type\s+["'](.+?)["']`)
	openAppRe  = regexp.MustCompile(`(?i)\bopen\s+(\w[\w .-]*)`)
	pressRe    = regexp.MustCompile(`(?i)\bpress\s+([\w+]+)`)
)

// NextAction decides the next action given the subtask, a progress
// summary, and the previous reflection feedback (may be empty).
func (d *DecisionAgent) NextAction(ctx context.Context, subtask types.Subtask, progress, reflection string) (types.Action, error) {
	logging.Decision("deciding for: %.60s", subtask.Description)

	var action types.Action
	var err error
	if d.client != nil && requiresReasoning(subtask.Description) {
		action, err = d.modelDecision(ctx, subtask, progress, reflection)
		if err != nil {
			logging.Get(logging.CategoryDecision).Warn("model decision failed, falling back to rules: %v", err)
			action = d.ruleDecision(subtask)
			err = nil
		}
	} else {
		action = d.ruleDecision(subtask)
	}

	if verr := action.Validate(); verr != nil {
		return types.Action{}, fmt.Errorf("decided invalid action: %w", verr)
	}

	d.mu.Lock()
	d.history = append(d.history, action)
	d.mu.Unlock()

	logging.DecisionDebug("action %s confidence %.2f", action.Type, action.Confidence)
	return action, err
}

// requiresReasoning checks for keywords that rule patterns cannot cover.
func requiresReasoning(description string) bool {
	lower := strings.ToLower(description)
	for _, kw := range complexKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ruleDecision resolves simple open/type/press/click shapes.
func (d *DecisionAgent) ruleDecision(subtask types.Subtask) types.Action {
	desc := subtask.Description

	if m := typeTextRe.FindStringSubmatch(desc); m != nil {
		return types.Action{
			Type:       types.ActionTypeText,
			Parameters: map[string]string{"text": m[1]},
			Confidence: 0.7,
			Reasoning:  "rule: quoted text to type",
		}
	}

	if m := pressRe.FindStringSubmatch(desc); m != nil {
		return types.Action{
			Type:       types.ActionShortcut,
			Parameters: map[string]string{"keys": m[1]},
			Confidence: 0.7,
			Reasoning:  "rule: key press",
		}
	}

	if m := openAppRe.FindStringSubmatch(desc); m != nil {
		return types.Action{
			Type:       types.ActionSelect,
			Parameters: map[string]string{"target": strings.TrimSpace(m[1])},
			Confidence: 0.7,
			Reasoning:  "rule: open application",
		}
	}

	if x, y, ok := extractCoordinates(desc); ok {
		return types.Action{
			Type:       types.ActionClick,
			Parameters: map[string]string{"x": x, "y": y},
			Confidence: 0.8,
			Reasoning:  "rule: click at stated coordinates",
		}
	}

	// Nothing matched; stop rather than guess.
	return types.Action{
		Type:       types.ActionStop,
		Parameters: map[string]string{},
		Confidence: 0.5,
		Reasoning:  "rule: no clear action identified",
	}
}

// actionPayload is the JSON shape requested from the decision model.
type actionPayload struct {
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters"`
	Confidence float64           `json:"confidence"`
	Reasoning  string            `json:"reasoning"`
}

const decisionSystem = `You control a PC through GUI actions. Available actions
and required parameters:
click{x,y} double_click{x,y} type{text} select{target}
drag{from_x,from_y,to_x,to_y} scroll{direction,amount} shortcut{keys} stop{}
Respond only with JSON:
{"action": "...", "parameters": {...}, "confidence": 0.0, "reasoning": "..."}`

func (d *DecisionAgent) modelDecision(ctx context.Context, subtask types.Subtask, progress, reflection string) (types.Action, error) {
	if reflection == "" {
		reflection = "none"
	}
	prompt := fmt.Sprintf(
		"Current subtask: %s\nExpected output: %s\nProgress:\n%s\nPrevious reflection: %s\nRecent actions:\n%s\n\nDecide the next action.",
		subtask.Description, subtask.ExpectedOutput, progress, reflection, d.formatHistory())

	response, err := d.client.CompleteWithSystem(ctx, decisionSystem, prompt)
	if err != nil {
		return types.Action{}, fmt.Errorf("decision request failed: %w", err)
	}

	var payload actionPayload
	if err := json.Unmarshal([]byte(stripFences(response)), &payload); err != nil {
		// Coordinates mentioned only in prose are still recoverable.
		if x, y, ok := extractCoordinates(response); ok {
			return types.Action{
				Type:       types.ActionClick,
				Parameters: map[string]string{"x": x, "y": y},
				Confidence: 0.6,
				Reasoning:  "coordinates recovered from unstructured response",
			}, nil
		}
		return types.Action{}, fmt.Errorf("unparseable action response: %w", err)
	}

	if payload.Parameters == nil {
		payload.Parameters = map[string]string{}
	}
	action := types.Action{
		Type:       types.ActionType(payload.Action),
		Parameters: payload.Parameters,
		Confidence: payload.Confidence,
		Reasoning:  payload.Reasoning,
	}
	if err := action.Validate(); err != nil {
		return types.Action{}, err
	}
	return action, nil
}

// formatHistory renders the last few actions for the prompt.
func (d *DecisionAgent) formatHistory() string {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.history) == 0 {
		return "no previous actions"
	}
	recent := d.history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}
	var sb strings.Builder
	for i, a := range recent {
		fmt.Fprintf(&sb, "%d. %s: %.50s\n", i+1, a.Type, a.Reasoning)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// History returns a copy of all decided actions.
func (d *DecisionAgent) History() []types.Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]types.Action, len(d.history))
	copy(out, d.history)
	return out
}

// Reset clears the action history between subtasks.
func (d *DecisionAgent) Reset() {
	d.mu.Lock()
	d.history = nil
	d.mu.Unlock()
}
