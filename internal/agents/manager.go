// Package agents implements the four cognitive agents of the pipeline:
// the manager decomposes instructions into subtasks, the progress agent
// journals execution steps, the decision agent picks the next GUI action,
// and the reflection agent judges outcomes and decides retries.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"pcagent/internal/llm"
	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// TaskMemory recalls decompositions of similar past instructions. The
// SQLite store implements it; a nil memory disables recall.
type TaskMemory interface {
	SimilarTask(ctx context.Context, instruction string) (string, []types.Subtask, error)
	SaveDecomposition(ctx context.Context, instruction string, subtasks []types.Subtask) error
}

// ManagerAgent decomposes instructions into parameterized subtasks and
// carries outputs between them through a communication hub.
type ManagerAgent struct {
	client llm.Client
	memory TaskMemory

	// hub holds subtask outputs keyed by subtask ID so later subtasks
	// can reference earlier results.
	hub map[string]string
}

// NewManagerAgent creates a manager. client may be nil for rule-only
// decomposition; memory may be nil to disable recall.
func NewManagerAgent(client llm.Client, memory TaskMemory) *ManagerAgent {
	return &ManagerAgent{
		client: client,
		memory: memory,
		hub:    make(map[string]string),
	}
}

// Decomposition patterns for common PC-automation shapes. Each pattern
// produces a deterministic plan without an LLM call.
var (
	openAndActRe  = regexp.MustCompile(`(?i)^open\s+(\w[\w .-]*?)\s+and\s+(.+)$`)
	fileOpRe      = regexp.MustCompile(`(?i)\b(create|move|copy|delete|rename)\b.*\b(file|folder|document|directory)\b`)
	crossAppRe    = regexp.MustCompile(`(?i)\b(?:copy|transfer|export|import)\b\s+(.+?)\s+from\s+(\w[\w .-]*?)\s+(?:to|into)\s+(\w[\w .-]*)`)
	searchMakeRe  = regexp.MustCompile(`(?i)\bsearch\b\s+(?:for\s+)?(.+?)\s+and\s+(create|make|save|put)\b\s*(.*)$`)
)

// DecomposeTask turns an instruction into an ordered subtask list.
// Rule patterns are tried first; a memory hit shapes the LLM prompt; a
// malformed LLM plan degrades to a single subtask wrapping the whole
// instruction.
func (m *ManagerAgent) DecomposeTask(ctx context.Context, instruction string) ([]types.Subtask, error) {
	instruction = strings.TrimSpace(instruction)
	if instruction == "" {
		return nil, fmt.Errorf("empty instruction")
	}

	logging.Manager("decomposing: %.60s", instruction)

	if subtasks := m.ruleDecompose(instruction); len(subtasks) > 0 {
		logging.Manager("rule decomposition produced %d subtasks", len(subtasks))
		return subtasks, nil
	}

	if m.client == nil {
		// No model and no pattern hit: the whole instruction is one subtask.
		return []types.Subtask{types.NewSubtask(instruction)}, nil
	}

	subtasks, err := m.llmDecompose(ctx, instruction)
	if err != nil {
		return nil, err
	}

	if m.memory != nil {
		if err := m.memory.SaveDecomposition(ctx, instruction, subtasks); err != nil {
			logging.Get(logging.CategoryManager).Warn("could not save decomposition: %v", err)
		}
	}

	logging.Manager("llm decomposition produced %d subtasks", len(subtasks))
	return subtasks, nil
}

// ruleDecompose applies the pattern table. Empty result means no hit.
func (m *ManagerAgent) ruleDecompose(instruction string) []types.Subtask {
	if match := crossAppRe.FindStringSubmatch(instruction); match != nil {
		payload, source, target := match[1], match[2], match[3]
		extract := types.NewSubtask(fmt.Sprintf("Open %s and locate %s", source, payload))
		extract.Parameters = map[string]string{"app": source, "target": payload}
		extract.ExpectedOutput = payload
		extract.Complexity = 0.6

		deliver := types.NewSubtask(fmt.Sprintf("Open %s and insert %s", target, payload))
		deliver.Parameters = map[string]string{"app": target, "source": extract.ID}
		deliver.Dependencies = []string{extract.ID}
		deliver.Complexity = 0.7
		return []types.Subtask{extract, deliver}
	}

	if match := searchMakeRe.FindStringSubmatch(instruction); match != nil {
		query, rest := match[1], strings.TrimSpace(match[3])
		search := types.NewSubtask(fmt.Sprintf("Search for %s", query))
		search.Parameters = map[string]string{"query": query}
		search.ExpectedOutput = "search results for " + query
		search.Complexity = 0.6

		collect := types.NewSubtask(fmt.Sprintf("Collect results and %s %s", match[2], rest))
		collect.Parameters = map[string]string{"data": search.ID}
		collect.Dependencies = []string{search.ID}
		collect.Complexity = 0.7
		return []types.Subtask{search, collect}
	}

	if match := openAndActRe.FindStringSubmatch(instruction); match != nil {
		app, action := match[1], match[2]
		open := types.NewSubtask(fmt.Sprintf("Open %s", app))
		open.Parameters = map[string]string{"app": app}
		open.ExpectedOutput = app + " opened"
		open.Complexity = 0.3

		act := types.NewSubtask(strings.ToUpper(action[:1]) + action[1:])
		act.Parameters = map[string]string{"app": app}
		act.Dependencies = []string{open.ID}
		act.Complexity = 0.5
		return []types.Subtask{open, act}
	}

	if fileOpRe.MatchString(instruction) {
		op := types.NewSubtask(instruction)
		op.Parameters = map[string]string{"kind": "file_operation"}
		op.Complexity = 0.4
		return []types.Subtask{op}
	}

	return nil
}

// planPayload is the JSON shape requested from the manager model.
type planPayload struct {
	Subtasks []struct {
		ID             string            `json:"id"`
		Description    string            `json:"description"`
		Parameters     map[string]string `json:"parameters"`
		Dependencies   []string          `json:"dependencies"`
		ExpectedOutput string            `json:"expected_output"`
		Complexity     float64           `json:"complexity"`
	} `json:"subtasks"`
}

const decomposeSystem = `You decompose PC automation instructions into subtasks.
Respond only with JSON: {"subtasks": [{"id": "...", "description": "...",
"parameters": {}, "dependencies": [], "expected_output": "...", "complexity": 0.5}]}.
Dependencies reference subtask ids. Complexity is 0 to 1.`

func (m *ManagerAgent) llmDecompose(ctx context.Context, instruction string) ([]types.Subtask, error) {
	prompt := fmt.Sprintf("Decompose this PC task into subtasks:\n\n%s", instruction)

	if m.memory != nil {
		if past, plan, err := m.memory.SimilarTask(ctx, instruction); err == nil && len(plan) > 0 {
			hint, _ := json.Marshal(plan)
			prompt += fmt.Sprintf("\n\nA similar past task %q was decomposed as:\n%s\nAdapt as appropriate.", past, hint)
			logging.ManagerDebug("memory hit: %.60s", past)
		}
	}

	response, err := m.client.CompleteWithSystem(ctx, decomposeSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("decomposition request failed: %w", err)
	}

	var payload planPayload
	if err := json.Unmarshal([]byte(stripFences(response)), &payload); err != nil || len(payload.Subtasks) == 0 {
		// Malformed plan: execute the instruction as a single subtask
		// rather than failing the whole task.
		logging.Get(logging.CategoryManager).Warn("unparseable plan, wrapping instruction: %v", err)
		return []types.Subtask{types.NewSubtask(instruction)}, nil
	}

	subtasks := make([]types.Subtask, 0, len(payload.Subtasks))
	idMap := make(map[string]string, len(payload.Subtasks))
	for _, raw := range payload.Subtasks {
		st := types.Subtask{
			ID:             uuid.New().String(),
			Description:    strings.TrimSpace(raw.Description),
			Parameters:     raw.Parameters,
			ExpectedOutput: raw.ExpectedOutput,
			Complexity:     raw.Complexity,
		}
		if st.Complexity <= 0 || st.Complexity > 1 {
			st.Complexity = 0.5
		}
		if raw.ID != "" {
			idMap[raw.ID] = st.ID
		}
		// Dependencies resolved to generated IDs below.
		st.Dependencies = raw.Dependencies
		subtasks = append(subtasks, st)
	}

	// Rewrite model-chosen dependency IDs to the generated UUIDs.
	for i := range subtasks {
		for j, dep := range subtasks[i].Dependencies {
			if mapped, ok := idMap[dep]; ok {
				subtasks[i].Dependencies[j] = mapped
			}
		}
	}

	if err := ValidateSubtasks(subtasks); err != nil {
		logging.Get(logging.CategoryManager).Warn("invalid plan (%v), wrapping instruction", err)
		return []types.Subtask{types.NewSubtask(instruction)}, nil
	}
	return subtasks, nil
}

// ValidateSubtasks rejects empty descriptions, references to unknown
// subtasks, and dependency cycles.
func ValidateSubtasks(subtasks []types.Subtask) error {
	ids := make(map[string]bool, len(subtasks))
	for _, st := range subtasks {
		if strings.TrimSpace(st.Description) == "" {
			return fmt.Errorf("subtask %s has empty description", st.ID)
		}
		if ids[st.ID] {
			return fmt.Errorf("duplicate subtask id %s", st.ID)
		}
		ids[st.ID] = true
	}

	deps := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if !ids[dep] {
				return fmt.Errorf("subtask %s depends on unknown subtask %s", st.ID, dep)
			}
			deps[st.ID] = append(deps[st.ID], dep)
		}
	}

	// Cycle check by DFS coloring.
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(subtasks))
	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("dependency cycle through subtask %s", dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		color[id] = black
		return nil
	}
	for _, st := range subtasks {
		if color[st.ID] == white {
			if err := visit(st.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// OrderByDependencies returns subtasks in an order where every subtask
// follows all of its dependencies. The input order is preserved among
// independent subtasks.
func OrderByDependencies(subtasks []types.Subtask) ([]types.Subtask, error) {
	if err := ValidateSubtasks(subtasks); err != nil {
		return nil, err
	}

	byID := make(map[string]types.Subtask, len(subtasks))
	for _, st := range subtasks {
		byID[st.ID] = st
	}

	ordered := make([]types.Subtask, 0, len(subtasks))
	placed := make(map[string]bool, len(subtasks))
	var place func(st types.Subtask)
	place = func(st types.Subtask) {
		if placed[st.ID] {
			return
		}
		placed[st.ID] = true
		for _, dep := range st.Dependencies {
			place(byID[dep])
		}
		ordered = append(ordered, st)
	}
	for _, st := range subtasks {
		place(st)
	}
	return ordered, nil
}

// RecordOutput stores a subtask's output in the communication hub.
func (m *ManagerAgent) RecordOutput(subtaskID, output string) {
	m.hub[subtaskID] = output
	logging.ManagerDebug("hub[%s] = %.60s", subtaskID, output)
}

// Output returns a stored subtask output from the hub.
func (m *ManagerAgent) Output(subtaskID string) (string, bool) {
	out, ok := m.hub[subtaskID]
	return out, ok
}
