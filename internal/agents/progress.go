package agents

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// ProgressAgent is a thread-safe journal of execution steps, keyed by
// subtask. The orchestrator records every action outcome here and the
// decision agent reads compact summaries back into its prompts.
type ProgressAgent struct {
	mu      sync.RWMutex
	history map[string][]types.ProgressUpdate
	current map[string]string // subtask ID -> latest status

	// subscriber receives every update when set. A full channel drops
	// the update rather than blocking the execution loop.
	subscriber chan<- types.ProgressUpdate
}

// NewProgressAgent creates an empty journal.
func NewProgressAgent() *ProgressAgent {
	return &ProgressAgent{
		history: make(map[string][]types.ProgressUpdate),
		current: make(map[string]string),
	}
}

// Subscribe routes a copy of every recorded update to ch. Pass nil to
// unsubscribe. Used by the TUI run view.
func (p *ProgressAgent) Subscribe(ch chan<- types.ProgressUpdate) {
	p.mu.Lock()
	p.subscriber = ch
	p.mu.Unlock()
}

// RecordStep journals one step for a subtask.
func (p *ProgressAgent) RecordStep(subtaskID string, stepNumber int, action, result, status string) {
	update := types.ProgressUpdate{
		SubtaskID:  subtaskID,
		StepNumber: stepNumber,
		Action:     action,
		Result:     result,
		Status:     status,
		Timestamp:  time.Now(),
	}

	p.mu.Lock()
	p.history[subtaskID] = append(p.history[subtaskID], update)
	p.current[subtaskID] = status
	sub := p.subscriber
	p.mu.Unlock()

	logging.Progress("%s step %d: %s -> %s", subtaskID, stepNumber, action, status)

	if sub != nil {
		select {
		case sub <- update:
		default:
			// Slow consumer; recording must not stall execution.
		}
	}
}

// Summary returns a compact history for prompt context.
func (p *ProgressAgent) Summary(subtaskID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	updates := p.history[subtaskID]
	if len(updates) == 0 {
		return "No progress recorded"
	}

	var completed, failed int
	for _, u := range updates {
		switch u.Status {
		case types.StatusCompleted:
			completed++
		case types.StatusFailed:
			failed++
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Status: %s | steps: %d completed, %d failed, %d total\n",
		p.current[subtaskID], completed, failed, len(updates))
	fmt.Fprintf(&sb, "Last action: %s (%s)", updates[len(updates)-1].Action, updates[len(updates)-1].Status)
	return sb.String()
}

// FailedSteps returns the failed steps for a subtask.
func (p *ProgressAgent) FailedSteps(subtaskID string) []types.ProgressUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var failed []types.ProgressUpdate
	for _, u := range p.history[subtaskID] {
		if u.Status == types.StatusFailed {
			failed = append(failed, u)
		}
	}
	return failed
}

// CurrentState returns the latest status per subtask.
func (p *ProgressAgent) CurrentState() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	state := make(map[string]string, len(p.current))
	for id, status := range p.current {
		state[id] = status
	}
	return state
}

// IsComplete reports whether a subtask's latest status is completed.
func (p *ProgressAgent) IsComplete(subtaskID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current[subtaskID] == types.StatusCompleted
}

// Snapshot returns a copy of the full journal.
func (p *ProgressAgent) Snapshot() map[string][]types.ProgressUpdate {
	p.mu.RLock()
	defer p.mu.RUnlock()

	snap := make(map[string][]types.ProgressUpdate, len(p.history))
	for id, updates := range p.history {
		cp := make([]types.ProgressUpdate, len(updates))
		copy(cp, updates)
		snap[id] = cp
	}
	return snap
}

// Reset clears the journal between tasks.
func (p *ProgressAgent) Reset() {
	p.mu.Lock()
	p.history = make(map[string][]types.ProgressUpdate)
	p.current = make(map[string]string)
	p.mu.Unlock()
}
