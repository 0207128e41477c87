package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"pcagent/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "state.db"), 100)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleExecution(id string, success bool, cost float64) types.ExecutionResult {
	sub := types.NewSubtask("open the text editor")
	return types.ExecutionResult{
		TaskID:      id,
		Instruction: "open editor and write notes",
		Success:     success,
		TotalCost:   cost,
		TotalTime:   3 * time.Second,
		ModelsUsed:  map[string]int{"gpt-4o": 2, "rule-based": 1},
		StartedAt:   time.Now(),
		SubtaskResults: []types.SubtaskResult{
			{
				Subtask:   sub,
				Success:   success,
				ModelUsed: "gpt-4o",
				Tier:      "premium",
				Cost:      cost,
				Duration:  time.Second,
				Attempts:  1,
				Output:    "editor opened",
				Actions: []types.ActionResult{
					{Output: "clicked at (10,20)", Success: true},
				},
				Evaluation: &types.EvalResult{TaskType: "gui_interactions", TotalScore: 0.9, Passed: success},
			},
		},
	}
}

func TestRecordAndRecentExecutions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	want := sampleExecution("task-1", true, 0.05)
	if err := s.RecordExecution(ctx, want); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}

	got, err := s.RecentExecutions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d executions, want 1", len(got))
	}
	r := got[0]
	if r.TaskID != want.TaskID || r.Instruction != want.Instruction {
		t.Errorf("identity mismatch: %+v", r)
	}
	if !r.Success || r.TotalCost != want.TotalCost {
		t.Errorf("outcome mismatch: success=%v cost=%v", r.Success, r.TotalCost)
	}
	if r.ModelsUsed["gpt-4o"] != 2 {
		t.Errorf("ModelsUsed = %v", r.ModelsUsed)
	}
	if len(r.SubtaskResults) != 1 {
		t.Fatalf("got %d subtask results, want 1", len(r.SubtaskResults))
	}
	sr := r.SubtaskResults[0]
	if sr.Tier != "premium" || sr.Output != "editor opened" || sr.Attempts != 1 {
		t.Errorf("subtask result mismatch: %+v", sr)
	}
	if sr.Subtask.Description != "open the text editor" {
		t.Errorf("Subtask.Description = %q", sr.Subtask.Description)
	}
	if sr.Evaluation == nil || sr.Evaluation.TotalScore != 0.9 {
		t.Errorf("Evaluation = %+v", sr.Evaluation)
	}
	if sr.Reflection != nil {
		t.Error("Reflection should stay nil when not recorded")
	}
	if len(sr.Actions) != 1 || sr.Actions[0].Output != "clicked at (10,20)" {
		t.Errorf("Actions = %+v", sr.Actions)
	}
}

func TestRecentExecutionsOrderAndLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := sampleExecution(fmt.Sprintf("task-%d", i), true, 0.01)
		e.StartedAt = time.Date(2025, 6, 1+i, 12, 0, 0, 0, time.UTC)
		if err := s.RecordExecution(ctx, e); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	got, err := s.RecentExecutions(ctx, 3)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d executions, want 3", len(got))
	}
	for i, want := range []string{"task-4", "task-3", "task-2"} {
		if got[i].TaskID != want {
			t.Errorf("position %d = %s, want %s", i, got[i].TaskID, want)
		}
	}
}

func TestRecordExecutionReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := sampleExecution("task-1", false, 0.10)
	if err := s.RecordExecution(ctx, first); err != nil {
		t.Fatalf("RecordExecution: %v", err)
	}
	second := sampleExecution("task-1", true, 0.02)
	if err := s.RecordExecution(ctx, second); err != nil {
		t.Fatalf("RecordExecution (replace): %v", err)
	}

	got, err := s.RecentExecutions(ctx, 10)
	if err != nil {
		t.Fatalf("RecentExecutions: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d executions, want 1", len(got))
	}
	if !got[0].Success || got[0].TotalCost != 0.02 {
		t.Errorf("replacement not applied: %+v", got[0])
	}
	if len(got[0].SubtaskResults) != 1 {
		t.Errorf("stale subtask rows survived: %d", len(got[0].SubtaskResults))
	}
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats (empty): %v", err)
	}
	if empty.TotalExecutions != 0 || empty.SuccessRate != 0 {
		t.Errorf("empty stats = %+v", empty)
	}

	for i, ok := range []bool{true, true, false, true} {
		if err := s.RecordExecution(ctx, sampleExecution(fmt.Sprintf("task-%d", i), ok, 0.10)); err != nil {
			t.Fatalf("RecordExecution: %v", err)
		}
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalExecutions != 4 || stats.Successful != 3 {
		t.Errorf("counts = %d/%d, want 4/3", stats.TotalExecutions, stats.Successful)
	}
	if stats.SuccessRate != 0.75 {
		t.Errorf("SuccessRate = %v, want 0.75", stats.SuccessRate)
	}
	if diff := stats.TotalCost - 0.40; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCost = %v, want 0.40", stats.TotalCost)
	}
	if stats.AverageCost < 0.0999 || stats.AverageCost > 0.1001 {
		t.Errorf("AverageCost = %v, want 0.10", stats.AverageCost)
	}
	if stats.ModelUsage["gpt-4o"] != 8 {
		t.Errorf("ModelUsage = %v", stats.ModelUsage)
	}
}

func TestTaskMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	plan := []types.Subtask{
		types.NewSubtask("open the spreadsheet"),
		types.NewSubtask("copy the totals column"),
	}
	if err := s.SaveDecomposition(ctx, "copy totals from the spreadsheet into a report", plan); err != nil {
		t.Fatalf("SaveDecomposition: %v", err)
	}

	past, got, err := s.SimilarTask(ctx, "copy the totals column of the spreadsheet")
	if err != nil {
		t.Fatalf("SimilarTask: %v", err)
	}
	if past != "copy totals from the spreadsheet into a report" {
		t.Errorf("past = %q", past)
	}
	if len(got) != 2 || got[0].Description != "open the spreadsheet" {
		t.Errorf("plan = %+v", got)
	}
}

func TestSimilarTaskMiss(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveDecomposition(ctx, "rename every photo in the vacation folder",
		[]types.Subtask{types.NewSubtask("open the folder")}); err != nil {
		t.Fatalf("SaveDecomposition: %v", err)
	}

	past, plan, err := s.SimilarTask(ctx, "send quarterly budget email")
	if err != nil {
		t.Fatalf("SimilarTask: %v", err)
	}
	if past != "" || plan != nil {
		t.Errorf("expected miss, got %q / %+v", past, plan)
	}

	// Empty queries never match.
	past, plan, err = s.SimilarTask(ctx, "   ")
	if err != nil || past != "" || plan != nil {
		t.Errorf("blank query: %q %v %v", past, plan, err)
	}
}

func TestSaveDecompositionUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	instruction := "archive old downloads"
	if err := s.SaveDecomposition(ctx, instruction,
		[]types.Subtask{types.NewSubtask("open downloads")}); err != nil {
		t.Fatalf("SaveDecomposition: %v", err)
	}
	if err := s.SaveDecomposition(ctx, instruction, []types.Subtask{
		types.NewSubtask("open downloads"),
		types.NewSubtask("move files older than a month"),
	}); err != nil {
		t.Fatalf("SaveDecomposition (update): %v", err)
	}

	_, plan, err := s.SimilarTask(ctx, "archive old downloads")
	if err != nil {
		t.Fatalf("SimilarTask: %v", err)
	}
	if len(plan) != 2 {
		t.Errorf("got %d subtasks, want 2", len(plan))
	}
}
