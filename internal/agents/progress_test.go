package agents

import (
	"strings"
	"sync"
	"testing"

	"pcagent/internal/types"
)

func TestRecordStepAndSummary(t *testing.T) {
	p := NewProgressAgent()
	p.RecordStep("s1", 1, "click", "clicked ok", types.StatusCompleted)
	p.RecordStep("s1", 2, "type", "typed text", types.StatusCompleted)
	p.RecordStep("s1", 3, "click", "element not found", types.StatusFailed)

	summary := p.Summary("s1")
	if !strings.Contains(summary, "2 completed") || !strings.Contains(summary, "1 failed") {
		t.Errorf("summary missing counts: %q", summary)
	}
	if !strings.Contains(summary, "Last action: click") {
		t.Errorf("summary missing last action: %q", summary)
	}

	failed := p.FailedSteps("s1")
	if len(failed) != 1 || failed[0].StepNumber != 3 {
		t.Errorf("FailedSteps = %+v", failed)
	}
}

func TestSummaryEmpty(t *testing.T) {
	p := NewProgressAgent()
	if got := p.Summary("nope"); got != "No progress recorded" {
		t.Errorf("Summary = %q", got)
	}
}

func TestIsCompleteTracksLatestStatus(t *testing.T) {
	p := NewProgressAgent()
	p.RecordStep("s1", 1, "click", "", types.StatusInProgress)
	if p.IsComplete("s1") {
		t.Error("in-progress subtask reported complete")
	}
	p.RecordStep("s1", 2, "stop", "", types.StatusCompleted)
	if !p.IsComplete("s1") {
		t.Error("completed subtask not reported complete")
	}
}

func TestSubscriberReceivesUpdates(t *testing.T) {
	p := NewProgressAgent()
	ch := make(chan types.ProgressUpdate, 4)
	p.Subscribe(ch)

	p.RecordStep("s1", 1, "click", "", types.StatusInProgress)
	p.RecordStep("s1", 2, "type", "", types.StatusCompleted)

	if len(ch) != 2 {
		t.Fatalf("subscriber received %d updates, want 2", len(ch))
	}
	first := <-ch
	if first.Action != "click" || first.StepNumber != 1 {
		t.Errorf("first update = %+v", first)
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	p := NewProgressAgent()
	ch := make(chan types.ProgressUpdate, 1)
	p.Subscribe(ch)

	// Second record would block on an unbuffered send; it must drop instead.
	p.RecordStep("s1", 1, "click", "", types.StatusInProgress)
	p.RecordStep("s1", 2, "type", "", types.StatusCompleted)

	if got := len(p.Snapshot()["s1"]); got != 2 {
		t.Errorf("journal recorded %d steps, want 2", got)
	}
}

func TestConcurrentRecording(t *testing.T) {
	p := NewProgressAgent()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(step int) {
			defer wg.Done()
			p.RecordStep("s1", step, "click", "", types.StatusInProgress)
		}(i)
	}
	wg.Wait()

	if got := len(p.Snapshot()["s1"]); got != 10 {
		t.Errorf("recorded %d steps, want 10", got)
	}
}

func TestReset(t *testing.T) {
	p := NewProgressAgent()
	p.RecordStep("s1", 1, "click", "", types.StatusCompleted)
	p.Reset()
	if len(p.Snapshot()) != 0 || len(p.CurrentState()) != 0 {
		t.Error("Reset did not clear the journal")
	}
}
