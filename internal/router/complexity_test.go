package router

import (
	"testing"

	"pcagent/internal/types"
)

func TestScoreBounds(t *testing.T) {
	s := NewComplexityScorer()

	simple, _ := s.Score(types.NewSubtask("click ok"))
	complex, _ := s.Score(types.NewSubtask(
		"Search for quarterly sales data in Chrome, export it from Excel to Word, " +
			"then calculate the average and format the table depending on the result. " +
			"If the total exceeds budget, sort and filter the chart before saving."))

	if simple < 0 || simple > 1 || complex < 0 || complex > 1 {
		t.Fatalf("scores out of range: %v, %v", simple, complex)
	}
	if complex <= simple {
		t.Errorf("multi-app conditional task (%.3f) should outscore a bare click (%.3f)", complex, simple)
	}
}

func TestScoreFeatures(t *testing.T) {
	s := NewComplexityScorer()

	_, f := s.Score(types.NewSubtask("Copy the table from Excel to Word"))
	if f.InterAppTransfer != 1.0 {
		t.Errorf("inter-app transfer not detected: %+v", f)
	}
	if f.AppCount <= 0 {
		t.Errorf("app count not detected: %+v", f)
	}

	_, f = s.Score(types.NewSubtask("Wait"))
	if f.InterAppTransfer != 0 || f.ConditionalLogic != 0 {
		t.Errorf("trivial task picked up features: %+v", f)
	}
}

func TestScoreDeterministic(t *testing.T) {
	s := NewComplexityScorer()
	st := types.NewSubtask("Open Chrome and search for golang")

	a, _ := s.Score(st)
	b, _ := s.Score(st)
	if a != b {
		t.Errorf("same description scored differently: %v vs %v", a, b)
	}
}

func TestHistoryRingCap(t *testing.T) {
	s := NewComplexityScorer()
	st := types.NewSubtask("click")
	for i := 0; i < scoreHistoryCap+50; i++ {
		s.Score(st)
	}
	if got := s.HistoryLen(); got != scoreHistoryCap {
		t.Errorf("history length = %d, want %d", got, scoreHistoryCap)
	}
	if avg := s.AverageScore(); avg <= 0 || avg > 1 {
		t.Errorf("average score out of range: %v", avg)
	}
}

func TestSigmoidCentering(t *testing.T) {
	if mid := sigmoid(0.5); mid < 0.49 || mid > 0.51 {
		t.Errorf("sigmoid(0.5) = %v, want 0.5", mid)
	}
	if hi := sigmoid(1.0); hi < 0.99 {
		t.Errorf("sigmoid(1.0) = %v, want near 1", hi)
	}
	if lo := sigmoid(0.0); lo > 0.01 {
		t.Errorf("sigmoid(0.0) = %v, want near 0", lo)
	}
}

func TestExplainMentionsScore(t *testing.T) {
	s := NewComplexityScorer()
	out := s.Explain(types.NewSubtask("Copy data from Excel to Word"))
	if out == "" {
		t.Fatal("Explain returned empty")
	}
}
