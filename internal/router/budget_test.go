package router

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pcagent/internal/config"
)

func testBudgetConfig() config.BudgetConfig {
	return config.BudgetConfig{
		DailyLimit:        10.0,
		WeeklyLimit:       50.0,
		MonthlyLimit:      150.0,
		WarningThreshold:  2.0,
		CriticalThreshold: 0.5,
	}
}

func newTestTracker(t *testing.T) *BudgetTracker {
	t.Helper()
	tracker, err := NewBudgetTracker(testBudgetConfig(), filepath.Join(t.TempDir(), "budget.json"))
	if err != nil {
		t.Fatalf("NewBudgetTracker: %v", err)
	}
	t.Cleanup(func() { tracker.Close() })
	return tracker
}

func TestRecordExpenseAccumulates(t *testing.T) {
	tracker := newTestTracker(t)

	tracker.RecordExpense("gpt-4o", "premium", "task1", 1.5, "decompose")
	tracker.RecordExpense("claude-3-5-sonnet", "mid", "task1", 0.5, "decide")

	status := tracker.Status()
	if status.DailySpent != 2.0 {
		t.Errorf("daily spent = %v, want 2.0", status.DailySpent)
	}
	if status.DailyRemaining != 8.0 {
		t.Errorf("daily remaining = %v, want 8.0", status.DailyRemaining)
	}
	if status.WeeklySpent != 2.0 || status.MonthlySpent != 2.0 {
		t.Errorf("weekly/monthly = %v/%v, want 2.0/2.0", status.WeeklySpent, status.MonthlySpent)
	}
}

func TestDisabledLimitIsUnlimited(t *testing.T) {
	tracker, err := NewBudgetTracker(config.BudgetConfig{}, filepath.Join(t.TempDir(), "budget.json"))
	if err != nil {
		t.Fatalf("NewBudgetTracker: %v", err)
	}
	defer tracker.Close()

	tracker.RecordExpense("gpt-4o", "premium", "task1", 500.0, "")

	if !tracker.CanAfford(1e6) {
		t.Error("disabled limits should afford anything")
	}
	for _, period := range []string{"daily", "weekly", "monthly"} {
		if got := tracker.Remaining(period); !math.IsInf(got, 1) {
			t.Errorf("Remaining(%q) = %v, want +Inf", period, got)
		}
	}

	status := tracker.Status()
	if !math.IsInf(status.DailyRemaining, 1) {
		t.Errorf("DailyRemaining = %v, want +Inf", status.DailyRemaining)
	}
	if status.Alert != AlertOK {
		t.Errorf("Alert = %q, want %q", status.Alert, AlertOK)
	}
}

func TestCanAfford(t *testing.T) {
	tracker := newTestTracker(t)
	if !tracker.CanAfford(9.99) {
		t.Error("fresh tracker should afford under the daily limit")
	}
	if tracker.CanAfford(10.01) {
		t.Error("over the daily limit should be unaffordable")
	}

	tracker.RecordExpense("gpt-4o", "premium", "", 9.0, "")
	if tracker.CanAfford(1.5) {
		t.Error("spend beyond remaining daily budget should be unaffordable")
	}
}

func TestAlertBands(t *testing.T) {
	tracker := newTestTracker(t)
	if got := tracker.Status().Alert; got != AlertOK {
		t.Errorf("fresh alert = %s, want ok", got)
	}

	tracker.RecordExpense("gpt-4o", "premium", "", 8.5, "") // $1.50 left
	if got := tracker.Status().Alert; got != AlertWarning {
		t.Errorf("alert = %s, want warning", got)
	}

	tracker.RecordExpense("gpt-4o", "premium", "", 1.2, "") // $0.30 left
	if got := tracker.Status().Alert; got != AlertCritical {
		t.Errorf("alert = %s, want critical", got)
	}
}

func TestPersistenceRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "budget.json")

	tracker, err := NewBudgetTracker(testBudgetConfig(), path)
	if err != nil {
		t.Fatalf("NewBudgetTracker: %v", err)
	}
	tracker.RecordExpense("gpt-4o", "premium", "task1", 2.5, "work")
	if err := tracker.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// State file is valid JSON with the expense.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("state file missing: %v", err)
	}
	var state budgetState
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("state not JSON: %v", err)
	}
	if len(state.Expenses) != 1 || state.Expenses[0].Cost != 2.5 {
		t.Fatalf("persisted expenses = %+v", state.Expenses)
	}

	// Reload recomputes period totals.
	reloaded, err := NewBudgetTracker(testBudgetConfig(), path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	defer reloaded.Close()
	if got := reloaded.Status().DailySpent; got != 2.5 {
		t.Errorf("reloaded daily spent = %v, want 2.5", got)
	}
}

func TestCorruptStateStartsFresh(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "budget.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	tracker, err := NewBudgetTracker(testBudgetConfig(), path)
	if err != nil {
		t.Fatalf("corrupt state must not fail startup: %v", err)
	}
	defer tracker.Close()
	if got := tracker.Status().DailySpent; got != 0 {
		t.Errorf("daily spent = %v, want 0", got)
	}
}

func TestDailyRollover(t *testing.T) {
	tracker := newTestTracker(t)

	base := time.Date(2026, 3, 4, 23, 0, 0, 0, time.UTC) // Wednesday
	tracker.now = func() time.Time { return base }
	tracker.resetPeriods(base)
	tracker.RecordExpense("gpt-4o", "premium", "", 5.0, "")

	// Next day: daily resets, weekly and monthly persist.
	tracker.now = func() time.Time { return base.Add(4 * time.Hour) }
	status := tracker.Status()
	if status.DailySpent != 0 {
		t.Errorf("daily spent after rollover = %v, want 0", status.DailySpent)
	}
	if status.WeeklySpent != 5.0 {
		t.Errorf("weekly spent after day rollover = %v, want 5.0", status.WeeklySpent)
	}

	// Following Monday: weekly resets too.
	tracker.now = func() time.Time { return time.Date(2026, 3, 9, 1, 0, 0, 0, time.UTC) }
	status = tracker.Status()
	if status.WeeklySpent != 0 {
		t.Errorf("weekly spent after week rollover = %v, want 0", status.WeeklySpent)
	}
	if status.MonthlySpent != 5.0 {
		t.Errorf("monthly spent should persist into the new week: %v", status.MonthlySpent)
	}

	// Next month: everything resets.
	tracker.now = func() time.Time { return time.Date(2026, 4, 1, 1, 0, 0, 0, time.UTC) }
	if got := tracker.Status().MonthlySpent; got != 0 {
		t.Errorf("monthly spent after month rollover = %v, want 0", got)
	}
}

func TestBreakdownByModel(t *testing.T) {
	tracker := newTestTracker(t)
	tracker.RecordExpense("gpt-4o", "premium", "", 1.0, "")
	tracker.RecordExpense("gpt-4o", "premium", "", 0.5, "")
	tracker.RecordExpense("claude-3-5-sonnet", "mid", "", 0.25, "")

	breakdown := tracker.Breakdown()
	if breakdown["gpt-4o"] != 1.5 || breakdown["claude-3-5-sonnet"] != 0.25 {
		t.Errorf("breakdown = %v", breakdown)
	}
	if got := tracker.TotalSpent(); got != 1.75 {
		t.Errorf("total = %v, want 1.75", got)
	}
}
