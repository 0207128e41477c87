package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"pcagent/internal/config"
	"pcagent/internal/logging"
)

// ErrBudgetExhausted is returned when a paid call cannot be afforded in
// any period.
var ErrBudgetExhausted = errors.New("budget exhausted")

// saveDebounce is how long after a mutation the state file is written.
// Close flushes immediately.
const saveDebounce = 5 * time.Second

// ExpenseRecord is one recorded spend.
type ExpenseRecord struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Model       string    `json:"model"`
	Tier        string    `json:"tier"`
	TaskID      string    `json:"task_id,omitempty"`
	Cost        float64   `json:"cost"`
	Description string    `json:"description,omitempty"`
}

// Alert levels reported by Status.
const (
	AlertOK       = "ok"
	AlertWarning  = "warning"
	AlertCritical = "critical"
)

// BudgetStatus is a point-in-time view of all periods.
type BudgetStatus struct {
	DailySpent       float64 `json:"daily_spent"`
	DailyRemaining   float64 `json:"daily_remaining"`
	WeeklySpent      float64 `json:"weekly_spent"`
	WeeklyRemaining  float64 `json:"weekly_remaining"`
	MonthlySpent     float64 `json:"monthly_spent"`
	MonthlyRemaining float64 `json:"monthly_remaining"`
	Alert            string  `json:"alert"`
}

// budgetState is the JSON persistence shape.
type budgetState struct {
	Expenses []ExpenseRecord `json:"expenses"`
}

// BudgetTracker tracks spend against daily, weekly, and monthly limits
// with JSON persistence. Zero limits disable the respective check.
type BudgetTracker struct {
	cfg  config.BudgetConfig
	path string

	mu       sync.Mutex
	expenses []ExpenseRecord
	daily    float64
	weekly   float64
	monthly  float64
	day      time.Time // midnight of the current day
	week     time.Time // midnight of the current week's Monday
	month    time.Time // midnight of the first of the current month

	dirty     bool
	saveTimer *time.Timer
	now       func() time.Time // injectable clock for rollover tests
}

// NewBudgetTracker loads persisted state from path (missing file starts
// fresh) and computes period totals.
func NewBudgetTracker(cfg config.BudgetConfig, path string) (*BudgetTracker, error) {
	t := &BudgetTracker{
		cfg:  cfg,
		path: path,
		now:  time.Now,
	}
	t.resetPeriods(t.now())

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read budget state: %w", err)
		}
		return t, nil
	}

	var state budgetState
	if err := json.Unmarshal(data, &state); err != nil {
		// Corrupt state: start fresh rather than refuse to run.
		logging.BudgetWarn("corrupt budget state at %s, starting fresh: %v", path, err)
		return t, nil
	}

	t.expenses = state.Expenses
	for _, e := range t.expenses {
		t.accumulate(e)
	}
	logging.Budget("loaded %d expenses, daily spent $%.4f", len(t.expenses), t.daily)
	return t, nil
}

// resetPeriods recomputes the period boundaries from a reference time.
func (t *BudgetTracker) resetPeriods(ref time.Time) {
	t.day = time.Date(ref.Year(), ref.Month(), ref.Day(), 0, 0, 0, 0, ref.Location())
	// ISO week starts Monday.
	weekday := int(ref.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	t.week = t.day.AddDate(0, 0, -(weekday - 1))
	t.month = time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())
}

// accumulate adds an expense to whichever period totals it falls in.
func (t *BudgetTracker) accumulate(e ExpenseRecord) {
	if !e.Timestamp.Before(t.day) {
		t.daily += e.Cost
	}
	if !e.Timestamp.Before(t.week) {
		t.weekly += e.Cost
	}
	if !e.Timestamp.Before(t.month) {
		t.monthly += e.Cost
	}
}

// rollover resets period totals when a boundary has passed. Callers hold
// the lock.
func (t *BudgetTracker) rollover() {
	now := t.now()
	if now.Sub(t.day) >= 24*time.Hour || now.Before(t.day) {
		oldDay, oldWeek, oldMonth := t.day, t.week, t.month
		t.resetPeriods(now)
		if !t.day.Equal(oldDay) {
			t.daily = 0
			logging.Budget("new day, daily spend reset")
		}
		if !t.week.Equal(oldWeek) {
			t.weekly = 0
			logging.Budget("new week, weekly spend reset")
		}
		if !t.month.Equal(oldMonth) {
			t.monthly = 0
			logging.Budget("new month, monthly spend reset")
		}
	}
}

// CanAfford reports whether cost fits within every enabled period limit.
func (t *BudgetTracker) CanAfford(cost float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	if t.cfg.DailyLimit > 0 && t.daily+cost > t.cfg.DailyLimit {
		return false
	}
	if t.cfg.WeeklyLimit > 0 && t.weekly+cost > t.cfg.WeeklyLimit {
		return false
	}
	if t.cfg.MonthlyLimit > 0 && t.monthly+cost > t.cfg.MonthlyLimit {
		return false
	}
	return true
}

// RecordExpense posts a spend and schedules a state save. Zero-cost
// expenses (rule tier) are recorded for the audit trail too.
func (t *BudgetTracker) RecordExpense(model, tier, taskID string, cost float64, description string) ExpenseRecord {
	record := ExpenseRecord{
		ID:          uuid.New().String(),
		Timestamp:   t.now(),
		Model:       model,
		Tier:        tier,
		TaskID:      taskID,
		Cost:        cost,
		Description: truncate(description, 100),
	}

	t.mu.Lock()
	t.rollover()
	t.expenses = append(t.expenses, record)
	t.accumulate(record)
	t.scheduleSave()
	alert := t.alertLocked()
	t.mu.Unlock()

	logging.Budget("expense $%.4f (%s/%s), daily spent $%.4f", cost, tier, model, t.daily)
	if alert != AlertOK {
		logging.BudgetWarn("budget %s: $%.2f remaining today", alert, t.remainingLocked(t.cfg.DailyLimit, t.daily))
	}
	return record
}

// Remaining returns remaining budget for a period ("daily", "weekly",
// "monthly"). A disabled limit (zero or negative) is unlimited and
// reports +Inf, matching CanAfford.
func (t *BudgetTracker) Remaining(period string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	switch period {
	case "weekly":
		return t.remainingLocked(t.cfg.WeeklyLimit, t.weekly)
	case "monthly":
		return t.remainingLocked(t.cfg.MonthlyLimit, t.monthly)
	default:
		return t.remainingLocked(t.cfg.DailyLimit, t.daily)
	}
}

func (t *BudgetTracker) remainingLocked(limit, spent float64) float64 {
	if limit <= 0 {
		return math.Inf(1)
	}
	if spent >= limit {
		return 0
	}
	return limit - spent
}

// Status reports all periods and the alert level.
func (t *BudgetTracker) Status() BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rollover()

	return BudgetStatus{
		DailySpent:       t.daily,
		DailyRemaining:   t.remainingLocked(t.cfg.DailyLimit, t.daily),
		WeeklySpent:      t.weekly,
		WeeklyRemaining:  t.remainingLocked(t.cfg.WeeklyLimit, t.weekly),
		MonthlySpent:     t.monthly,
		MonthlyRemaining: t.remainingLocked(t.cfg.MonthlyLimit, t.monthly),
		Alert:            t.alertLocked(),
	}
}

// alertLocked bands on absolute dollars remaining in the daily budget.
func (t *BudgetTracker) alertLocked() string {
	if t.cfg.DailyLimit <= 0 {
		return AlertOK
	}
	remaining := t.remainingLocked(t.cfg.DailyLimit, t.daily)
	switch {
	case remaining < t.cfg.CriticalThreshold:
		return AlertCritical
	case remaining < t.cfg.WarningThreshold:
		return AlertWarning
	default:
		return AlertOK
	}
}

// Breakdown sums spend per model across all recorded expenses.
func (t *BudgetTracker) Breakdown() map[string]float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	breakdown := make(map[string]float64)
	for _, e := range t.expenses {
		breakdown[e.Model] += e.Cost
	}
	return breakdown
}

// Expenses returns a copy of all recorded expenses.
func (t *BudgetTracker) Expenses() []ExpenseRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ExpenseRecord, len(t.expenses))
	copy(out, t.expenses)
	return out
}

// TotalSpent sums all recorded expenses.
func (t *BudgetTracker) TotalSpent() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total float64
	for _, e := range t.expenses {
		total += e.Cost
	}
	return total
}

// scheduleSave arms the debounce timer. Callers hold the lock.
func (t *BudgetTracker) scheduleSave() {
	t.dirty = true
	if t.path == "" || t.saveTimer != nil {
		return
	}
	t.saveTimer = time.AfterFunc(saveDebounce, func() {
		t.mu.Lock()
		t.saveTimer = nil
		t.mu.Unlock()
		if err := t.Flush(); err != nil {
			logging.Get(logging.CategoryBudget).Error("autosave failed: %v", err)
		}
	})
}

// Flush writes the state file if dirty, with an atomic rename.
func (t *BudgetTracker) Flush() error {
	t.mu.Lock()
	if !t.dirty || t.path == "" {
		t.mu.Unlock()
		return nil
	}
	state := budgetState{Expenses: make([]ExpenseRecord, len(t.expenses))}
	copy(state.Expenses, t.expenses)
	t.dirty = false
	t.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal budget state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(t.path), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write budget state: %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		return fmt.Errorf("failed to replace budget state: %w", err)
	}
	return nil
}

// Close cancels the autosave timer and flushes pending state.
func (t *BudgetTracker) Close() error {
	t.mu.Lock()
	if t.saveTimer != nil {
		t.saveTimer.Stop()
		t.saveTimer = nil
	}
	t.mu.Unlock()
	return t.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
