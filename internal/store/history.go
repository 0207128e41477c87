package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// RecordExecution writes a completed execution and all of its subtask
// results in one transaction.
func (s *Store) RecordExecution(ctx context.Context, result types.ExecutionResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	models, err := json.Marshal(result.ModelsUsed)
	if err != nil {
		return fmt.Errorf("failed to encode model usage: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO executions
			(task_id, instruction, success, total_cost, total_time_ms, models_used, error_message, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		result.TaskID, result.Instruction, boolToInt(result.Success),
		result.TotalCost, result.TotalTime.Milliseconds(), string(models),
		result.ErrorMessage, result.StartedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	// INSERT OR REPLACE on the parent does not cascade, so clear
	// subtask rows explicitly before rewriting them.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM subtask_results WHERE task_id = ?`, result.TaskID); err != nil {
		return fmt.Errorf("failed to clear subtask results: %w", err)
	}

	for i, sr := range result.SubtaskResults {
		subtask, err := json.Marshal(sr.Subtask)
		if err != nil {
			return fmt.Errorf("failed to encode subtask: %w", err)
		}
		evaluation := marshalNullable(sr.Evaluation)
		reflection := marshalNullable(sr.Reflection)
		var actions any
		if len(sr.Actions) > 0 {
			data, err := json.Marshal(sr.Actions)
			if err != nil {
				return fmt.Errorf("failed to encode actions: %w", err)
			}
			actions = string(data)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO subtask_results
				(task_id, position, subtask, success, model_used, tier, cost,
				 duration_ms, attempts, output, evaluation, reflection, actions, error)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			result.TaskID, i, string(subtask), boolToInt(sr.Success),
			sr.ModelUsed, sr.Tier, sr.Cost, sr.Duration.Milliseconds(),
			sr.Attempts, sr.Output, evaluation, reflection, actions, sr.Error,
		); err != nil {
			return fmt.Errorf("failed to insert subtask result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}
	logging.Store("recorded execution %s (%d subtasks, cost $%.4f)",
		result.TaskID, len(result.SubtaskResults), result.TotalCost)
	return nil
}

// RecentExecutions returns up to n executions, newest first, with their
// subtask results attached. n <= 0 or beyond the history limit falls
// back to the configured limit.
func (s *Store) RecentExecutions(ctx context.Context, n int) ([]types.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > s.historyLimit {
		n = s.historyLimit
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT task_id, instruction, success, total_cost, total_time_ms,
			models_used, error_message, started_at
			FROM executions ORDER BY started_at DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	var results []types.ExecutionResult
	for rows.Next() {
		var (
			r       types.ExecutionResult
			success int
			timeMS  int64
			models  string
		)
		if err := rows.Scan(&r.TaskID, &r.Instruction, &success, &r.TotalCost,
			&timeMS, &models, &r.ErrorMessage, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		r.Success = success != 0
		r.TotalTime = time.Duration(timeMS) * time.Millisecond
		if err := json.Unmarshal([]byte(models), &r.ModelsUsed); err != nil {
			logging.StoreError("corrupt model usage for %s: %v", r.TaskID, err)
			r.ModelsUsed = map[string]int{}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate executions: %w", err)
	}

	for i := range results {
		subtasks, err := s.subtaskResults(ctx, results[i].TaskID)
		if err != nil {
			return nil, err
		}
		results[i].SubtaskResults = subtasks
	}
	return results, nil
}

func (s *Store) subtaskResults(ctx context.Context, taskID string) ([]types.SubtaskResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subtask, success, model_used, tier, cost, duration_ms,
			attempts, output, evaluation, reflection, actions, error
			FROM subtask_results WHERE task_id = ? ORDER BY position`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subtask results: %w", err)
	}
	defer rows.Close()

	var results []types.SubtaskResult
	for rows.Next() {
		var (
			sr         types.SubtaskResult
			subtask    string
			success    int
			durationMS int64
			evaluation sql.NullString
			reflection sql.NullString
			actions    sql.NullString
		)
		if err := rows.Scan(&subtask, &success, &sr.ModelUsed, &sr.Tier,
			&sr.Cost, &durationMS, &sr.Attempts, &sr.Output,
			&evaluation, &reflection, &actions, &sr.Error); err != nil {
			return nil, fmt.Errorf("failed to scan subtask result: %w", err)
		}
		sr.Success = success != 0
		sr.Duration = time.Duration(durationMS) * time.Millisecond
		if err := json.Unmarshal([]byte(subtask), &sr.Subtask); err != nil {
			return nil, fmt.Errorf("corrupt subtask payload: %w", err)
		}
		if evaluation.Valid {
			sr.Evaluation = new(types.EvalResult)
			if err := json.Unmarshal([]byte(evaluation.String), sr.Evaluation); err != nil {
				logging.StoreError("corrupt evaluation for %s: %v", taskID, err)
				sr.Evaluation = nil
			}
		}
		if reflection.Valid {
			sr.Reflection = new(types.ReflectionResult)
			if err := json.Unmarshal([]byte(reflection.String), sr.Reflection); err != nil {
				logging.StoreError("corrupt reflection for %s: %v", taskID, err)
				sr.Reflection = nil
			}
		}
		if actions.Valid {
			if err := json.Unmarshal([]byte(actions.String), &sr.Actions); err != nil {
				logging.StoreError("corrupt actions for %s: %v", taskID, err)
				sr.Actions = nil
			}
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

// Stats aggregates success rate, cost, and model usage across every
// stored execution.
func (s *Store) Stats(ctx context.Context) (types.ExecutionStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats types.ExecutionStats
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(success), 0), COALESCE(SUM(total_cost), 0),
			COALESCE(SUM(total_time_ms), 0) FROM executions`)
	var totalTimeMS int64
	if err := row.Scan(&stats.TotalExecutions, &stats.Successful,
		&stats.TotalCost, &totalTimeMS); err != nil {
		return stats, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	stats.TotalTime = time.Duration(totalTimeMS) * time.Millisecond
	if stats.TotalExecutions > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.TotalExecutions)
		stats.AverageCost = stats.TotalCost / float64(stats.TotalExecutions)
		stats.AverageTime = stats.TotalTime / time.Duration(stats.TotalExecutions)
	}

	stats.ModelUsage = map[string]int{}
	rows, err := s.db.QueryContext(ctx, `SELECT models_used FROM executions`)
	if err != nil {
		return stats, fmt.Errorf("failed to query model usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return stats, fmt.Errorf("failed to scan model usage: %w", err)
		}
		var usage map[string]int
		if err := json.Unmarshal([]byte(raw), &usage); err != nil {
			continue
		}
		for model, count := range usage {
			stats.ModelUsage[model] += count
		}
	}
	return stats, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// marshalNullable encodes v as JSON, or returns nil for a nil pointer
// so the column stays NULL.
func marshalNullable[T any](v *T) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(data)
}
