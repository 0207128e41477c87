package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// similarityFloor is the minimum token overlap for a memory hit.
const similarityFloor = 0.3

// SaveDecomposition stores the subtask plan for an instruction,
// replacing any earlier plan for the same instruction.
func (s *Store) SaveDecomposition(ctx context.Context, instruction string, subtasks []types.Subtask) error {
	if strings.TrimSpace(instruction) == "" || len(subtasks) == 0 {
		return nil
	}
	data, err := json.Marshal(subtasks)
	if err != nil {
		return fmt.Errorf("failed to encode subtasks: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO task_memory (instruction, subtasks) VALUES (?, ?)
			ON CONFLICT(instruction) DO UPDATE SET subtasks = excluded.subtasks`,
		instruction, string(data)); err != nil {
		return fmt.Errorf("failed to save decomposition: %w", err)
	}
	logging.StoreDebug("saved decomposition for %.60q (%d subtasks)", instruction, len(subtasks))
	return nil
}

// SimilarTask finds the stored instruction with the highest token
// overlap against the query. Returns zero values when nothing clears
// the similarity floor.
func (s *Store) SimilarTask(ctx context.Context, instruction string) (string, []types.Subtask, error) {
	query := tokenize(instruction)
	if len(query) == 0 {
		return "", nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT instruction, subtasks FROM task_memory`)
	if err != nil {
		return "", nil, fmt.Errorf("failed to query task memory: %w", err)
	}
	defer rows.Close()

	var (
		bestScore       float64
		bestInstruction string
		bestPayload     string
	)
	for rows.Next() {
		var stored, payload string
		if err := rows.Scan(&stored, &payload); err != nil {
			return "", nil, fmt.Errorf("failed to scan task memory: %w", err)
		}
		if score := overlap(query, tokenize(stored)); score > bestScore {
			bestScore, bestInstruction, bestPayload = score, stored, payload
		}
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("failed to iterate task memory: %w", err)
	}

	if bestScore < similarityFloor {
		return "", nil, nil
	}
	var subtasks []types.Subtask
	if err := json.Unmarshal([]byte(bestPayload), &subtasks); err != nil {
		return "", nil, fmt.Errorf("corrupt stored plan for %q: %w", bestInstruction, err)
	}
	logging.StoreDebug("memory hit %.2f for %.60q", bestScore, bestInstruction)
	return bestInstruction, subtasks, nil
}

// tokenize lowercases and splits on non-alphanumeric runes, returning
// the word set.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// overlap is the Jaccard index of two token sets.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
