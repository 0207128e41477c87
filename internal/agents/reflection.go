package agents

import (
	"context"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// ScreenComparator measures visual similarity between two screenshots in
// [0,1]. The evaluator's visual checker satisfies it.
type ScreenComparator interface {
	Similarity(before, after []byte) (float64, error)
}

// Outcome is what the execution loop hands to reflection: the textual
// result, any execution error, and optional before/after screenshots.
type Outcome struct {
	Output       string
	Err          string
	ScreenBefore []byte
	ScreenAfter  []byte
}

// errorPattern maps an error substring to a targeted suggestion and
// whether a retry is worthwhile.
type errorPattern struct {
	suggestion string
	retryable  bool
}

var errorPatterns = map[string]errorPattern{
	"timeout":       {"increase the step timeout or split the subtask", true},
	"rate limit":    {"wait and retry; the provider throttled the call", true},
	"network":       {"check connectivity and retry", true},
	"not found":     {"the target element is missing; re-examine the screen", true},
	"crash":         {"restart the application before retrying", true},
	"permission":    {"the operation needs elevated rights; do not retry", false},
	"access denied": {"the operation needs elevated rights; do not retry", false},
	"invalid":       {"the input was rejected; adjust parameters before retrying", true},
	"cannot":        {"the operation is not possible in the current state", false},
}

// visualFailureFloor is the screenshot similarity below which the screen
// changed so drastically the action is judged a failure outright.
const visualFailureFloor = 0.3

// ReflectionAgent classifies subtask outcomes and decides retries.
type ReflectionAgent struct {
	screens ScreenComparator
}

// NewReflectionAgent creates a reflection agent. screens may be nil to
// skip visual checks.
func NewReflectionAgent(screens ScreenComparator) *ReflectionAgent {
	return &ReflectionAgent{screens: screens}
}

// Reflect judges a subtask outcome against its expected output.
func (r *ReflectionAgent) Reflect(ctx context.Context, subtask types.Subtask, outcome Outcome) types.ReflectionResult {
	_ = ctx

	if strings.TrimSpace(outcome.Output) == "" && outcome.Err == "" {
		logging.Reflection("%s: no response from execution", subtask.ID)
		return types.ReflectionResult{
			Status:      types.ReflectFailure,
			Issues:      []string{"no response from execution"},
			Suggestions: []string{"retry with a different action or position"},
			ShouldRetry: true,
		}
	}

	if issue, suggestion, retryable, hit := matchErrorPattern(outcome.Err + " " + outcome.Output); hit {
		logging.Reflection("%s: error pattern %q", subtask.ID, issue)
		return types.ReflectionResult{
			Status:      types.ReflectFailure,
			Issues:      []string{issue},
			Suggestions: []string{suggestion},
			ShouldRetry: retryable,
		}
	}

	if r.screens != nil && len(outcome.ScreenBefore) > 0 && len(outcome.ScreenAfter) > 0 {
		if sim, err := r.screens.Similarity(outcome.ScreenBefore, outcome.ScreenAfter); err == nil && sim < visualFailureFloor {
			logging.Reflection("%s: drastic screen change (similarity %.2f)", subtask.ID, sim)
			return types.ReflectionResult{
				Status:      types.ReflectFailure,
				Score:       sim,
				Issues:      []string{"unexpected screen change after action"},
				Suggestions: []string{"revert and replan the approach"},
				ShouldRetry: true,
			}
		}
	}

	score := outcomeMatch(outcome.Output, subtask.ExpectedOutput)
	logging.Reflection("%s: outcome match %.2f", subtask.ID, score)

	switch {
	case score >= 0.8:
		return types.ReflectionResult{Status: types.ReflectSuccess, Score: score}
	case score >= 0.5:
		return types.ReflectionResult{
			Status:      types.ReflectPartialSuccess,
			Score:       score,
			Issues:      []string{"expected outcome only partially achieved"},
			Suggestions: []string{"adjust and continue"},
			ShouldRetry: false,
		}
	default:
		return types.ReflectionResult{
			Status:      types.ReflectFailure,
			Score:       score,
			Issues:      []string{"expected outcome not achieved"},
			Suggestions: []string{"replan the approach"},
			ShouldRetry: true,
		}
	}
}

func matchErrorPattern(text string) (issue, suggestion string, retryable, hit bool) {
	lower := strings.ToLower(text)
	for pattern, p := range errorPatterns {
		if strings.Contains(lower, pattern) {
			return pattern, p.suggestion, p.retryable, true
		}
	}
	// Bare "error"/"failed" mentions without a known pattern still count.
	for _, generic := range []string{"error", "failed"} {
		if strings.Contains(lower, generic) {
			return generic, "inspect the result and replan", true, true
		}
	}
	return "", "", false, false
}

// outcomeMatch averages a diff-based text similarity with keyword
// overlap. An empty expectation scores a non-empty output as success.
func outcomeMatch(actual, expected string) float64 {
	actual = strings.ToLower(strings.TrimSpace(actual))
	expected = strings.ToLower(strings.TrimSpace(expected))
	if expected == "" {
		if actual != "" {
			return 1.0
		}
		return 0.0
	}
	if actual == "" {
		return 0.0
	}

	return (textSimilarity(actual, expected) + jaccard(actual, expected)) / 2
}

// textSimilarity is 1 minus the normalized edit distance of the diff.
func textSimilarity(a, b string) float64 {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)

	longest := len([]rune(a))
	if lb := len([]rune(b)); lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1.0
	}
	sim := 1.0 - float64(distance)/float64(longest)
	if sim < 0 {
		return 0.0
	}
	return sim
}

// jaccard is word-set overlap: |A∩B| / |A∪B|.
func jaccard(a, b string) float64 {
	wordsA := wordSet(a)
	wordsB := wordSet(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0.0
	}

	intersection := 0
	for w := range wordsA {
		if wordsB[w] {
			intersection++
		}
	}
	union := len(wordsA) + len(wordsB) - intersection
	return float64(intersection) / float64(union)
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(text) {
		set[w] = true
	}
	return set
}
