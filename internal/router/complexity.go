// Package router decides which model tier handles each subtask. It is
// three cooperating parts: a complexity scorer turning a subtask
// description into a [0,1] score, a model selector mapping score and
// remaining budget to a tier, and a budget tracker persisting spend
// across daily, weekly, and monthly periods.
package router

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"

	"pcagent/internal/logging"
	"pcagent/internal/types"
)

// Features are the normalized complexity signals extracted from a
// subtask description. Every field lies in [0,1].
type Features struct {
	WordCount         float64 `json:"word_count"`
	AppCount          float64 `json:"app_count"`
	InterAppTransfer  float64 `json:"inter_app_transfer"`
	TextProcessing    float64 `json:"text_processing"`
	Navigation        float64 `json:"navigation"`
	DataManipulation  float64 `json:"data_manipulation"`
	StepCountEstimate float64 `json:"step_count_estimate"`
	ConditionalLogic  float64 `json:"conditional_logic"`
}

// featureWeights is the contribution of each signal to the raw score.
var featureWeights = map[string]float64{
	"word_count":          0.10,
	"app_count":           0.20,
	"inter_app_transfer":  0.30,
	"text_processing":     0.15,
	"navigation":          0.10,
	"data_manipulation":   0.20,
	"step_count_estimate": 0.15,
	"conditional_logic":   0.25,
}

var knownApps = []string{
	"chrome", "firefox", "edge", "word", "excel", "powerpoint",
	"notepad", "calculator", "outlook", "explorer", "paint", "terminal",
}

var interAppPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bfrom\b.*\bto\b`),
	regexp.MustCompile(`(?i)\bcopy\b.*\bto\b`),
	regexp.MustCompile(`(?i)\bimport\b.*\binto\b`),
	regexp.MustCompile(`(?i)\bexport\b.*\bto\b`),
	regexp.MustCompile(`(?i)\bsearch\b.*\band\b.*\bcreate\b`),
}

var (
	textKeywords = []string{"edit", "format", "bold", "italic", "underline", "align", "paragraph", "font", "style"}
	navKeywords  = []string{"open", "close", "navigate", "go to", "click", "select", "find", "search", "browse"}
	dataKeywords = []string{"calculate", "sum", "average", "sort", "filter", "analyze", "graph", "chart", "formula", "function"}
	actionVerbs  = []string{"click", "type", "open", "close", "save", "create", "delete", "move", "copy", "paste"}
	condKeywords = []string{"if ", "then", "else", "when", "unless", "depending on", "based on", "condition"}
)

// scoreHistoryCap bounds the retained score history.
const scoreHistoryCap = 1000

// scoredTask is one historical scoring, kept for stats.
type scoredTask struct {
	Description string
	Score       float64
}

// ComplexityScorer turns subtask descriptions into routing scores.
type ComplexityScorer struct {
	mu      sync.Mutex
	history []scoredTask
}

// NewComplexityScorer creates a scorer with empty history.
func NewComplexityScorer() *ComplexityScorer {
	return &ComplexityScorer{}
}

// Score computes the complexity of a subtask. The raw weighted mean is
// pushed through a sigmoid so mid-range differences spread out while the
// extremes saturate.
func (s *ComplexityScorer) Score(subtask types.Subtask) (float64, Features) {
	features := extractFeatures(subtask.Description)
	raw := weightedMean(features)
	score := sigmoid(raw)
	score = math.Max(0, math.Min(1, score))

	s.mu.Lock()
	s.history = append(s.history, scoredTask{Description: subtask.Description, Score: score})
	if len(s.history) > scoreHistoryCap {
		s.history = s.history[len(s.history)-scoreHistoryCap:]
	}
	s.mu.Unlock()

	logging.RouterDebug("complexity %.3f for %.50s", score, subtask.Description)
	return score, features
}

// Explain renders the per-feature breakdown for a description.
func (s *ComplexityScorer) Explain(subtask types.Subtask) string {
	features := extractFeatures(subtask.Description)
	var sb strings.Builder
	fmt.Fprintf(&sb, "word_count=%.2f app_count=%.2f inter_app=%.2f text=%.2f ",
		features.WordCount, features.AppCount, features.InterAppTransfer, features.TextProcessing)
	fmt.Fprintf(&sb, "navigation=%.2f data=%.2f steps=%.2f conditional=%.2f -> raw=%.3f score=%.3f",
		features.Navigation, features.DataManipulation, features.StepCountEstimate,
		features.ConditionalLogic, weightedMean(features), sigmoid(weightedMean(features)))
	return sb.String()
}

// AverageScore returns the mean of all retained scores.
func (s *ComplexityScorer) AverageScore() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.history) == 0 {
		return 0
	}
	var total float64
	for _, h := range s.history {
		total += h.Score
	}
	return total / float64(len(s.history))
}

// HistoryLen reports how many scores are retained.
func (s *ComplexityScorer) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

func extractFeatures(description string) Features {
	lower := strings.ToLower(description)

	appCount := 0
	for _, app := range knownApps {
		if strings.Contains(lower, app) {
			appCount++
		}
	}

	interApp := 0.0
	for _, re := range interAppPatterns {
		if re.MatchString(lower) {
			interApp = 1.0
			break
		}
	}

	return Features{
		WordCount:         clamp01(float64(len(strings.Fields(description))) / 50),
		AppCount:          clamp01(float64(appCount) / 5),
		InterAppTransfer:  interApp,
		TextProcessing:    containsAny01(lower, textKeywords),
		Navigation:        containsAny01(lower, navKeywords),
		DataManipulation:  containsAny01(lower, dataKeywords),
		StepCountEstimate: clamp01(float64(estimateSteps(lower)) / 20),
		ConditionalLogic:  containsAny01(lower, condKeywords),
	}
}

// estimateSteps is the larger of sentence count and action-verb count.
func estimateSteps(lower string) int {
	sentences := 0
	for _, part := range regexp.MustCompile(`[.!?]+`).Split(lower, -1) {
		if strings.TrimSpace(part) != "" {
			sentences++
		}
	}
	verbs := 0
	for _, verb := range actionVerbs {
		if strings.Contains(lower, verb) {
			verbs++
		}
	}
	if verbs > sentences {
		return verbs
	}
	return sentences
}

func weightedMean(f Features) float64 {
	values := map[string]float64{
		"word_count":          f.WordCount,
		"app_count":           f.AppCount,
		"inter_app_transfer":  f.InterAppTransfer,
		"text_processing":     f.TextProcessing,
		"navigation":          f.Navigation,
		"data_manipulation":   f.DataManipulation,
		"step_count_estimate": f.StepCountEstimate,
		"conditional_logic":   f.ConditionalLogic,
	}
	var score, total float64
	for name, weight := range featureWeights {
		score += values[name] * weight
		total += weight
	}
	if total == 0 {
		return 0
	}
	return score / total
}

// sigmoid centers at 0.5 with a steepness of 10.
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-10*(x-0.5)))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func containsAny01(text string, keywords []string) float64 {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return 1.0
		}
	}
	return 0.0
}
