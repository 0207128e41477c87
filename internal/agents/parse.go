package agents

import (
	"regexp"
	"strings"
)

// fenceRe matches a markdown code fence with an optional language tag.
var fenceRe = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// stripFences extracts JSON from a possibly fenced LLM response. Models
// routinely wrap structured output in markdown even when told not to.
func stripFences(response string) string {
	if m := fenceRe.FindStringSubmatch(response); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(response)
}

// coordRe recovers "(x, y)" coordinates mentioned in prose.
var coordRe = regexp.MustCompile(`\((\d+),\s*(\d+)\)`)

// extractCoordinates returns the first coordinate pair found in text.
func extractCoordinates(text string) (x, y string, ok bool) {
	m := coordRe.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
