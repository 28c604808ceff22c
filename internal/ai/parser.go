package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var (
	thinkTagRe  = regexp.MustCompile(`(?s)<think>.*?</think>`)
	codeFenceRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
)

// cleanResponse strips reasoning tags and markdown fences that chat
// models wrap around JSON output.
func cleanResponse(text string) string {
	text = thinkTagRe.ReplaceAllString(text, "")
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}
	return strings.TrimSpace(text)
}

// ParseReviewResult extracts the reviewer verdict from a model response.
func ParseReviewResult(text string) (ReviewResult, error) {
	cleaned := cleanResponse(text)

	var result ReviewResult
	if err := json.Unmarshal([]byte(cleaned), &result); err == nil {
		return result, nil
	}

	// The model sometimes pads the object with prose. Take the outermost
	// braces and retry.
	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(cleaned[start:end+1]), &result); err == nil {
			return result, nil
		}
	}
	return ReviewResult{}, fmt.Errorf("unparseable review response: %.120s", cleaned)
}
