package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Model responses frequently wrap JSON in markdown fences or decorate it
// with prose and trailing commas. ParseJSON works through a fixed sequence
// of cleanup strategies instead of trusting the raw text.
var (
	fenceWholeRegex = regexp.MustCompile("(?s)^```(?:json|python)?\\s*\\n?([\\s\\S]*?)\\n?```\\s*$")
	fenceAnyRegex   = regexp.MustCompile("(?s)```(?:json|python)?\\s*\\n?([\\s\\S]*?)\\n?```")

	trailingCommaRegex = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRegex   = regexp.MustCompile(`(?m)^\s*//.*$`)

	jsonObjectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	jsonArrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// JSONResult is the outcome of a tolerant JSON parse. A failed parse is a
// value, not a panic or an error chain: callers route it into their
// role-specific fallback behavior.
type JSONResult[T any] struct {
	OK    bool
	Value T
	Err   string
}

// ParseJSON attempts to decode text into T, trying progressively more
// aggressive cleanup: direct decode, fence removal, comma/comment repair,
// then extraction of the first JSON object or array from mixed content.
func ParseJSON[T any](text, describe string) JSONResult[T] {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return jsonFailure[T]("empty response", describe)
	}

	if value, err := decode[T](trimmed); err == nil {
		return JSONResult[T]{OK: true, Value: value}
	}

	unfenced := StripCodeFences(trimmed)
	if unfenced != trimmed {
		if value, err := decode[T](unfenced); err == nil {
			return JSONResult[T]{OK: true, Value: value}
		}
	}

	repaired := repairJSON(unfenced)
	if value, err := decode[T](repaired); err == nil {
		return JSONResult[T]{OK: true, Value: value}
	}

	if extracted := extractJSON(repaired); extracted != "" {
		if value, err := decode[T](extracted); err == nil {
			return JSONResult[T]{OK: true, Value: value}
		}
	}

	return jsonFailure[T]("no parsing strategy succeeded", describe)
}

func decode[T any](text string) (T, error) {
	var value T
	err := json.Unmarshal([]byte(text), &value)
	return value, err
}

// StripCodeFences removes markdown code fences wrapping text, preferring a
// whole-string fence before falling back to the first fenced block found
// anywhere.
func StripCodeFences(text string) string {
	cleaned := fenceWholeRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		cleaned = fenceAnyRegex.ReplaceAllString(text, "$1")
	}
	cleaned = strings.TrimSpace(cleaned)
	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") && len(cleaned) > 1 {
		cleaned = strings.TrimSpace(cleaned[1 : len(cleaned)-1])
	}
	return cleaned
}

// repairJSON fixes trailing commas and strips line comments. Single quotes
// are left alone: rewriting them breaks valid JSON containing apostrophes.
func repairJSON(text string) string {
	cleaned := trailingCommaRegex.ReplaceAllString(text, "$1")
	cleaned = lineCommentRegex.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// extractJSON pulls the first JSON object or array out of mixed content,
// using the leading character to avoid clipping an object out of an array.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") {
		return jsonArrayRegex.FindString(trimmed)
	}
	if match := jsonObjectRegex.FindString(text); match != "" {
		return match
	}
	return jsonArrayRegex.FindString(text)
}

func jsonFailure[T any](msg, describe string) JSONResult[T] {
	var zero T
	if describe != "" {
		msg = fmt.Sprintf("%s: %s", describe, msg)
	}
	return JSONResult[T]{OK: false, Value: zero, Err: msg}
}

// Truncate shortens s to at most n bytes for log and prompt embedding.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
