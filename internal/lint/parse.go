package lint

import (
	"encoding/json"
	"regexp"
	"strconv"
)

// scoreRegex matches pylint's summary line, e.g.
// "Your code has been rated at 7.50/10 (previous run: 6.80/10, +0.70)".
var scoreRegex = regexp.MustCompile(`rated at ([\d.]+)/10`)

// ParseScore extracts the 0-10 score from pylint's textual output. A missing
// score line yields nil, never zero and never an error.
func ParseScore(output string) *float64 {
	match := scoreRegex.FindStringSubmatch(output)
	if match == nil {
		return nil
	}
	score, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return nil
	}
	return &score
}

// ParseIssues decodes pylint's JSON issue array. Malformed JSON yields an
// empty issue list; the score may still be usable.
func ParseIssues(data []byte) []Issue {
	var issues []Issue
	if err := json.Unmarshal(data, &issues); err != nil {
		return nil
	}
	return issues
}
