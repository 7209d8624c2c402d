package pytest

import (
	"regexp"
	"strconv"
)

// Summary-phrase patterns, e.g. "3 passed, 1 failed in 0.12s". Each count is
// independently optional; absence means zero.
var (
	passedRegex  = regexp.MustCompile(`(\d+) passed`)
	failedRegex  = regexp.MustCompile(`(\d+) failed`)
	erroredRegex = regexp.MustCompile(`(\d+) error`)
	skippedRegex = regexp.MustCompile(`(\d+) skipped`)
)

// ParseStats extracts test counts from combined pytest output. Total is
// passed+failed+errored; skipped tests are not counted toward the total.
func ParseStats(output string) Stats {
	stats := Stats{
		Passed:  matchCount(passedRegex, output),
		Failed:  matchCount(failedRegex, output),
		Errored: matchCount(erroredRegex, output),
		Skipped: matchCount(skippedRegex, output),
	}
	stats.Total = stats.Passed + stats.Failed + stats.Errored
	return stats
}

func matchCount(re *regexp.Regexp, output string) int {
	match := re.FindStringSubmatch(output)
	if match == nil {
		return 0
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return 0
	}
	return n
}
