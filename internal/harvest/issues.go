package harvest

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Issue numbers accepted by the portal.
const (
	MinIssue = 1
	MaxIssue = 12
)

// ParseIssues expands an issue expression such as "6", "1-3", "1,5,7" or
// "1-3,5,7-9" into a sorted, de-duplicated list of issue numbers.
func ParseIssues(expr string) ([]int, error) {
	seen := make(map[int]struct{})
	for _, part := range strings.Split(strings.TrimSpace(expr), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !strings.Contains(part, "-") {
			n, err := parseIssue(part)
			if err != nil {
				return nil, err
			}
			seen[n] = struct{}{}
			continue
		}
		bounds := strings.Split(part, "-")
		if len(bounds) != 2 {
			return nil, fmt.Errorf("invalid issue range %q", part)
		}
		start, err := parseIssue(bounds[0])
		if err != nil {
			return nil, err
		}
		end, err := parseIssue(bounds[1])
		if err != nil {
			return nil, err
		}
		if start > end {
			return nil, fmt.Errorf("issue range %q starts after it ends", part)
		}
		for n := start; n <= end; n++ {
			seen[n] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("issue expression %q selects no issues", expr)
	}
	out := make([]int, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func parseIssue(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid issue number %q: %w", raw, err)
	}
	if n < MinIssue || n > MaxIssue {
		return 0, fmt.Errorf("issue %d outside valid range (%d-%d)", n, MinIssue, MaxIssue)
	}
	return n, nil
}
