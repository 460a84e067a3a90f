package harvest

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseIssues(t *testing.T) {
	t.Parallel()

	cases := map[string][]int{
		"6":         {6},
		" 1-3 ":     {1, 2, 3},
		"1,5,7":     {1, 5, 7},
		"1-3,5,7-9": {1, 2, 3, 5, 7, 8, 9},
		"3,1-3,,2":  {1, 2, 3},
		"12":        {12},
	}
	for expr, want := range cases {
		got, err := ParseIssues(expr)
		require.NoError(t, err, expr)
		require.Equal(t, want, got, expr)
	}
}

func TestParseIssuesRejectsInvalid(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "0", "13", "3-1", "1-2-3", "a", "1-x", ","} {
		_, err := ParseIssues(expr)
		require.Error(t, err, "expression %q", expr)
	}
}
