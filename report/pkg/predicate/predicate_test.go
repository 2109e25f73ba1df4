package predicate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReports_Predicate_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		slug  Slug
		query any
		data  any
		want  bool
	}{
		{Contains, "WE", "North-West", true},
		{Contains, "south", "North-West", false},
		{NotContains, "south", "North-West", true},
		{StartsWith, "north", "North-West", true},
		{EndsWith, "WEST", "North-West", true},
		{EqualTo, "west", "West", true},
		{NotEqualTo, "west", "West", false},
		{GreaterThan, "10", 11.0, true},
		{GreaterThan, "10", "9", false},
		{GreaterThan, "abc", 11.0, false},
		{LessThan, 10, "9.5", true},
		{GreaterThanEqualsTo, "10", 10, true},
		{LessThanEqualTo, "10", 10.5, false},
		{RegularExpression, "^we.t$", "WEST", true},
		{RegularExpression, "^east", "west", false},
		{RegularExpression, "([unclosed", "([unclosed", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.slug), func(t *testing.T) {
			t.Parallel()
			p, ok := Lookup(tt.slug)
			require.True(t, ok)
			require.Equal(t, tt.want, p.Match(tt.query, tt.data), "%v %v", tt.query, tt.data)
		})
	}
}

func TestReports_Predicate_Lookup(t *testing.T) {
	t.Parallel()

	p, ok := Lookup("Contains")
	require.True(t, ok)
	require.Equal(t, "Contains", p.Name)

	_, ok = Lookup("between")
	require.False(t, ok)

	require.Len(t, All(), 11)
}

func TestReports_Predicate_PatternCacheIsBounded(t *testing.T) {
	t.Parallel()

	for i := range patternCacheSize + 50 {
		require.True(t, matchRegexp(fmt.Sprintf("^row-%d$", i), fmt.Sprintf("ROW-%d", i)))
	}
	require.LessOrEqual(t, patterns.Len(), patternCacheSize)

	require.True(t, matchRegexp("^row-0$", "row-0"), "evicted patterns are recompiled")
	require.False(t, matchRegexp("(", "("))
	require.False(t, matchRegexp("(", "("), "malformed patterns stay non-matching once cached")
}
