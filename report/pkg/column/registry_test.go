package column

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dashboards/report/pkg/settings"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

func keys(cols []*Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Key
	}
	return out
}

func TestReports_Column_DisplayName(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Total Sales", DisplayName("total_sales"))
	require.Equal(t, "Region", DisplayName("region"))
	require.Equal(t, "A  B", DisplayName("a__b"))
	require.Equal(t, "ÉTé", DisplayName("éTé"))
}

func TestReports_Column_Registry(t *testing.T) {
	t.Parallel()

	t.Run("builds columns in table order with palette colors", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry(settings.Default(), nil)
		changed := r.Update(value.Table{Columns: []string{"day", "total_sales", "region"}})
		require.True(t, changed)
		require.Equal(t, []string{"day", "total_sales", "region"}, keys(r.All()))

		c, ok := r.Get("total_sales")
		require.True(t, ok)
		require.Equal(t, "Total Sales", c.Name)
		require.Equal(t, settings.DefaultPalette[1], c.Color)
	})

	t.Run("wraps palette after sixteen columns", func(t *testing.T) {
		t.Parallel()
		cols := make([]string, 18)
		for i := range cols {
			cols[i] = string(rune('a' + i))
		}
		r := NewRegistry(settings.Default(), nil)
		r.Update(value.Table{Columns: cols})
		c, _ := r.Get("q")
		require.Equal(t, settings.DefaultPalette[0], c.Color)
	})

	t.Run("applies overrides matched by key", func(t *testing.T) {
		t.Parallel()
		desc := SortDesc
		r := NewRegistry(settings.Default(), []Format{
			{Key: "cost", Name: "Spend", Prefix: "$", Disabled: true},
			{Key: "day", Type: "date", Sort: &desc},
		})
		r.Update(value.Table{Columns: []string{"day", "cost", "clicks"}})

		c, _ := r.Get("cost")
		require.Equal(t, "Spend", c.Name)
		require.Equal(t, "$", c.Prefix)
		require.Equal(t, []string{"day", "clicks"}, keys(r.List()))

		key, isDesc, ok := r.SortBy()
		require.True(t, ok)
		require.Equal(t, "day", key)
		require.True(t, isDesc)
	})

	t.Run("only rebuilds when the key set changes", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry(settings.Default(), nil)
		r.Update(value.Table{Columns: []string{"a", "b"}})
		c, _ := r.Get("a")
		c.Search = []Search{{Predicate: "contains", Value: "x"}}

		require.False(t, r.Update(value.Table{Columns: []string{"a", "b"}}))
		require.True(t, r.Update(value.Table{Columns: []string{"a", "c"}}))

		c, _ = r.Get("a")
		require.Len(t, c.Search, 1)
		_, ok := r.Get("b")
		require.False(t, ok)
	})

	t.Run("derives keys from rows when columns are absent", func(t *testing.T) {
		t.Parallel()
		r := NewRegistry(settings.Default(), nil)
		r.Update(value.Table{Rows: []map[string]any{{"z": 1, "a": 2}}})
		require.Equal(t, []string{"a", "z"}, keys(r.All()))
	})
}

func TestReports_Column_Move(t *testing.T) {
	t.Parallel()

	r := NewRegistry(settings.Default(), nil)
	r.Update(value.Table{Columns: []string{"a", "b", "c"}})

	require.NoError(t, r.Move("c", "a"))
	require.Equal(t, []string{"c", "a", "b"}, keys(r.All()))

	require.NoError(t, r.Move("c", ""))
	require.Equal(t, []string{"a", "b", "c"}, keys(r.All()))

	require.Error(t, r.Move("x", "a"))
	require.Error(t, r.Move("a", "x"))

	c, ok := r.Get("c")
	require.True(t, ok)
	require.Equal(t, "c", c.Key)
}

func TestReports_Column_Timing(t *testing.T) {
	t.Parallel()

	r := NewRegistry(settings.Default(), []Format{{Key: "created", Type: "date"}, {Key: "shipped", Type: "date"}})
	r.Update(value.Table{Columns: []string{"timing", "created", "shipped"}})
	key, ok := r.Timing()
	require.True(t, ok)
	require.Equal(t, "shipped", key)

	r = NewRegistry(settings.Default(), nil)
	r.Update(value.Table{Columns: []string{"timing", "v"}})
	key, ok = r.Timing()
	require.True(t, ok)
	require.Equal(t, "timing", key)

	r = NewRegistry(settings.Default(), nil)
	r.Update(value.Table{Columns: []string{"v"}})
	_, ok = r.Timing()
	require.False(t, ok)
}

func TestReports_Column_Validate(t *testing.T) {
	t.Parallel()

	r := NewRegistry(settings.Default(), []Format{{Key: "a", Search: []Search{{Predicate: "between", Value: "1"}}}})
	r.Update(value.Table{Columns: []string{"a"}})
	require.ErrorContains(t, r.Validate(), "unknown search predicate")
}
