package postprocess

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dashboards/report/pkg/row"
)

// 2024-03-04 is a Monday.
var monday = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

func daily(start time.Time, values ...float64) []*row.Row {
	rows := make([]*row.Row, len(values))
	for i, v := range values {
		rows[i] = row.FromMap([]string{"day", "label", "value"}, map[string]any{
			"day":   start.AddDate(0, 0, i).Format("2006-01-02"),
			"label": "l",
			"value": v,
		})
	}
	return rows
}

func column(rows []*row.Row, key string) []any {
	out := make([]any, len(rows))
	for i, r := range rows {
		out[i] = r.Value(key)
	}
	return out
}

func TestReports_PostProcess_Rolling(t *testing.T) {
	t.Parallel()

	t.Run("sums the trailing window", func(t *testing.T) {
		t.Parallel()
		out, err := Apply(Selection{Kind: RollingSum, Value: "7"}, daily(monday, 1, 2, 3, 4, 5, 6, 7), "day")
		require.NoError(t, err)
		require.Equal(t, []any{1.0, 3.0, 6.0, 10.0, 15.0, 21.0, 28.0}, column(out, "value"))
		require.Equal(t, "l", out[6].Value("label"))
	})

	t.Run("average divides by the full window", func(t *testing.T) {
		t.Parallel()
		out, err := Apply(Selection{Kind: RollingAverage, Value: "7"}, daily(monday, 7, 7), "day")
		require.NoError(t, err)
		require.Equal(t, []any{1.0, 2.0}, column(out, "value"))
	})

	t.Run("missing days contribute nothing", func(t *testing.T) {
		t.Parallel()
		rows := daily(monday, 1, 2, 3, 4, 5, 6, 7)
		rows = append(rows[:2], rows[3:]...)
		out, err := Apply(Selection{Kind: RollingSum, Value: "7"}, rows, "day")
		require.NoError(t, err)
		require.Equal(t, 25.0, out[len(out)-1].Value("value"))
	})

	t.Run("rows sharing a day become one row", func(t *testing.T) {
		t.Parallel()
		rows := append(daily(monday, 1), daily(monday, 5, 2)...)
		rows[1].Annotate("late")
		out, err := Apply(Selection{Kind: RollingSum, Value: "7"}, rows, "day")
		require.NoError(t, err)
		require.Equal(t, []any{"2024-03-04", "2024-03-05"}, column(out, "day"))
		require.Equal(t, []any{6.0, 8.0}, column(out, "value"))
		require.Equal(t, []string{"late"}, out[0].Annotations())
		require.Equal(t, 1.0, rows[0].Value("value"))
	})

	t.Run("rows without a timing value pass through", func(t *testing.T) {
		t.Parallel()
		rows := daily(monday, 1, 2)
		rows[0].Set("day", "not a date")
		out, err := Apply(Selection{Kind: RollingSum, Value: "7"}, rows, "day")
		require.NoError(t, err)
		require.Equal(t, []any{1.0, 2.0}, column(out, "value"))
		require.Same(t, rows[0], out[0])
	})

	t.Run("does not mutate its input", func(t *testing.T) {
		t.Parallel()
		rows := daily(monday, 1, 2)
		_, err := Apply(Selection{Kind: RollingSum, Value: "14"}, rows, "day")
		require.NoError(t, err)
		require.Equal(t, 2.0, rows[1].Value("value"))
	})
}

func TestReports_PostProcess_Collapse(t *testing.T) {
	t.Parallel()

	t.Run("collapses a week to its monday", func(t *testing.T) {
		t.Parallel()
		rows := daily(monday, 10, 10, 10, 10, 10, 10, 10)
		rows[3].Annotate("release")
		out, err := Apply(Selection{Kind: CollapseTo, Value: "week"}, rows, "day")
		require.NoError(t, err)
		require.Len(t, out, 1)
		require.Equal(t, "2024-03-04", out[0].Value("day"))
		require.Equal(t, 70.0, out[0].Value("value"))
		require.Equal(t, "l", out[0].Value("label"))
		require.Equal(t, []string{"release"}, out[0].Annotations())
	})

	t.Run("sunday belongs to the preceding monday", func(t *testing.T) {
		t.Parallel()
		out, err := Apply(Selection{Kind: CollapseTo, Value: "week"}, daily(monday.AddDate(0, 0, -1), 1, 2), "day")
		require.NoError(t, err)
		require.Equal(t, []any{"2024-02-26", "2024-03-04"}, column(out, "day"))
	})

	t.Run("collapses to the first of the month", func(t *testing.T) {
		t.Parallel()
		out, err := Apply(Selection{Kind: CollapseTo, Value: "month"}, daily(time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC), 1, 2, 3), "day")
		require.NoError(t, err)
		require.Equal(t, []any{"2024-02-01", "2024-03-01"}, column(out, "day"))
		require.Equal(t, []any{3.0, 3.0}, column(out, "value"))
	})
}

func TestReports_PostProcess_Weekday(t *testing.T) {
	t.Parallel()

	out, err := Apply(Selection{Kind: Weekday, Value: "1"}, daily(monday, 1, 2, 3, 4, 5, 6, 7, 8), "day")
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 8.0}, column(out, "value"))

	out, err = Apply(Selection{Kind: Weekday, Value: "0"}, daily(monday, 1, 2, 3, 4, 5, 6, 7), "day")
	require.NoError(t, err)
	require.Equal(t, []any{7.0}, column(out, "value"))
}

func TestReports_PostProcess_Selection(t *testing.T) {
	t.Parallel()

	rows := daily(monday, 1, 2)

	t.Run("unchanged without a timing column", func(t *testing.T) {
		t.Parallel()
		out, err := Apply(Selection{Kind: RollingSum, Value: "7"}, rows, "")
		require.NoError(t, err)
		require.Equal(t, rows, out)
	})

	t.Run("original passes rows through", func(t *testing.T) {
		t.Parallel()
		out, err := Apply(Selection{}, rows, "day")
		require.NoError(t, err)
		require.Equal(t, rows, out)
	})

	t.Run("rejects values outside the domain", func(t *testing.T) {
		t.Parallel()
		_, err := Apply(Selection{Kind: RollingSum, Value: "8"}, rows, "day")
		require.ErrorContains(t, err, "invalid value")
		_, err = Apply(Selection{Kind: Weekday, Value: "7"}, rows, "day")
		require.Error(t, err)
		_, err = Apply(Selection{Kind: "median"}, rows, "day")
		require.ErrorContains(t, err, "unknown post-processor")
	})

	t.Run("lists processors with their domains", func(t *testing.T) {
		t.Parallel()
		ps := Processors()
		require.Len(t, ps, 5)
		require.Equal(t, "Sunday", ps[1].Domain()[0].Name)
		require.Equal(t, "Saturday", ps[1].Domain()[6].Name)
	})
}
