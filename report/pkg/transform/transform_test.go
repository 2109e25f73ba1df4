package transform

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/dashboards/report/pkg/value"
)

type mockStreamSource struct {
	StreamFunc func(ctx context.Context, visualizationID int) (value.Table, error)
}

func (m *mockStreamSource) Stream(ctx context.Context, visualizationID int) (value.Table, error) {
	return m.StreamFunc(ctx, visualizationID)
}

func sales() value.Table {
	return value.Table{
		Columns: []string{"region", "product", "sales"},
		Rows: []map[string]any{
			{"region": "west", "product": "a", "sales": 10.0},
			{"region": "west", "product": "b", "sales": 5.0},
			{"region": "east", "product": "a", "sales": 7.0},
			{"region": "west", "product": "a", "sales": 1.0},
		},
	}
}

func run(t *testing.T, specs []Spec, src StreamSource, in value.Table) value.Table {
	t.Helper()
	p, err := NewPipeline(specs, src)
	require.NoError(t, err)
	out, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	return out
}

func TestReports_Transform_Pivot(t *testing.T) {
	t.Parallel()

	t.Run("reduces value specs per row key", func(t *testing.T) {
		t.Parallel()
		out := run(t, []Spec{{Type: Pivot, Options: Options{
			Rows: []Ref{{Column: "region"}},
			Values: []ValueRef{
				{Column: "sales", Function: "sum", Name: "total"},
				{Column: "product", Function: "distinctcount"},
				{Column: "sales", Function: "average", Name: "avg"},
			},
		}}}, nil, sales())

		require.Equal(t, []string{"region", "total", "product", "avg"}, out.Columns)
		require.Equal(t, []map[string]any{
			{"region": "west", "total": 16.0, "product": 2, "avg": 5.33},
			{"region": "east", "total": 7.0, "product": 1, "avg": 7.0},
		}, out.Rows)
	})

	t.Run("spreads a column into headers", func(t *testing.T) {
		t.Parallel()
		out := run(t, []Spec{{Type: Pivot, Options: Options{
			Rows:    []Ref{{Column: "region"}},
			Columns: []ValueRef{{Column: "product"}},
			Values:  []ValueRef{{Column: "sales", Function: "max"}},
		}}}, nil, sales())

		require.Equal(t, []string{"region", "a", "b"}, out.Columns)
		require.Equal(t, []map[string]any{
			{"region": "west", "a": 10.0, "b": 5.0},
			{"region": "east", "a": 7.0, "b": nil},
		}, out.Rows)
	})

	t.Run("defaults to count", func(t *testing.T) {
		t.Parallel()
		out := run(t, []Spec{{Type: Pivot, Options: Options{
			Rows:   []Ref{{Column: "product"}},
			Values: []ValueRef{{Column: "sales"}},
		}}}, nil, sales())
		require.Equal(t, 3, out.Rows[0]["sales"])
	})

	t.Run("is idempotent on pre-grouped data", func(t *testing.T) {
		t.Parallel()
		in := value.Table{
			Columns: []string{"region", "product", "sales"},
			Rows: []map[string]any{
				{"region": "west", "product": "a", "sales": 10.0},
				{"region": "west", "product": "b", "sales": 5.5},
				{"region": "east", "product": "a", "sales": 7.0},
			},
		}
		for _, fn := range []string{"sum", "max", "min", "average", "values", "distinctvalues"} {
			out := run(t, []Spec{{Type: Pivot, Options: Options{
				Rows:   []Ref{{Column: "region"}, {Column: "product"}},
				Values: []ValueRef{{Column: "sales", Function: fn}},
			}}}, nil, in)
			require.Len(t, out.Rows, len(in.Rows), fn)
			for i, r := range out.Rows {
				require.Equal(t, value.String(in.Rows[i]["sales"]), value.String(r["sales"]), fn)
				require.Equal(t, in.Rows[i]["region"], r["region"])
				require.Equal(t, in.Rows[i]["product"], r["product"])
			}
		}
	})

	t.Run("does not mutate its input", func(t *testing.T) {
		t.Parallel()
		in := sales()
		run(t, []Spec{{Type: Pivot, Options: Options{Rows: []Ref{{Column: "region"}}}}}, nil, in)
		require.Equal(t, sales(), in)
	})
}

func TestReports_Transform_Filters(t *testing.T) {
	t.Parallel()

	out := run(t, []Spec{{Type: Filters, Options: Options{Filters: []Rule{
		{Column: "region", Function: "equalto", Value: "WEST"},
		{Column: "sales", Function: "greaterthan", Value: "2"},
	}}}}, nil, sales())

	require.Equal(t, sales().Columns, out.Columns)
	require.Len(t, out.Rows, 2)
	require.Equal(t, 10.0, out.Rows[0]["sales"])
	require.Equal(t, 5.0, out.Rows[1]["sales"])
}

func TestReports_Transform_Chained(t *testing.T) {
	t.Parallel()

	out := run(t, []Spec{
		{Type: Filters, Options: Options{Filters: []Rule{{Column: "product", Function: "equalto", Value: "a"}}}},
		{Type: Pivot, Options: Options{
			Rows:   []Ref{{Column: "region"}},
			Values: []ValueRef{{Column: "sales", Function: "sum"}},
		}},
	}, nil, sales())

	require.Equal(t, []map[string]any{
		{"region": "west", "sales": 11.0},
		{"region": "east", "sales": 7.0},
	}, out.Rows)
}

func TestReports_Transform_Stream(t *testing.T) {
	t.Parallel()

	targets := value.Table{
		Columns: []string{"region", "target", "owner"},
		Rows: []map[string]any{
			{"region": "west", "target": 20.0, "owner": "ana"},
			{"region": "West", "target": 5.0, "owner": "bo"},
			{"region": "east", "target": 9.0, "owner": "cy"},
		},
	}

	t.Run("joins and reduces matching stream rows", func(t *testing.T) {
		t.Parallel()
		var gotID int
		src := &mockStreamSource{StreamFunc: func(_ context.Context, id int) (value.Table, error) {
			gotID = id
			return targets, nil
		}}
		in := value.Table{
			Columns: []string{"region", "sales"},
			Rows: []map[string]any{
				{"region": "west", "sales": 16.0},
				{"region": "north", "sales": 1.0},
			},
		}
		out := run(t, []Spec{{Type: Stream, Options: Options{
			VisualizationID: 42,
			Joins:           []Join{{SourceColumn: "region", StreamColumn: "region", Function: "equalto"}},
			Columns: []ValueRef{
				{Column: "region"},
				{Column: "sales"},
				{Column: "target", Function: "sum"},
				{Column: "owner", Function: "values"},
			},
		}}}, src, in)

		require.Equal(t, 42, gotID)
		require.Equal(t, []string{"region", "sales", "target", "owner"}, out.Columns)
		require.Equal(t, []map[string]any{
			{"region": "west", "sales": 16.0, "target": 25.0, "owner": "ana, bo"},
			{"region": "north", "sales": 1.0, "target": 0.0, "owner": ""},
		}, out.Rows)
	})

	t.Run("skips declared columns found in neither side", func(t *testing.T) {
		t.Parallel()
		src := &mockStreamSource{StreamFunc: func(context.Context, int) (value.Table, error) {
			return targets, nil
		}}
		in := value.Table{
			Columns: []string{"region", "sales"},
			Rows: []map[string]any{
				{"region": "east", "sales": 4.0},
				{"region": "west"},
			},
		}
		out := run(t, []Spec{{Type: Stream, Options: Options{
			VisualizationID: 42,
			Joins:           []Join{{SourceColumn: "region", StreamColumn: "region", Function: "equalto"}},
			Columns: []ValueRef{
				{Column: "region"},
				{Column: "sales"},
				{Column: "missing"},
				{Column: "target", Function: "sum"},
			},
		}}}, src, in)

		require.Equal(t, []string{"region", "sales", "target"}, out.Columns)
		require.Equal(t, []map[string]any{
			{"region": "east", "sales": 4.0, "target": 9.0},
			{"region": "west", "target": 25.0},
		}, out.Rows)
	})

	t.Run("propagates stream errors", func(t *testing.T) {
		t.Parallel()
		src := &mockStreamSource{StreamFunc: func(context.Context, int) (value.Table, error) {
			return value.Table{}, ErrStreamNotFound
		}}
		p, err := NewPipeline([]Spec{{Type: Stream, Options: Options{VisualizationID: 1}}}, src)
		require.NoError(t, err)
		_, err = p.Run(context.Background(), sales())
		require.ErrorIs(t, err, ErrStreamNotFound)
	})

	t.Run("requires a visualization", func(t *testing.T) {
		t.Parallel()
		_, err := NewPipeline([]Spec{{Type: Stream}}, &mockStreamSource{})
		require.ErrorIs(t, err, ErrStreamNotSelected)
	})
}

func TestReports_Transform_InvalidSpecs(t *testing.T) {
	t.Parallel()

	for name, spec := range map[string]Spec{
		"unknown type":      {Type: "unpivot"},
		"unknown function":  {Type: Pivot, Options: Options{Values: []ValueRef{{Column: "a", Function: "median"}}}},
		"unknown predicate": {Type: Filters, Options: Options{Filters: []Rule{{Column: "a", Function: "like"}}}},
	} {
		_, err := NewPipeline([]Spec{spec}, nil)
		require.Error(t, err, name)
		require.False(t, errors.Is(err, ErrStreamNotSelected), name)
	}
}
