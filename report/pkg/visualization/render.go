package visualization

import (
	"errors"
	"fmt"

	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/row"
)

var (
	ErrAxesNotDefined       = errors.New("axes not defined")
	ErrBottomAxisNotDefined = errors.New("bottom axis not defined")
	ErrLeftAxisNotDefined   = errors.New("left axis not defined")
	ErrBottomAxisColumns    = errors.New("bottom axis requires exactly one column")
	ErrLeftAxisColumns      = errors.New("left axis requires at least one column")
)

type tabular struct {
	kind    Kind
	columns []*column.Column
}

func newTabular(k Kind) Renderer { return &tabular{kind: k} }

func (t *tabular) Kind() Kind { return t.kind }

func (t *tabular) Load(_ Definition, columns *column.Registry) error {
	t.columns = nil
	for _, c := range columns.List() {
		if !c.Hidden {
			t.columns = append(t.columns, c)
		}
	}
	return nil
}

func (t *tabular) Render(rows []*row.Row) (*Frame, error) {
	f := &Frame{Kind: t.kind}
	for _, c := range t.columns {
		f.Columns = append(f.Columns, c.Key)
	}
	for _, r := range rows {
		cells := make([]any, len(t.columns))
		for i, c := range t.columns {
			cells[i] = r.Value(c.Key)
		}
		f.Rows = append(f.Rows, cells)
	}
	return f, nil
}

type plotted struct {
	column *column.Column
	axis   string
}

type linear struct {
	kind   Kind
	bottom *column.Column
	series []plotted
}

func newLinear(k Kind) Renderer { return &linear{kind: k} }

func (l *linear) Kind() Kind { return l.kind }

// Load resolves the bottom axis column and the plotted left (and right)
// axis columns.
func (l *linear) Load(def Definition, columns *column.Registry) error {
	axes := def.Options.Axes
	if len(axes) == 0 {
		return ErrAxesNotDefined
	}
	byPosition := make(map[string]Axis, len(axes))
	for _, a := range axes {
		byPosition[a.Position] = a
	}

	bottom, ok := byPosition["bottom"]
	if !ok {
		return ErrBottomAxisNotDefined
	}
	left, ok := byPosition["left"]
	if !ok {
		return ErrLeftAxisNotDefined
	}
	if len(bottom.Columns) != 1 {
		return ErrBottomAxisColumns
	}
	if len(left.Columns) == 0 {
		return ErrLeftAxisColumns
	}

	resolve := func(key string) (*column.Column, error) {
		c, ok := columns.Get(key)
		if !ok {
			return nil, fmt.Errorf("column %s not found", key)
		}
		return c, nil
	}

	var err error
	if l.bottom, err = resolve(bottom.Columns[0].Key); err != nil {
		return err
	}
	l.series = l.series[:0]
	for _, pos := range []string{"left", "right"} {
		for _, ac := range byPosition[pos].Columns {
			c, err := resolve(ac.Key)
			if err != nil {
				return err
			}
			if c.Disabled {
				continue
			}
			l.series = append(l.series, plotted{column: c, axis: pos})
		}
	}
	return nil
}

func (l *linear) Render(rows []*row.Row) (*Frame, error) {
	if l.bottom == nil {
		return nil, ErrBottomAxisNotDefined
	}
	f := &Frame{Kind: l.kind, Columns: []string{l.bottom.Key}}
	for _, s := range l.series {
		out := Series{Key: s.column.Key, Name: s.column.Name, Color: s.column.Color, Axis: s.axis}
		for _, r := range rows {
			out.Points = append(out.Points, Point{X: r.Value(l.bottom.Key), Y: r.Value(s.column.Key)})
		}
		f.Columns = append(f.Columns, s.column.Key)
		f.Series = append(f.Series, out)
	}
	return f, nil
}
