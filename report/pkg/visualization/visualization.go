// Package visualization holds the closed set of visualization kinds and the
// headless renderers that shape rows into drawable frames.
package visualization

import (
	"fmt"

	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/row"
	"github.com/malbeclabs/dashboards/report/pkg/transform"
)

// Kind is a visualization type.
type Kind string

const (
	Table       Kind = "table"
	Line        Kind = "line"
	Bubble      Kind = "bubble"
	Scatter     Kind = "scatter"
	Bar         Kind = "bar"
	DualAxisBar Kind = "dualaxisbar"
	Stacked     Kind = "stacked"
	Area        Kind = "area"
	Funnel      Kind = "funnel"
	Pie         Kind = "pie"
	SpatialMap  Kind = "spatialmap"
	Cohort      Kind = "cohort"
	BigText     Kind = "bigtext"
	LiveNumber  Kind = "livenumber"
)

// FilterOverride replaces a filter's value whenever the visualization is
// selected.
type FilterOverride struct {
	FilterID     int    `yaml:"filter_id" json:"filter_id"`
	DefaultValue string `yaml:"default_value" json:"default_value"`
}

type AxisColumn struct {
	Key string `yaml:"key" json:"key"`
}

type Axis struct {
	Position string       `yaml:"position" json:"position"`
	Columns  []AxisColumn `yaml:"columns" json:"columns"`
}

type Options struct {
	Axes            []Axis           `yaml:"axes" json:"axes"`
	Transformations []transform.Spec `yaml:"transformations" json:"transformations"`
	Filters         []FilterOverride `yaml:"filters" json:"filters"`
}

// Definition is a stored visualization of a report.
type Definition struct {
	ID      int     `yaml:"visualization_id" json:"visualization_id"`
	Name    string  `yaml:"name" json:"name"`
	Type    Kind    `yaml:"type" json:"type"`
	Options Options `yaml:"options" json:"options"`
}

// Override returns the filter override declared for filterID.
func (d Definition) Override(filterID int) (FilterOverride, bool) {
	for _, o := range d.Options.Filters {
		if o.FilterID == filterID && filterID != 0 {
			return o, true
		}
	}
	return FilterOverride{}, false
}

// Point is one plotted value.
type Point struct {
	X any
	Y any
}

// Series is one plotted column.
type Series struct {
	Key    string
	Name   string
	Color  string
	Axis   string
	Points []Point
}

// Frame is the renderer-neutral output of a visualization.
type Frame struct {
	Kind    Kind
	Columns []string
	Rows    [][]any
	Series  []Series
}

// Renderer validates a definition against the column set and renders rows.
type Renderer interface {
	Kind() Kind
	Load(def Definition, columns *column.Registry) error
	Render(rows []*row.Row) (*Frame, error)
}

var registry = map[Kind]func(Kind) Renderer{
	Table:       newTabular,
	Funnel:      newTabular,
	Pie:         newTabular,
	SpatialMap:  newTabular,
	Cohort:      newTabular,
	BigText:     newTabular,
	LiveNumber:  newTabular,
	Line:        newLinear,
	Bubble:      newLinear,
	Scatter:     newLinear,
	Bar:         newLinear,
	DualAxisBar: newLinear,
	Stacked:     newLinear,
	Area:        newLinear,
}

// New returns the renderer for kind.
func New(kind Kind) (Renderer, error) {
	ctor, ok := registry[kind]
	if !ok {
		return nil, fmt.Errorf("unknown visualization type %q", kind)
	}
	return ctor(kind), nil
}

// Load builds and loads the renderer for def.
func Load(def Definition, columns *column.Registry) (Renderer, error) {
	r, err := New(def.Type)
	if err != nil {
		return nil, err
	}
	if err := r.Load(def, columns); err != nil {
		return nil, err
	}
	return r, nil
}

// WithDefault appends a plain table visualization when defs has none.
func WithDefault(defs []Definition) []Definition {
	if len(defs) > 0 {
		return defs
	}
	return []Definition{{Name: "Table", Type: Table}}
}
