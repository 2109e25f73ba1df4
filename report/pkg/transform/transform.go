// Package transform reshapes raw result sets before column inference.
package transform

import (
	"context"
	"errors"
	"fmt"

	"github.com/malbeclabs/dashboards/report/pkg/aggregate"
	"github.com/malbeclabs/dashboards/report/pkg/predicate"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// Type names a transformation stage.
type Type string

const (
	Pivot   Type = "pivot"
	Filters Type = "filters"
	Stream  Type = "stream"
)

var (
	ErrStreamNotSelected = errors.New("stream visualization not selected")
	ErrStreamNotFound    = errors.New("stream visualization not found")
	ErrStreamSelf        = errors.New("stream visualization cannot depend on its own report")
)

// Ref names a source column.
type Ref struct {
	Column string `yaml:"column" json:"column"`
}

// ValueRef names a column reduced with an aggregate function. Name, when set,
// is the output key.
type ValueRef struct {
	Column   string `yaml:"column" json:"column"`
	Function string `yaml:"function" json:"function"`
	Name     string `yaml:"name" json:"name"`
}

func (v ValueRef) key() string {
	if v.Name != "" {
		return v.Name
	}
	return v.Column
}

// Rule is a row predicate: row[Column] must satisfy Function against Value.
type Rule struct {
	Column   string `yaml:"column" json:"column"`
	Function string `yaml:"function" json:"function"`
	Value    string `yaml:"value" json:"value"`
}

// Join matches base rows to stream rows.
type Join struct {
	SourceColumn string `yaml:"sourceColumn" json:"sourceColumn"`
	StreamColumn string `yaml:"streamColumn" json:"streamColumn"`
	Function     string `yaml:"function" json:"function"`
}

// Options carries the typed options of every stage kind.
type Options struct {
	// pivot
	Rows    []Ref      `yaml:"rows" json:"rows"`
	Columns []ValueRef `yaml:"columns" json:"columns"`
	Values  []ValueRef `yaml:"values" json:"values"`
	// filters
	Filters []Rule `yaml:"filters" json:"filters"`
	// stream; Columns doubles as the output spec
	VisualizationID int    `yaml:"visualization_id" json:"visualization_id"`
	Joins           []Join `yaml:"joins" json:"joins"`
}

// Spec is one declared transformation.
type Spec struct {
	Type    Type    `yaml:"type" json:"type"`
	Options Options `yaml:"options" json:"options"`
}

// StreamSource resolves the rows of another report's visualization.
type StreamSource interface {
	Stream(ctx context.Context, visualizationID int) (value.Table, error)
}

// Stage is one compiled transformation.
type Stage interface {
	Type() Type
	Apply(ctx context.Context, in value.Table) (value.Table, error)
}

// Pipeline runs stages in declaration order.
type Pipeline struct {
	stages []Stage
}

// NewPipeline compiles specs. Unknown types, predicates or functions are
// configuration errors.
func NewPipeline(specs []Spec, src StreamSource) (*Pipeline, error) {
	p := &Pipeline{}
	for i, spec := range specs {
		var (
			stage Stage
			err   error
		)
		switch spec.Type {
		case Pivot:
			stage, err = newPivot(spec.Options)
		case Filters:
			stage, err = newFilter(spec.Options)
		case Stream:
			stage, err = newStreamJoin(spec.Options, src)
		default:
			err = fmt.Errorf("unknown transformation type %q", spec.Type)
		}
		if err != nil {
			return nil, fmt.Errorf("transformation %d: %w", i, err)
		}
		p.stages = append(p.stages, stage)
	}
	return p, nil
}

// Len returns the number of stages.
func (p *Pipeline) Len() int { return len(p.stages) }

// Run applies every stage to a deep copy of in.
func (p *Pipeline) Run(ctx context.Context, in value.Table) (value.Table, error) {
	out := in.Clone()
	for _, s := range p.stages {
		var err error
		out, err = s.Apply(ctx, out)
		if err != nil {
			return value.Table{}, fmt.Errorf("failed to apply %s transformation: %w", s.Type(), err)
		}
	}
	return out, nil
}

func lookupFunc(name string) (aggregate.Func, error) {
	fn, ok := aggregate.Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown aggregate function %q", name)
	}
	return fn, nil
}

func lookupPredicate(name string) (predicate.Predicate, error) {
	p, ok := predicate.Lookup(predicate.Slug(name))
	if !ok {
		return predicate.Predicate{}, fmt.Errorf("unknown predicate %q", name)
	}
	return p, nil
}
