package transform

import (
	"context"
	"errors"

	"github.com/malbeclabs/dashboards/report/pkg/aggregate"
	"github.com/malbeclabs/dashboards/report/pkg/predicate"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

type streamJoin struct {
	src             StreamSource
	visualizationID int
	joins           []Join
	predicates      []predicate.Predicate
	columns         []ValueRef
	funcs           []aggregate.Func
}

func newStreamJoin(o Options, src StreamSource) (*streamJoin, error) {
	if o.VisualizationID == 0 {
		return nil, ErrStreamNotSelected
	}
	if src == nil {
		return nil, errors.New("stream source is required")
	}
	s := &streamJoin{src: src, visualizationID: o.VisualizationID, joins: o.Joins, columns: o.Columns}
	for _, j := range o.Joins {
		p, err := lookupPredicate(j.Function)
		if err != nil {
			return nil, err
		}
		s.predicates = append(s.predicates, p)
	}
	for _, c := range o.Columns {
		fn, err := lookupFunc(c.Function)
		if err != nil {
			return nil, err
		}
		s.funcs = append(s.funcs, fn)
	}
	return s, nil
}

func (s *streamJoin) Type() Type { return Stream }

// Apply collects, for each base row, the values of every stream row whose
// join predicates all hold, then reduces the collected arrays. Only the
// declared output columns are kept, and only where the base row or the stream
// has them.
func (s *streamJoin) Apply(ctx context.Context, in value.Table) (value.Table, error) {
	stream, err := s.src.Stream(ctx, s.visualizationID)
	if err != nil {
		return value.Table{}, err
	}
	streamKeys := stream.Keys()

	present := make(map[string]bool, len(streamKeys))
	for _, k := range streamKeys {
		present[k] = true
	}
	for _, base := range in.Rows {
		for k := range base {
			present[k] = true
		}
	}
	out := value.Table{}
	for _, c := range s.columns {
		if present[c.Column] {
			out.Columns = append(out.Columns, c.key())
		}
	}

	for _, base := range in.Rows {
		collected := make(map[string][]any)
		for _, k := range streamKeys {
			if _, ok := base[k]; !ok {
				collected[k] = []any{}
			}
		}

		for _, sr := range stream.Rows {
			match := true
			for i, j := range s.joins {
				if !s.predicates[i].Match(base[j.SourceColumn], sr[j.StreamColumn]) {
					match = false
					break
				}
			}
			if !match {
				continue
			}
			for k := range collected {
				collected[k] = append(collected[k], sr[k])
			}
		}

		row := make(map[string]any, len(s.columns))
		for i, c := range s.columns {
			if values, ok := collected[c.Column]; ok {
				row[c.key()] = aggregate.Reduce(s.funcs[i], values)
			} else if v, ok := base[c.Column]; ok {
				row[c.key()] = v
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
