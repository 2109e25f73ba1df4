package transform

import (
	"context"
	"encoding/json"

	"github.com/malbeclabs/dashboards/report/pkg/aggregate"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

type pivot struct {
	rows   []string
	spread string
	values []ValueRef
	funcs  []aggregate.Func
}

func newPivot(o Options) (*pivot, error) {
	p := &pivot{values: o.Values}
	for _, r := range o.Rows {
		p.rows = append(p.rows, r.Column)
	}
	if len(o.Columns) > 0 {
		p.spread = o.Columns[0].Column
	}
	for _, v := range o.Values {
		fn, err := lookupFunc(v.Function)
		if err != nil {
			return nil, err
		}
		p.funcs = append(p.funcs, fn)
	}
	return p, nil
}

func (p *pivot) Type() Type { return Pivot }

type pivotGroup struct {
	key    []any
	values map[string][]any
}

// Apply groups rows by the row columns. With a spread column the first value
// spec is reduced once per distinct spread value, each becoming a column;
// otherwise every value spec yields one column.
func (p *pivot) Apply(_ context.Context, in value.Table) (value.Table, error) {
	var (
		groups  []*pivotGroup
		byKey   = make(map[string]*pivotGroup)
		spreads []string
		seen    = make(map[string]struct{})
	)

	for _, row := range in.Rows {
		key := make([]any, len(p.rows))
		for i, c := range p.rows {
			key[i] = row[c]
		}
		encoded, err := json.Marshal(key)
		if err != nil {
			return value.Table{}, err
		}
		g, ok := byKey[string(encoded)]
		if !ok {
			g = &pivotGroup{key: key, values: make(map[string][]any)}
			byKey[string(encoded)] = g
			groups = append(groups, g)
		}

		if p.spread != "" {
			s := value.String(row[p.spread])
			if _, ok := seen[s]; !ok {
				seen[s] = struct{}{}
				spreads = append(spreads, s)
			}
			if len(p.values) > 0 {
				g.values[s] = append(g.values[s], row[p.values[0].Column])
			} else {
				g.values[s] = append(g.values[s], nil)
			}
			continue
		}
		for _, v := range p.values {
			g.values[v.key()] = append(g.values[v.key()], row[v.Column])
		}
	}

	out := value.Table{Columns: append([]string(nil), p.rows...)}
	if p.spread != "" {
		out.Columns = append(out.Columns, spreads...)
	} else {
		for _, v := range p.values {
			out.Columns = append(out.Columns, v.key())
		}
	}

	for _, g := range groups {
		row := make(map[string]any, len(out.Columns))
		for i, c := range p.rows {
			row[c] = g.key[i]
		}
		if p.spread != "" {
			fn := aggregate.Default
			if len(p.funcs) > 0 {
				fn = p.funcs[0]
			}
			for _, s := range spreads {
				row[s] = aggregate.Reduce(fn, g.values[s])
			}
		} else {
			for i, v := range p.values {
				row[v.key()] = aggregate.Reduce(p.funcs[i], g.values[v.key()])
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}
