package row

import (
	"log/slog"

	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/formula"
	"github.com/malbeclabs/dashboards/report/pkg/predicate"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

type search struct {
	predicate predicate.Predicate
	query     string
}

type plan struct {
	column  *column.Column
	formula *formula.Expr
	broken  bool
	search  []search
}

// Materializer turns raw result objects into rows for a fixed column set.
type Materializer struct {
	log   *slog.Logger
	plans []plan
	order []string
}

// NewMaterializer compiles formulas and search predicates for the enabled
// columns of reg. A formula that fails to compile yields nil cells; an
// unknown predicate excludes every row.
func NewMaterializer(log *slog.Logger, reg *column.Registry) *Materializer {
	m := &Materializer{log: log}
	for _, c := range reg.List() {
		p := plan{column: c}
		if c.Formula != "" {
			expr, err := formula.Parse(c.Formula)
			if err != nil {
				log.Debug("row: invalid formula", "column", c.Key, "formula", c.Formula, "error", err)
				p.broken = true
			}
			p.formula = expr
		}
		for _, s := range c.ActiveSearch() {
			pred, ok := predicate.Lookup(s.Predicate)
			if !ok {
				pred = predicate.Predicate{Slug: s.Predicate, Func: func(any, any) bool { return false }}
			}
			p.search = append(p.search, search{predicate: pred, query: s.Value})
		}
		m.plans = append(m.plans, p)
		m.order = append(m.order, c.Key)
	}
	return m
}

// Build materializes one raw object. Values follow registry order regardless
// of the raw key order.
func (m *Materializer) Build(raw map[string]any) *Row {
	vars := make(map[string]any, len(raw))
	for k, v := range raw {
		vars[k] = v
	}

	r := New()
	for _, p := range m.plans {
		key := p.column.Key
		v := raw[key]

		switch {
		case p.broken:
			v = nil
		case p.formula != nil:
			if n, err := p.formula.Number(vars); err == nil {
				v = n
			} else {
				v = nil
			}
			vars[key] = v
		}

		for _, s := range p.search {
			if value.IsEmpty(v) || !s.predicate.Match(s.query, v) {
				r.Skip = true
			}
		}

		r.Set(key, v)
	}
	r.Reorder(m.order)
	return r
}

// BuildAll materializes rows and drops the ones flagged to skip.
func (m *Materializer) BuildAll(raw []map[string]any) []*Row {
	out := make([]*Row, 0, len(raw))
	for _, obj := range raw {
		if r := m.Build(obj); !r.Skip {
			out = append(out, r)
		}
	}
	return out
}
