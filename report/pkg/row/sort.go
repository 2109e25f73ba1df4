package row

import (
	"slices"

	"github.com/malbeclabs/dashboards/report/pkg/aggregate"
	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// Sort orders rows by key using the type-aware comparator. desc inverts it.
func Sort(rows []*Row, key string, desc bool) {
	slices.SortFunc(rows, func(a, b *Row) int {
		c := value.Compare(a.Value(key), b.Value(key))
		if desc {
			return -c
		}
		return c
	})
}

// Accumulate reduces the visible values of key with fn.
func Accumulate(rows []*Row, key string, fn aggregate.Func) any {
	values := make([]any, 0, len(rows))
	for _, r := range rows {
		if v, ok := r.Get(key); ok {
			values = append(values, v)
		}
	}
	return aggregate.Reduce(fn, values)
}

// Accumulations computes every configured accumulation of the enabled columns.
func Accumulations(rows []*Row, reg *column.Registry) map[string]map[aggregate.Func]any {
	out := make(map[string]map[aggregate.Func]any)
	for _, c := range reg.List() {
		if len(c.Accumulations) == 0 {
			continue
		}
		m := make(map[aggregate.Func]any, len(c.Accumulations))
		for _, fn := range c.Accumulations {
			m[fn] = Accumulate(rows, c.Key, fn)
		}
		out[c.Key] = m
	}
	return out
}
