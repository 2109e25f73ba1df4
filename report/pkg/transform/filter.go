package transform

import (
	"context"

	"github.com/malbeclabs/dashboards/report/pkg/predicate"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

type filterRule struct {
	Rule
	predicate predicate.Predicate
}

type filter struct {
	rules []filterRule
}

func newFilter(o Options) (*filter, error) {
	f := &filter{}
	for _, r := range o.Filters {
		p, err := lookupPredicate(r.Function)
		if err != nil {
			return nil, err
		}
		f.rules = append(f.rules, filterRule{Rule: r, predicate: p})
	}
	return f, nil
}

func (f *filter) Type() Type { return Filters }

// Apply keeps rows satisfying every rule. Columns are untouched.
func (f *filter) Apply(_ context.Context, in value.Table) (value.Table, error) {
	out := value.Table{Columns: in.Columns, Types: in.Types}
	for _, row := range in.Rows {
		keep := true
		for _, r := range f.rules {
			if !r.predicate.Match(r.Value, row[r.Column]) {
				keep = false
				break
			}
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}
