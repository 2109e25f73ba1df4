package report

import (
	"context"
	"errors"
	"fmt"

	"github.com/malbeclabs/dashboards/report/pkg/catalog"
	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/row"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// Binding is a drilldown parameter binding with the value it resolved to.
type Binding struct {
	column.Binding
	Resolved string
}

// Link records how a drilldown instance was opened.
type Link struct {
	QueryID  int
	Column   string
	Bindings []Binding
	Parent   *Report
}

// DrilldownLink returns the link of a drilldown instance, nil for roots.
func (r *Report) DrilldownLink() *Link { return r.link }

// Parent returns the report this instance was drilled down from.
func (r *Report) Parent() *Report {
	if r.link == nil {
		return nil
	}
	return r.link.Parent
}

// Depth returns the number of drilldowns between r and its root.
func (r *Report) Depth() int {
	n := 0
	for p := r.Parent(); p != nil; p = p.Parent() {
		n++
	}
	return n
}

func (r *Report) descendsFrom(ancestor *Report) bool {
	for p := r.Parent(); p != nil; p = p.Parent() {
		if p == ancestor {
			return true
		}
	}
	return false
}

// Drilldown opens the destination configured on a column for a clicked row.
// It returns nil without error when the column has no destination or the
// destination is not in the catalog. The destination is always a fresh
// instance; it is refused when its query already appears in the chain from
// r to the root, or when the chain would exceed the configured depth.
func (r *Report) Drilldown(ctx context.Context, columnKey string, clicked *row.Row) (*Report, error) {
	c, ok := r.columns.Get(columnKey)
	if !ok || c.Drilldown == nil || c.Drilldown.QueryID == 0 {
		metrics.DrilldownTotal.WithLabelValues("noop").Inc()
		return nil, nil
	}
	dest := c.Drilldown.QueryID

	def, err := r.session.cfg.Catalog.Get(dest)
	if errors.Is(err, catalog.ErrNotFound) {
		metrics.DrilldownTotal.WithLabelValues("noop").Inc()
		return nil, nil
	}
	if err != nil {
		metrics.DrilldownTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	for p := r; p != nil; p = p.Parent() {
		if p.def.QueryID == dest {
			metrics.DrilldownTotal.WithLabelValues("cycle").Inc()
			return nil, fmt.Errorf("query %d: %w", dest, ErrDrilldownCycle)
		}
	}
	if limit := r.session.cfg.Settings.MaxDrilldownDepth; r.Depth()+1 > limit {
		metrics.DrilldownTotal.WithLabelValues("depth").Inc()
		return nil, fmt.Errorf("depth %d: %w", limit, ErrDrilldownDepth)
	}

	child, err := r.session.build(def)
	if err != nil {
		metrics.DrilldownTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if err := child.filters.Fetch(withResolving(ctx, dest), r.session); err != nil {
		metrics.DrilldownTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to prefetch drilldown datasets: %w", err)
	}

	link := &Link{QueryID: dest, Column: columnKey, Parent: r}
	for _, b := range c.Drilldown.Parameters {
		v, err := r.resolveBinding(b, clicked)
		if err != nil {
			metrics.DrilldownTotal.WithLabelValues("error").Inc()
			return nil, configError(err)
		}
		target, ok := child.filters.Get(b.Placeholder)
		if !ok {
			metrics.DrilldownTotal.WithLabelValues("error").Inc()
			return nil, configError(fmt.Errorf("drilldown target query %d has no filter %s", dest, b.Placeholder))
		}
		if target.MultiSelect() {
			target.Select(v)
		} else {
			target.SetValue(v)
		}
		link.Bindings = append(link.Bindings, Binding{Binding: b, Resolved: v})
	}
	child.link = link

	r.session.register(child)
	metrics.DrilldownTotal.WithLabelValues("ok").Inc()
	r.log.Debug("report: drilldown opened", "column", columnKey, "destination", dest, "child", child.id)
	return child, nil
}

func (r *Report) resolveBinding(b column.Binding, clicked *row.Row) (string, error) {
	switch b.Type {
	case column.BindColumn:
		if clicked == nil {
			return "", fmt.Errorf("drilldown binding %s needs a clicked row", b.Placeholder)
		}
		v, ok := clicked.Get(b.Value)
		if !ok {
			return "", fmt.Errorf("drilldown binding %s: column %s not in row", b.Placeholder, b.Value)
		}
		return value.String(v), nil
	case column.BindFilter:
		f, ok := r.filters.Get(b.Value)
		if !ok {
			return "", fmt.Errorf("drilldown binding %s: filter %s not found", b.Placeholder, b.Value)
		}
		return f.Value(), nil
	case column.BindStatic:
		return b.Value, nil
	}
	return "", fmt.Errorf("drilldown binding %s has unknown type %q", b.Placeholder, b.Type)
}
