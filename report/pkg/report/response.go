package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/malbeclabs/dashboards/report/pkg/aggregate"
	"github.com/malbeclabs/dashboards/report/pkg/backend"
	"github.com/malbeclabs/dashboards/report/pkg/catalog"
	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/postprocess"
	"github.com/malbeclabs/dashboards/report/pkg/row"
	"github.com/malbeclabs/dashboards/report/pkg/transform"
	"github.com/malbeclabs/dashboards/report/pkg/value"
	"github.com/malbeclabs/dashboards/report/pkg/visualization"
)

// Result is the projection of a report's raw result.
type Result struct {
	Rows          []*row.Row
	Columns       []*column.Column
	Accumulations map[string]map[aggregate.Func]any
	Frame         *visualization.Frame
	Runtime       float64
	Cached        *backend.Cached
}

// Table returns the visible rows keyed by the enabled columns.
func (res *Result) Table() value.Table {
	t := value.Table{
		Types: make(map[string]string),
		Rows:  make([]map[string]any, 0, len(res.Rows)),
	}
	for _, c := range res.Columns {
		t.Columns = append(t.Columns, c.Key)
		if c.Type != "" {
			t.Types[c.Key] = c.Type
		}
	}
	for _, r := range res.Rows {
		t.Rows = append(t.Rows, r.Map())
	}
	return t
}

func observeStage(stage string, start time.Time) {
	metrics.PipelineStageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// Response projects the stored raw result: transformations of the selected
// visualization, column registry refresh, row materialization, the active
// post-processor, sort and render. It never refetches the report itself.
func (r *Report) Response(ctx context.Context) (*Result, error) {
	r.mu.RLock()
	raw, fetchErr, post := r.raw, r.err, r.post
	r.mu.RUnlock()

	if raw == nil {
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, ErrNoData
	}
	if len(raw.Data) == 0 {
		return nil, ErrNoData
	}

	r.pipeline.Lock()
	defer r.pipeline.Unlock()

	ctx = withResolving(ctx, r.def.QueryID)
	vis := r.Visualization()

	start := time.Now()
	pipeline, err := transform.NewPipeline(vis.Options.Transformations, r)
	if err != nil {
		return nil, configError(err)
	}
	table, err := pipeline.Run(ctx, value.Table{Columns: raw.Columns, Types: raw.Types, Rows: raw.Data})
	if err != nil {
		if isStreamConfigError(err) {
			return nil, configError(err)
		}
		return nil, err
	}
	observeStage("transform", start)
	if len(table.Rows) == 0 {
		return nil, ErrNoData
	}

	if r.columns.Update(table) {
		r.log.Debug("report: column registry rebuilt", "columns", r.columns.Len())
	}
	if err := r.columns.Validate(); err != nil {
		return nil, configError(err)
	}
	if len(r.columns.List()) == 0 {
		return nil, ErrNoColumns
	}

	start = time.Now()
	rows := row.NewMaterializer(r.log, r.columns).BuildAll(table.Rows)
	observeStage("materialize", start)
	if len(rows) == 0 {
		return nil, ErrNoColumns
	}

	start = time.Now()
	timing, _ := r.columns.Timing()
	rows, err = postprocess.Apply(post, rows, timing)
	if err != nil {
		return nil, configError(err)
	}
	observeStage("postprocess", start)

	if key, desc, ok := r.columns.SortBy(); ok {
		start = time.Now()
		row.Sort(rows, key, desc)
		observeStage("sort", start)
	}

	start = time.Now()
	renderer, err := visualization.Load(vis, r.columns)
	if err != nil {
		return nil, configError(err)
	}
	frame, err := renderer.Render(rows)
	if err != nil {
		return nil, configError(err)
	}
	observeStage("render", start)

	return &Result{
		Rows:          rows,
		Columns:       r.columns.List(),
		Accumulations: row.Accumulations(rows, r.columns),
		Frame:         frame,
		Runtime:       raw.Runtime,
		Cached:        raw.Cached,
	}, nil
}

func isStreamConfigError(err error) bool {
	return errors.Is(err, transform.ErrStreamNotFound) ||
		errors.Is(err, transform.ErrStreamNotSelected) ||
		errors.Is(err, transform.ErrStreamSelf)
}

// Stream implements transform.StreamSource. The report owning the
// visualization is opened as a fresh instance, fetched with its own filters
// and projected with that visualization selected. Results are kept until
// the next Fetch of r.
func (r *Report) Stream(ctx context.Context, visualizationID int) (value.Table, error) {
	r.mu.RLock()
	cached, ok := r.streams[visualizationID]
	r.mu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	def, err := r.session.cfg.Catalog.ByVisualization(visualizationID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return value.Table{}, fmt.Errorf("%w: %d", transform.ErrStreamNotFound, visualizationID)
		}
		return value.Table{}, err
	}
	if def.QueryID == r.def.QueryID || resolving(ctx, def.QueryID) {
		return value.Table{}, transform.ErrStreamSelf
	}
	for _, f := range def.Filters {
		if f.Dataset == r.def.QueryID {
			return value.Table{}, transform.ErrStreamSelf
		}
	}

	stream, err := r.session.build(def)
	if err != nil {
		return value.Table{}, err
	}
	if err := stream.SelectVisualization(visualizationID); err != nil {
		return value.Table{}, err
	}
	if err := stream.Fetch(ctx, nil); err != nil {
		return value.Table{}, fmt.Errorf("failed to fetch stream %d: %w", visualizationID, err)
	}
	res, err := stream.Response(ctx)
	if err != nil {
		return value.Table{}, fmt.Errorf("failed to project stream %d: %w", visualizationID, err)
	}

	table := res.Table()
	r.mu.Lock()
	if r.streams == nil {
		r.streams = make(map[int]value.Table)
	}
	r.streams[visualizationID] = table
	r.mu.Unlock()
	return table.Clone(), nil
}
