// Package report runs report instances: it fetches raw results through a
// backend and projects them into rows through transformations, the column
// registry, post-processing and sorting. Drilldowns open child instances in
// the same session.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/malbeclabs/dashboards/report/pkg/backend"
	"github.com/malbeclabs/dashboards/report/pkg/catalog"
	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/filter"
	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/postprocess"
	"github.com/malbeclabs/dashboards/report/pkg/value"
	"github.com/malbeclabs/dashboards/report/pkg/visualization"
	"github.com/malbeclabs/dashboards/utils/pkg/retry"
)

// Report is one runtime instance of a report definition. Filters and columns
// belong to the instance; the definition is shared.
type Report struct {
	id      int
	session *Session
	log     *slog.Logger
	def     *catalog.Definition

	filters        *filter.Set
	columns        *column.Registry
	visualizations []visualization.Definition
	link           *Link

	// issued and applied order responses when the sequence guard is on.
	issued  atomic.Uint64
	applied uint64

	mu       sync.RWMutex
	raw      *backend.Response
	err      error
	selected int
	post     postprocess.Selection
	streams  map[int]value.Table

	// pipeline serializes Response, which rebuilds the column registry.
	pipeline sync.Mutex
}

// ID returns the session instance id, zero for unregistered instances.
func (r *Report) ID() int { return r.id }

func (r *Report) QueryID() int { return r.def.QueryID }

func (r *Report) Name() string { return r.def.Name }

func (r *Report) Definition() *catalog.Definition { return r.def }

func (r *Report) Filters() *filter.Set { return r.filters }

// Columns returns the column registry. It is rebuilt by Response and must
// not be changed concurrently with it.
func (r *Report) Columns() *column.Registry { return r.columns }

func (r *Report) Visualizations() []visualization.Definition {
	return append([]visualization.Definition(nil), r.visualizations...)
}

// Visualization returns the selected visualization.
func (r *Report) Visualization() visualization.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.visualizations[r.selected]
}

func (r *Report) SelectVisualization(id int) error {
	for i, v := range r.visualizations {
		if v.ID == id {
			r.mu.Lock()
			r.selected = i
			r.mu.Unlock()
			return nil
		}
	}
	return fmt.Errorf("visualization %d of query %d: %w", id, r.def.QueryID, ErrVisualizationNotFound)
}

func (r *Report) PostProcessor() postprocess.Selection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.post
}

// SetPostProcessor selects the single active post-processor.
func (r *Report) SetPostProcessor(sel postprocess.Selection) error {
	if _, err := postprocess.New(sel); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.post = sel
	return nil
}

// Raw returns the last successfully fetched result.
func (r *Report) Raw() *backend.Response {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.raw
}

// Err returns the error of the last fetch, nil after a success.
func (r *Report) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.err
}

// Params builds the backend parameters: extra, then one value per filter
// (repeated for multi-select filters, replaced by the selected
// visualization's override when it declares one), then the configured
// external parameters.
func (r *Report) Params(extra map[string]string) url.Values {
	prefix := r.session.cfg.Settings.PlaceholderPrefix
	params := url.Values{}
	for k, v := range extra {
		params.Set(k, v)
	}

	vis := r.Visualization()
	for _, f := range r.filters.All() {
		key := prefix + f.Placeholder
		if o, ok := vis.Override(f.ID); ok {
			params.Set(key, o.DefaultValue)
			continue
		}
		params.Del(key)
		for _, v := range f.Params() {
			params.Add(key, v)
		}
	}

	for k, v := range r.session.cfg.Settings.ExternalParameters {
		params.Set(prefix+k, v)
	}
	return params
}

func (r *Report) request(ctx context.Context, extra map[string]string, download bool) (*backend.Response, error) {
	span := sentry.StartSpan(ctx, "report.fetch", sentry.WithDescription(fmt.Sprintf("query %d", r.def.QueryID)))
	span.SetTag("query_id", strconv.Itoa(r.def.QueryID))
	span.SetData("report.download", download)
	defer span.Finish()
	ctx = withResolving(span.Context(), r.def.QueryID)

	if err := r.filters.Fetch(ctx, r.session); err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, fmt.Errorf("failed to fetch filter datasets: %w", err)
	}
	resp, err := r.session.cfg.Backend.Execute(ctx, backend.Request{
		QueryID:  r.def.QueryID,
		Query:    r.def.Query,
		Params:   r.Params(extra),
		Download: download,
	})
	if err != nil {
		span.Status = sentry.SpanStatusInternalError
		return nil, err
	}
	if resp != nil {
		span.SetData("report.rows", len(resp.Data))
	}
	span.Status = sentry.SpanStatusOK
	return resp, nil
}

// Fetch runs the query and stores the raw result. On failure the previous
// result is kept and the error is recorded as a *FetchError. When fetches
// overlap the last one to finish wins, unless the sequence guard is enabled,
// in which case a response older than an already applied one is dropped.
func (r *Report) Fetch(ctx context.Context, extra map[string]string) error {
	seq := r.issued.Add(1)
	start := time.Now()

	resp, err := r.request(ctx, extra, false)
	metrics.FetchDuration.WithLabelValues("fetch").Observe(time.Since(start).Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.cfg.Settings.SequenceGuard && seq < r.applied {
		metrics.FetchDiscardedTotal.Inc()
		r.log.Debug("report: dropping stale response", "seq", seq, "applied", r.applied)
		return nil
	}
	r.applied = seq

	if err != nil {
		metrics.FetchTotal.WithLabelValues("fetch", "error").Inc()
		r.log.Warn("report: fetch failed", "error", err)
		r.err = &FetchError{Err: err, Retry: retry.IsRetryable(err)}
		return r.err
	}

	metrics.FetchTotal.WithLabelValues("fetch", "ok").Inc()
	r.raw = resp
	r.err = nil
	r.streams = nil
	r.log.Debug("report: fetched", "rows", len(resp.Data), "runtime_ms", resp.Runtime)
	return nil
}

// Download runs the query in download mode and returns the raw response
// without touching the stored result.
func (r *Report) Download(ctx context.Context, extra map[string]string) (*backend.Response, error) {
	start := time.Now()
	resp, err := r.request(ctx, extra, true)
	metrics.FetchDuration.WithLabelValues("download").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.FetchTotal.WithLabelValues("download", "error").Inc()
		return nil, &FetchError{Err: err, Retry: retry.IsRetryable(err)}
	}
	metrics.FetchTotal.WithLabelValues("download", "ok").Inc()
	return resp, nil
}

// StartAutoRefresh refetches the report every RefreshRate seconds until ctx
// is done. It reports whether a refresh loop was started.
func (r *Report) StartAutoRefresh(ctx context.Context) bool {
	if r.def.RefreshRate <= 0 {
		return false
	}
	interval := time.Duration(r.def.RefreshRate) * time.Second
	go func() {
		r.log.Info("report: starting refresh loop", "interval", interval)

		ticker := r.session.cfg.Clock.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				if err := r.Fetch(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
					r.log.Error("report: refresh failed", "error", err)
				}
			}
		}
	}()
	return true
}

// ShareURL returns base with the query id, the selected visualization and
// the current filter values as query parameters.
func (r *Report) ShareURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("failed to parse base url: %w", err)
	}
	q := u.Query()
	q.Set("query_id", strconv.Itoa(r.def.QueryID))
	if vis := r.Visualization(); vis.ID != 0 {
		q.Set("visualization_id", strconv.Itoa(vis.ID))
	}
	for k, v := range r.filters.Params(r.session.cfg.Settings.PlaceholderPrefix) {
		q[k] = v
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
