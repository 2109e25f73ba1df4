package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"github.com/malbeclabs/dashboards/report/pkg/aggregate"
	"github.com/malbeclabs/dashboards/report/pkg/backend"
	"github.com/malbeclabs/dashboards/report/pkg/catalog"
	"github.com/malbeclabs/dashboards/report/pkg/postprocess"
	"github.com/malbeclabs/dashboards/report/pkg/report"
	"github.com/malbeclabs/dashboards/report/pkg/visualization"
)

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

type ReportSummary struct {
	QueryID        int                    `json:"query_id"`
	Name           string                 `json:"name"`
	RefreshRate    int                    `json:"refresh_rate,omitempty"`
	Visualizations []VisualizationSummary `json:"visualizations"`
}

type VisualizationSummary struct {
	ID   int                `json:"visualization_id"`
	Name string             `json:"name"`
	Type visualization.Kind `json:"type"`
}

type ColumnResponse struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	Type      string `json:"type,omitempty"`
	Color     string `json:"color,omitempty"`
	Drilldown bool   `json:"drilldown,omitempty"`
}

// ReportResponse is the projected result of one report. Rows hold display
// values in column order.
type ReportResponse struct {
	QueryID         int                               `json:"query_id"`
	Name            string                            `json:"name"`
	VisualizationID int                               `json:"visualization_id,omitempty"`
	Type            visualization.Kind                `json:"type"`
	Columns         []ColumnResponse                  `json:"columns"`
	Rows            [][]string                        `json:"rows"`
	Accumulations   map[string]map[aggregate.Func]any `json:"accumulations,omitempty"`
	Runtime         float64                           `json:"runtime"`
	Cached          *backend.Cached                   `json:"cached,omitempty"`
	ShareURL        string                            `json:"share_url,omitempty"`
	Message         string                            `json:"message,omitempty"`
}

type BindingResponse struct {
	Placeholder string `json:"placeholder"`
	Type        string `json:"type"`
	Value       string `json:"value"`
}

type DrilldownResponse struct {
	QueryID  int               `json:"query_id"`
	Name     string            `json:"name"`
	Depth    int               `json:"depth"`
	Bindings []BindingResponse `json:"bindings"`
	ShareURL string            `json:"share_url"`
}

func (s *Server) handleListReports(w http.ResponseWriter, _ *http.Request) {
	defs := s.cfg.Catalog.List()
	out := make([]ReportSummary, 0, len(defs))
	for _, d := range defs {
		sum := ReportSummary{
			QueryID:        d.QueryID,
			Name:           d.Name,
			RefreshRate:    d.RefreshRate,
			Visualizations: make([]VisualizationSummary, 0, len(d.Visualizations)),
		}
		for _, v := range d.Visualizations {
			sum.Visualizations = append(sum.Visualizations, VisualizationSummary{ID: v.ID, Name: v.Name, Type: v.Type})
		}
		out = append(out, sum)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	rep, err := s.open(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer s.cfg.Session.Release(rep.ID())

	if err := rep.Fetch(r.Context(), nil); err != nil {
		s.fail(w, r, err)
		return
	}

	vis := rep.Visualization()
	body := ReportResponse{
		QueryID:         rep.QueryID(),
		Name:            rep.Name(),
		VisualizationID: vis.ID,
		Type:            vis.Type,
		Columns:         []ColumnResponse{},
		Rows:            [][]string{},
	}
	if share, err := rep.ShareURL(s.cfg.PublicURL); err == nil {
		body.ShareURL = share
	}

	res, err := rep.Response(r.Context())
	switch {
	case errors.Is(err, report.ErrNoData), errors.Is(err, report.ErrNoColumns):
		body.Message = err.Error()
		s.writeJSON(w, http.StatusOK, body)
		return
	case err != nil:
		s.fail(w, r, err)
		return
	}

	body.Runtime = res.Runtime
	body.Cached = res.Cached
	body.Accumulations = res.Accumulations
	for _, c := range res.Columns {
		if c.Hidden {
			continue
		}
		body.Columns = append(body.Columns, ColumnResponse{
			Key:       c.Key,
			Name:      c.Name,
			Type:      c.Type,
			Color:     c.Color,
			Drilldown: c.Drilldown != nil,
		})
	}
	for _, row := range res.Rows {
		values := make([]string, 0, len(body.Columns))
		for _, c := range res.Columns {
			if c.Hidden {
				continue
			}
			values = append(values, row.TypedValue(c))
		}
		body.Rows = append(body.Rows, values)
	}
	s.writeJSON(w, http.StatusOK, body)
}

var exportContentTypes = map[report.ExportMode]struct {
	contentType string
	ext         string
}{
	report.ExportJSON:        {"application/json", "json"},
	report.ExportCSV:         {"text/csv; charset=utf-8", "csv"},
	report.ExportFilteredCSV: {"text/csv; charset=utf-8", "csv"},
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	mode := report.ExportMode(r.URL.Query().Get("format"))
	if mode == "" {
		mode = report.ExportCSV
	}
	ct, ok := exportContentTypes[mode]
	if !ok {
		s.fail(w, r, badRequest("unknown export format %q", mode))
		return
	}

	rep, err := s.open(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer s.cfg.Session.Release(rep.ID())

	if mode == report.ExportFilteredCSV {
		if err := rep.Fetch(r.Context(), nil); err != nil {
			s.fail(w, r, err)
			return
		}
	}

	// Buffered so a failure still gets a proper status.
	var buf bytes.Buffer
	if err := rep.Export(r.Context(), mode, &buf); err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", ct.contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="report-%d.%s"`, rep.QueryID(), ct.ext))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		s.log.Debug("server: failed to write export", "error", err)
	}
}

func (s *Server) handleDrilldown(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	columnKey := q.Get("column")
	if columnKey == "" {
		s.fail(w, r, badRequest("column is required"))
		return
	}
	idx, err := strconv.Atoi(q.Get("row"))
	if err != nil || idx < 0 {
		s.fail(w, r, badRequest("row must be a non-negative integer"))
		return
	}

	rep, err := s.open(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer s.cfg.Session.Release(rep.ID())

	if err := rep.Fetch(r.Context(), nil); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := rep.Response(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if idx >= len(res.Rows) {
		s.fail(w, r, badRequest("row %d out of range, report has %d rows", idx, len(res.Rows)))
		return
	}

	child, err := rep.Drilldown(r.Context(), columnKey, res.Rows[idx])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if child == nil {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("column %s has no drilldown", columnKey))
		return
	}

	share, err := child.ShareURL(s.cfg.PublicURL)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	body := DrilldownResponse{
		QueryID:  child.QueryID(),
		Name:     child.Name(),
		Depth:    child.Depth(),
		ShareURL: share,
		Bindings: []BindingResponse{},
	}
	for _, b := range child.DrilldownLink().Bindings {
		body.Bindings = append(body.Bindings, BindingResponse{Placeholder: b.Placeholder, Type: b.Type, Value: b.Resolved})
	}
	s.writeJSON(w, http.StatusOK, body)
}

// open creates a report for the routed query id and applies the request's
// visualization, filter values and post-processor. Filter values use the same
// parameter names as share links.
func (s *Server) open(r *http.Request) (*report.Report, error) {
	queryID, err := strconv.Atoi(chi.URLParam(r, "queryID"))
	if err != nil || queryID <= 0 {
		return nil, badRequest("invalid query id %q", chi.URLParam(r, "queryID"))
	}
	rep, err := s.cfg.Session.Open(queryID)
	if err != nil {
		return nil, err
	}
	if err := s.apply(rep, r.URL.Query()); err != nil {
		s.cfg.Session.Release(rep.ID())
		return nil, err
	}
	return rep, nil
}

func (s *Server) apply(rep *report.Report, q url.Values) error {
	if v := q.Get("visualization_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return badRequest("invalid visualization id %q", v)
		}
		if err := rep.SelectVisualization(id); err != nil {
			return err
		}
	}

	prefix := s.cfg.Session.Settings().PlaceholderPrefix
	for _, f := range rep.Filters().All() {
		values, ok := q[prefix+f.Placeholder]
		if !ok || len(values) == 0 {
			continue
		}
		if f.MultiSelect() {
			f.Select(values...)
		} else {
			f.SetValue(values[0])
		}
	}

	if kind := q.Get("post_processor"); kind != "" {
		sel := postprocess.Selection{Kind: postprocess.Kind(kind), Value: q.Get("post_processor_value")}
		if err := rep.SetPostProcessor(sel); err != nil {
			return badRequest("%v", err)
		}
	}
	return nil
}

func statusFor(err error) int {
	var (
		reqErr   *requestError
		cfgErr   *report.ConfigError
		fetchErr *report.FetchError
	)
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, report.ErrVisualizationNotFound):
		return http.StatusNotFound
	case errors.Is(err, report.ErrNoData), errors.Is(err, report.ErrNoColumns):
		return http.StatusNoContent
	case errors.Is(err, report.ErrDrilldownCycle), errors.Is(err, report.ErrDrilldownDepth):
		return http.StatusConflict
	case errors.As(err, &cfgErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &fetchErr):
		if fetchErr.Retry {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	if status >= http.StatusInternalServerError {
		s.log.Warn("server: request failed", "path", r.URL.Path, "status", status, "error", err)
		if hub := sentry.GetHubFromContext(r.Context()); hub != nil {
			hub.CaptureException(err)
		}
	}
	s.writeError(w, status, err.Error())
}
