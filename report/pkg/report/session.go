package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/dashboards/report/pkg/backend"
	"github.com/malbeclabs/dashboards/report/pkg/catalog"
	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/filter"
	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
	"github.com/malbeclabs/dashboards/report/pkg/value"
	"github.com/malbeclabs/dashboards/report/pkg/visualization"
)

type SessionConfig struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Settings *settings.Settings
	Backend  backend.Backend
	Catalog  catalog.Catalog
}

func (cfg *SessionConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.Catalog == nil {
		return errors.New("catalog is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Settings == nil {
		cfg.Settings = settings.Default()
	}
	return cfg.Settings.Validate()
}

// Session is the arena of report instances opened by one user. Every
// instance gets an integer id that stays valid until it is released.
type Session struct {
	id  uuid.UUID
	log *slog.Logger
	cfg SessionConfig

	datasets *filter.DatasetCache

	mu      sync.Mutex
	nextID  int
	reports map[int]*Report
}

func NewSession(cfg SessionConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		id:      uuid.New(),
		cfg:     cfg,
		reports: make(map[int]*Report),
	}
	s.log = cfg.Logger.With("session", s.id.String())

	datasets, err := filter.NewDatasetCache(filter.DatasetCacheConfig{
		Logger: s.log,
		Clock:  cfg.Clock,
		Loader: s,
		TTL:    cfg.Settings.DatasetTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset cache: %w", err)
	}
	s.datasets = datasets
	return s, nil
}

func (s *Session) ID() uuid.UUID { return s.id }

// Settings returns the engine settings the session runs with.
func (s *Session) Settings() *settings.Settings { return s.cfg.Settings }

// Open creates a registered report instance for a query.
func (s *Session) Open(queryID int) (*Report, error) {
	def, err := s.cfg.Catalog.Get(queryID)
	if err != nil {
		return nil, err
	}
	r, err := s.build(def)
	if err != nil {
		return nil, err
	}
	s.register(r)
	return r, nil
}

// OpenVisualization opens the report owning a visualization with that
// visualization selected.
func (s *Session) OpenVisualization(visualizationID int) (*Report, error) {
	def, err := s.cfg.Catalog.ByVisualization(visualizationID)
	if err != nil {
		return nil, err
	}
	r, err := s.build(def)
	if err != nil {
		return nil, err
	}
	if err := r.SelectVisualization(visualizationID); err != nil {
		return nil, err
	}
	s.register(r)
	return r, nil
}

// Get returns a registered instance.
func (s *Session) Get(id int) (*Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	return r, ok
}

// Reports returns the registered instances ordered by id.
func (s *Session) Reports() []*Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := slices.Sorted(maps.Keys(s.reports))
	out := make([]*Report, len(ids))
	for i, id := range ids {
		out[i] = s.reports[id]
	}
	return out
}

// Release drops an instance and every drilldown descendant of it.
func (s *Session) Release(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	root, ok := s.reports[id]
	if !ok {
		return
	}
	for rid, r := range s.reports {
		if r == root || r.descendsFrom(root) {
			delete(s.reports, rid)
			metrics.SessionReports.Dec()
		}
	}
}

// Close releases every instance.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	metrics.SessionReports.Sub(float64(len(s.reports)))
	clear(s.reports)
}

func (s *Session) build(def *catalog.Definition) (*Report, error) {
	filters, err := filter.NewSet(filter.SetConfig{Settings: s.cfg.Settings, Clock: s.cfg.Clock}, def.Filters)
	if err != nil {
		return nil, configError(fmt.Errorf("query %d: %w", def.QueryID, err))
	}
	return &Report{
		session:        s,
		log:            s.log.With("query_id", def.QueryID),
		def:            def,
		filters:        filters,
		columns:        column.NewRegistry(s.cfg.Settings, def.Format),
		visualizations: visualization.WithDefault(def.Visualizations),
	}, nil
}

func (s *Session) register(r *Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	r.id = s.nextID
	s.reports[r.id] = r
	metrics.SessionReports.Inc()
	s.log.Debug("report: instance opened", "id", r.id, "query_id", r.def.QueryID)
}

// DatasetValues implements filter.DatasetSource on top of the session's
// dataset cache. Datasets already being resolved up the call chain have no
// values.
func (s *Session) DatasetValues(ctx context.Context, datasetID int) ([]filter.Option, error) {
	if resolving(ctx, datasetID) {
		return nil, nil
	}
	return s.datasets.DatasetValues(ctx, datasetID)
}

// LoadDataset implements filter.DatasetLoader. The dataset report runs in
// download mode and each row becomes an option from its "value" and "name"
// fields, falling back to the first two columns. A dataset whose own filters
// draw from the same dataset, or one already being resolved up the call
// chain, has no values.
func (s *Session) LoadDataset(ctx context.Context, datasetID int) ([]filter.Option, error) {
	if resolving(ctx, datasetID) {
		return nil, nil
	}
	def, err := s.cfg.Catalog.Get(datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve dataset %d: %w", datasetID, err)
	}
	for _, f := range def.Filters {
		if f.Dataset == datasetID {
			return nil, nil
		}
	}

	r, err := s.build(def)
	if err != nil {
		return nil, err
	}
	resp, err := r.Download(ctx, nil)
	if err != nil {
		return nil, err
	}

	keys := value.Table{Columns: resp.Columns, Rows: resp.Data}.Keys()
	opts := make([]filter.Option, 0, len(resp.Data))
	for _, row := range resp.Data {
		opts = append(opts, datasetOption(keys, row))
	}
	return opts, nil
}

func datasetOption(keys []string, row map[string]any) filter.Option {
	var o filter.Option
	if v, ok := row["value"]; ok {
		o.Value = value.String(v)
	} else if len(keys) > 0 {
		o.Value = value.String(row[keys[0]])
	}
	if v, ok := row["name"]; ok {
		o.Name = value.String(v)
	} else if len(keys) > 1 {
		o.Name = value.String(row[keys[1]])
	} else {
		o.Name = o.Value
	}
	return o
}

type chainKey struct{}

// withResolving marks queryID as being resolved by the calling chain.
func withResolving(ctx context.Context, queryID int) context.Context {
	chain, _ := ctx.Value(chainKey{}).([]int)
	if slices.Contains(chain, queryID) {
		return ctx
	}
	return context.WithValue(ctx, chainKey{}, append(slices.Clone(chain), queryID))
}

func resolving(ctx context.Context, queryID int) bool {
	chain, _ := ctx.Value(chainKey{}).([]int)
	return slices.Contains(chain, queryID)
}
