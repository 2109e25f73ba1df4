package filter

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"github.com/malbeclabs/dashboards/report/pkg/metrics"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
)

// DatasetLoader fetches the candidate values of a dataset.
type DatasetLoader interface {
	LoadDataset(ctx context.Context, datasetID int) ([]Option, error)
}

type DatasetCacheConfig struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Loader DatasetLoader
	TTL    time.Duration
	// LoadTimeout bounds a shared load, which outlives the caller that
	// started it.
	LoadTimeout time.Duration
}

func (cfg *DatasetCacheConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Loader == nil {
		return errors.New("loader is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = settings.DefaultDatasetTTL
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = defaultLoadTimeout
	}
	return nil
}

const defaultLoadTimeout = time.Minute

type datasetEntry struct {
	options   []Option
	fetchedAt time.Time
}

// DatasetCache serves dataset values, reloading them once their TTL has
// passed. Concurrent misses for one dataset share a single load, and a failed
// reload keeps serving the previous values.
type DatasetCache struct {
	log *slog.Logger
	cfg DatasetCacheConfig

	mu      sync.RWMutex
	entries map[int]datasetEntry
	group   singleflight.Group
}

func NewDatasetCache(cfg DatasetCacheConfig) (*DatasetCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &DatasetCache{
		log:     cfg.Logger,
		cfg:     cfg,
		entries: make(map[int]datasetEntry),
	}, nil
}

// DatasetValues implements DatasetSource.
func (c *DatasetCache) DatasetValues(ctx context.Context, datasetID int) ([]Option, error) {
	c.mu.RLock()
	entry, ok := c.entries[datasetID]
	c.mu.RUnlock()

	if ok && c.cfg.Clock.Since(entry.fetchedAt) < c.cfg.TTL {
		metrics.DatasetCacheTotal.WithLabelValues("hit").Inc()
		return slices.Clone(entry.options), nil
	}
	metrics.DatasetCacheTotal.WithLabelValues("miss").Inc()

	// The load is shared by every waiting caller, so it runs without the
	// starting caller's cancellation and each caller waits on its own ctx.
	ch := c.group.DoChan(strconv.Itoa(datasetID), func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.LoadTimeout)
		defer cancel()
		opts, err := c.cfg.Loader.LoadDataset(loadCtx, datasetID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[datasetID] = datasetEntry{options: opts, fetchedAt: c.cfg.Clock.Now()}
		c.mu.Unlock()
		c.log.Debug("filter: dataset loaded", "dataset", datasetID, "options", len(opts))
		return opts, nil
	})

	var (
		v   any
		err error
	)
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case res := <-ch:
		v, err = res.Val, res.Err
	}
	if err != nil {
		if ok {
			metrics.DatasetCacheTotal.WithLabelValues("stale").Inc()
			c.log.Warn("filter: dataset reload failed, serving stale values", "dataset", datasetID, "error", err)
			return slices.Clone(entry.options), nil
		}
		return nil, err
	}
	return slices.Clone(v.([]Option)), nil
}

// Invalidate drops the cached values of a dataset.
func (c *DatasetCache) Invalidate(datasetID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, datasetID)
}
