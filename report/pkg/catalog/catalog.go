// Package catalog holds report definitions keyed by query id and
// visualization id.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/malbeclabs/dashboards/report/pkg/column"
	"github.com/malbeclabs/dashboards/report/pkg/filter"
	"github.com/malbeclabs/dashboards/report/pkg/visualization"
)

var ErrNotFound = errors.New("definition not found")

// Definition describes one report: its query, filters, column formats and
// visualizations. Definitions handed out by a Catalog are shared and must be
// treated as read-only.
type Definition struct {
	QueryID        int                        `yaml:"query_id" json:"query_id"`
	Name           string                     `yaml:"name" json:"name"`
	Query          string                     `yaml:"query" json:"query"`
	Filters        []filter.Spec              `yaml:"filters" json:"filters"`
	Format         []column.Format            `yaml:"format" json:"format"`
	Visualizations []visualization.Definition `yaml:"visualizations" json:"visualizations"`
	// RefreshRate is the auto refresh interval in seconds. Zero disables it.
	RefreshRate int `yaml:"refresh_rate" json:"refresh_rate"`
}

func (d *Definition) Validate() error {
	if d.QueryID <= 0 {
		return fmt.Errorf("query id must be positive, got %d", d.QueryID)
	}
	if d.RefreshRate < 0 {
		return fmt.Errorf("query %d: refresh rate must not be negative", d.QueryID)
	}
	seen := make(map[int]bool, len(d.Visualizations))
	for _, v := range d.Visualizations {
		if v.ID <= 0 {
			return fmt.Errorf("query %d: visualization id must be positive, got %d", d.QueryID, v.ID)
		}
		if seen[v.ID] {
			return fmt.Errorf("query %d: duplicate visualization id %d", d.QueryID, v.ID)
		}
		seen[v.ID] = true
	}
	return nil
}

// Visualization returns the definition's visualization with the given id.
func (d *Definition) Visualization(id int) (visualization.Definition, bool) {
	for _, v := range d.Visualizations {
		if v.ID == id {
			return v, true
		}
	}
	return visualization.Definition{}, false
}

type Catalog interface {
	Get(queryID int) (*Definition, error)
	ByVisualization(visualizationID int) (*Definition, error)
	List() []*Definition
}

// Loader reads a full set of definitions from a store.
type Loader interface {
	Load(ctx context.Context) ([]*Definition, error)
}

// Memory is an in-memory Catalog safe for concurrent use.
type Memory struct {
	mu      sync.RWMutex
	defs    map[int]*Definition
	byVisID map[int]int
}

func NewMemory(defs ...*Definition) (*Memory, error) {
	m := &Memory{
		defs:    make(map[int]*Definition),
		byVisID: make(map[int]int),
	}
	for _, def := range defs {
		if err := m.Put(def); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Load builds a Memory catalog from a loader.
func Load(ctx context.Context, loader Loader) (*Memory, error) {
	defs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load definitions: %w", err)
	}
	return NewMemory(defs...)
}

// Put adds or replaces a definition.
func (m *Memory) Put(def *Definition) error {
	if def == nil {
		return errors.New("definition is required")
	}
	if err := def.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range def.Visualizations {
		if owner, ok := m.byVisID[v.ID]; ok && owner != def.QueryID {
			return fmt.Errorf("visualization %d already belongs to query %d", v.ID, owner)
		}
	}
	if old, ok := m.defs[def.QueryID]; ok {
		for _, v := range old.Visualizations {
			delete(m.byVisID, v.ID)
		}
	}
	m.defs[def.QueryID] = def
	for _, v := range def.Visualizations {
		m.byVisID[v.ID] = def.QueryID
	}
	return nil
}

func (m *Memory) Get(queryID int) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	def, ok := m.defs[queryID]
	if !ok {
		return nil, fmt.Errorf("query %d: %w", queryID, ErrNotFound)
	}
	return def, nil
}

func (m *Memory) ByVisualization(visualizationID int) (*Definition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	queryID, ok := m.byVisID[visualizationID]
	if !ok {
		return nil, fmt.Errorf("visualization %d: %w", visualizationID, ErrNotFound)
	}
	return m.defs[queryID], nil
}

// List returns all definitions ordered by query id.
func (m *Memory) List() []*Definition {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Definition, 0, len(m.defs))
	for _, def := range m.defs {
		out = append(out, def)
	}
	slices.SortFunc(out, func(a, b *Definition) int { return a.QueryID - b.QueryID })
	return out
}
