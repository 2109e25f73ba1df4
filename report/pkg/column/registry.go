// Package column tracks the schema inferred from a result set along with the
// per-column display, search, accumulation and drilldown state.
package column

import (
	"fmt"
	"slices"
	"strings"

	"github.com/malbeclabs/dashboards/report/pkg/predicate"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// Sort directions as stored in formats.
const (
	SortDesc = 0
	SortAsc  = 1
)

// Registry is the ordered column set of a report.
type Registry struct {
	settings  *settings.Settings
	overrides map[string]Format

	columns []*Column
	index   map[string]int
	shape   string

	sortKey  string
	sortDesc bool
}

// NewRegistry creates an empty registry with the given overrides.
func NewRegistry(s *settings.Settings, formats []Format) *Registry {
	r := &Registry{
		settings:  s,
		overrides: make(map[string]Format, len(formats)),
		index:     make(map[string]int),
	}
	for _, f := range formats {
		r.overrides[f.Key] = f
		if f.Sort != nil && r.sortKey == "" {
			r.sortKey = f.Key
			r.sortDesc = *f.Sort == SortDesc
		}
	}
	return r
}

// Update rebuilds the registry when the table's key set differs from the one
// it was last built from. It reports whether a rebuild happened.
func (r *Registry) Update(t value.Table) bool {
	keys := t.Keys()
	shape := strings.Join(keys, "\x00")
	if shape == r.shape && len(r.columns) > 0 {
		return false
	}

	previous := r.index
	old := r.columns
	r.columns = make([]*Column, 0, len(keys))
	r.index = make(map[string]int, len(keys))
	for i, key := range keys {
		var c *Column
		if j, ok := previous[key]; ok {
			c = old[j]
		} else {
			c = &Column{Key: key, Name: DisplayName(key), Color: r.settings.Color(i)}
			if t.Types[key] != "" {
				c.Type = t.Types[key]
			}
			if f, ok := r.overrides[key]; ok {
				c.apply(f)
			}
		}
		r.index[key] = len(r.columns)
		r.columns = append(r.columns, c)
	}
	r.shape = shape
	return true
}

// Validate checks that configured search predicates exist.
func (r *Registry) Validate() error {
	for _, c := range r.columns {
		for _, s := range c.Search {
			if _, ok := predicate.Lookup(s.Predicate); !ok {
				return fmt.Errorf("unknown search predicate %q on column %s", s.Predicate, c.Key)
			}
		}
	}
	return nil
}

// Get returns the column for key.
func (r *Registry) Get(key string) (*Column, bool) {
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.columns[i], true
}

// All returns every column, disabled ones included, in registry order.
func (r *Registry) All() []*Column {
	return slices.Clone(r.columns)
}

// List returns the enabled columns in registry order.
func (r *Registry) List() []*Column {
	out := make([]*Column, 0, len(r.columns))
	for _, c := range r.columns {
		if !c.Disabled {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of registered columns.
func (r *Registry) Len() int { return len(r.columns) }

// Move places the column key before the column before. An empty before moves
// it to the end.
func (r *Registry) Move(key, before string) error {
	from, ok := r.index[key]
	if !ok {
		return fmt.Errorf("column %s not found", key)
	}
	if before != "" {
		if _, ok := r.index[before]; !ok {
			return fmt.Errorf("column %s not found", before)
		}
	}
	c := r.columns[from]
	r.columns = slices.Delete(r.columns, from, from+1)
	to := len(r.columns)
	if before != "" {
		to = slices.IndexFunc(r.columns, func(c *Column) bool { return c.Key == before })
	}
	r.columns = slices.Insert(r.columns, to, c)
	for i, c := range r.columns {
		r.index[c.Key] = i
	}
	return nil
}

// SetSort marks key as the active sort column. An empty key clears sorting.
func (r *Registry) SetSort(key string, desc bool) error {
	if key != "" {
		if _, ok := r.index[key]; !ok && len(r.columns) > 0 {
			return fmt.Errorf("column %s not found", key)
		}
	}
	r.sortKey = key
	r.sortDesc = desc
	return nil
}

// SortBy returns the active sort column and direction.
func (r *Registry) SortBy() (key string, desc bool, ok bool) {
	if r.sortKey == "" {
		return "", false, false
	}
	if _, found := r.index[r.sortKey]; !found {
		return "", false, false
	}
	return r.sortKey, r.sortDesc, true
}

// Timing returns the key of the column post-processors bucket on: a column
// literally keyed "timing", overridden by the last column typed "date".
func (r *Registry) Timing() (string, bool) {
	key := ""
	if _, ok := r.index["timing"]; ok {
		key = "timing"
	}
	for _, c := range r.columns {
		if c.Type == "date" {
			key = c.Key
		}
	}
	return key, key != ""
}
