// Package row materializes raw result objects into ordered rows.
package row

import (
	"maps"
	"slices"
)

// Row is an ordered key/value list with a key index.
type Row struct {
	keys   []string
	values []any
	index  map[string]int

	// Skip is set when a search predicate excludes the row.
	Skip        bool
	annotations map[string]struct{}
}

// New returns an empty row.
func New() *Row {
	return &Row{index: make(map[string]int)}
}

// FromMap builds a row from m using the given key order. Keys missing from m
// are stored as nil.
func FromMap(keys []string, m map[string]any) *Row {
	r := New()
	for _, k := range keys {
		r.Set(k, m[k])
	}
	return r
}

// Set stores v under key, appending key if it is new.
func (r *Row) Set(key string, v any) {
	if i, ok := r.index[key]; ok {
		r.values[i] = v
		return
	}
	r.index[key] = len(r.keys)
	r.keys = append(r.keys, key)
	r.values = append(r.values, v)
}

// Get returns the value stored under key.
func (r *Row) Get(key string) (any, bool) {
	i, ok := r.index[key]
	if !ok {
		return nil, false
	}
	return r.values[i], true
}

// Value returns the value under key or nil.
func (r *Row) Value(key string) any {
	v, _ := r.Get(key)
	return v
}

// Keys returns the row's keys in order.
func (r *Row) Keys() []string { return slices.Clone(r.keys) }

// Len returns the number of cells.
func (r *Row) Len() int { return len(r.keys) }

// Map returns the row as an unordered map.
func (r *Row) Map() map[string]any {
	m := make(map[string]any, len(r.keys))
	for i, k := range r.keys {
		m[k] = r.values[i]
	}
	return m
}

// Reorder rearranges cells to follow order. Keys not in order keep their
// relative position after the ordered ones.
func (r *Row) Reorder(order []string) {
	out := New()
	for _, k := range order {
		if v, ok := r.Get(k); ok {
			out.Set(k, v)
		}
	}
	for i, k := range r.keys {
		if _, ok := out.index[k]; !ok {
			out.Set(k, r.values[i])
		}
	}
	r.keys, r.values, r.index = out.keys, out.values, out.index
}

// Clone copies the row including its annotations.
func (r *Row) Clone() *Row {
	return &Row{
		keys:        slices.Clone(r.keys),
		values:      slices.Clone(r.values),
		index:       maps.Clone(r.index),
		Skip:        r.Skip,
		annotations: maps.Clone(r.annotations),
	}
}

// Annotate attaches an annotation to the row.
func (r *Row) Annotate(a ...string) {
	if r.annotations == nil {
		r.annotations = make(map[string]struct{}, len(a))
	}
	for _, s := range a {
		r.annotations[s] = struct{}{}
	}
}

// Annotations returns the row's annotations sorted.
func (r *Row) Annotations() []string {
	return slices.Sorted(maps.Keys(r.annotations))
}

// Merge copies other's annotations into r.
func (r *Row) Merge(other *Row) {
	for a := range other.annotations {
		r.Annotate(a)
	}
}
