package value

import (
	"maps"
	"slices"
)

// Table is an ordered set of columns over untyped rows. Column order is kept
// explicitly since rows are maps.
type Table struct {
	Columns []string
	// Types holds optional backend type hints keyed by column, e.g. "date".
	Types map[string]string
	Rows  []map[string]any
}

// Clone deep-copies the table so pipeline stages never touch fetched data.
func (t Table) Clone() Table {
	out := Table{
		Columns: append([]string(nil), t.Columns...),
		Types:   maps.Clone(t.Types),
		Rows:    make([]map[string]any, len(t.Rows)),
	}
	for i, row := range t.Rows {
		out.Rows[i] = cloneRow(row)
	}
	return out
}

func cloneRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if arr, ok := v.([]any); ok {
			v = append([]any(nil), arr...)
		}
		out[k] = v
	}
	return out
}

// Keys returns the column order for rows, falling back to the first row's
// sorted keys when the table carries no explicit order.
func (t Table) Keys() []string {
	if len(t.Columns) > 0 || len(t.Rows) == 0 {
		return t.Columns
	}
	keys := make([]string, 0, len(t.Rows[0]))
	for k := range t.Rows[0] {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
