package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// ExportMode selects what Export writes.
type ExportMode string

const (
	// ExportJSON writes the raw download response rows.
	ExportJSON ExportMode = "json"
	// ExportCSV writes the raw download response as CSV.
	ExportCSV ExportMode = "csv"
	// ExportFilteredCSV writes the projected rows, as shown, as CSV.
	ExportFilteredCSV ExportMode = "filtered-csv"
)

// Export writes the report to w. The raw modes download the query with the
// current filters; filtered-csv projects the stored result.
func (r *Report) Export(ctx context.Context, mode ExportMode, w io.Writer) error {
	switch mode {
	case ExportJSON:
		resp, err := r.Download(ctx, nil)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp.Data); err != nil {
			return fmt.Errorf("failed to write json: %w", err)
		}
		return nil

	case ExportCSV:
		resp, err := r.Download(ctx, nil)
		if err != nil {
			return err
		}
		t := value.Table{Columns: resp.Columns, Rows: resp.Data}
		return writeCSV(w, t.Keys(), t.Keys(), t.Rows)

	case ExportFilteredCSV:
		res, err := r.Response(ctx)
		if err != nil {
			return err
		}
		var keys, header []string
		for _, c := range res.Columns {
			if c.Hidden {
				continue
			}
			keys = append(keys, c.Key)
			header = append(header, c.Name)
		}
		return writeCSV(w, header, keys, res.Table().Rows)
	}
	return fmt.Errorf("unknown export mode %q", mode)
}

func writeCSV(w io.Writer, header, keys []string, rows []map[string]any) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	record := make([]string, len(keys))
	for _, row := range rows {
		for i, k := range keys {
			record[i] = value.String(row[k])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}
