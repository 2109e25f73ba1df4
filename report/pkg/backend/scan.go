package backend

import (
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// baseType strips Nullable() and LowCardinality() wrappers.
func baseType(dbType string) (string, bool) {
	nullable := false
	for {
		switch {
		case strings.HasPrefix(dbType, "Nullable("):
			nullable = true
			dbType = strings.TrimSuffix(strings.TrimPrefix(dbType, "Nullable("), ")")
		case strings.HasPrefix(dbType, "LowCardinality("):
			dbType = strings.TrimSuffix(strings.TrimPrefix(dbType, "LowCardinality("), ")")
		default:
			return dbType, nullable
		}
	}
}

// typeHint maps a database type name to a column type understood by the
// column registry.
func typeHint(dbType string) string {
	base, _ := baseType(dbType)
	switch {
	case strings.HasPrefix(base, "Date"):
		return "date"
	case strings.HasPrefix(base, "Int"), strings.HasPrefix(base, "UInt"),
		strings.HasPrefix(base, "Float"), strings.HasPrefix(base, "Decimal"):
		return "number"
	}
	return ""
}

func target[T any](nullable bool) any {
	if nullable {
		var p *T
		return &p
	}
	var v T
	return &v
}

// scanTarget picks a typed destination for a column. Unknown types scan as
// strings.
func scanTarget(dbType string) any {
	base, nullable := baseType(dbType)
	switch {
	case base == "String" || strings.HasPrefix(base, "FixedString") || strings.HasPrefix(base, "Enum"):
		return target[string](nullable)
	case strings.HasPrefix(base, "Date"):
		return target[time.Time](nullable)
	case base == "UInt8":
		return target[uint8](nullable)
	case base == "UInt16":
		return target[uint16](nullable)
	case base == "UInt32":
		return target[uint32](nullable)
	case base == "UInt64":
		return target[uint64](nullable)
	case base == "Int8":
		return target[int8](nullable)
	case base == "Int16":
		return target[int16](nullable)
	case base == "Int32":
		return target[int32](nullable)
	case base == "Int64":
		return target[int64](nullable)
	case base == "Float32":
		return target[float32](nullable)
	case base == "Float64":
		return target[float64](nullable)
	case base == "Bool":
		return target[bool](nullable)
	case base == "UUID":
		return target[uuid.UUID](nullable)
	case strings.HasPrefix(base, "Decimal"):
		return target[decimal.Decimal](nullable)
	}
	return target[string](nullable)
}

// cell converts a scanned destination into a plain JSON-friendly value.
// Integers and decimals become float64, UUIDs become strings and nulls nil.
func cell(dest any) any {
	switch v := value.Deref(dest).(type) {
	case nil:
		return nil
	case decimal.Decimal:
		return v.InexactFloat64()
	case uuid.UUID:
		return v.String()
	case time.Time, string, bool, float64:
		return v
	default:
		if f, ok := value.Float(v); ok {
			return f
		}
		return value.String(v)
	}
}

func scanResponse(rows driver.Rows) (*Response, error) {
	columns := rows.Columns()
	types := rows.ColumnTypes()

	resp := &Response{
		Status:  true,
		Columns: columns,
		Types:   make(map[string]string, len(columns)),
		Data:    []map[string]any{},
	}
	dest := make([]any, len(types))
	for i, ct := range types {
		dest[i] = scanTarget(ct.DatabaseTypeName())
		if hint := typeHint(ct.DatabaseTypeName()); hint != "" {
			resp.Types[columns[i]] = hint
		}
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = cell(dest[i])
		}
		resp.Data = append(resp.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return resp, nil
}
