// Package aggregate reduces a list of cells to a single value. It backs pivot
// and stream-join transformations as well as column accumulations.
package aggregate

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// Func names a reduction.
type Func string

const (
	Sum            Func = "sum"
	Count          Func = "count"
	DistinctCount  Func = "distinctcount"
	Max            Func = "max"
	Min            Func = "min"
	Average        Func = "average"
	Values         Func = "values"
	DistinctValues Func = "distinctvalues"
)

// Default is used when a spec names no function.
const Default = Count

// Accumulations are the reductions offered on a column footer.
var Accumulations = []Func{Sum, Average, Max, Min, DistinctCount, DistinctValues}

var known = map[Func]struct{}{
	Sum: {}, Count: {}, DistinctCount: {}, Max: {}, Min: {},
	Average: {}, Values: {}, DistinctValues: {},
}

// Lookup normalizes a function name; an empty name yields Default.
func Lookup(name string) (Func, bool) {
	if name == "" {
		return Default, true
	}
	fn := Func(strings.ToLower(name))
	_, ok := known[fn]
	return fn, ok
}

// Reduce applies fn to values. Numeric reductions ignore cells that do not
// parse as numbers; max, min and average return nil when none do.
func Reduce(fn Func, values []any) any {
	switch fn {
	case Count:
		return len(values)
	case DistinctCount:
		return len(distinct(values))
	case Values:
		return join(values)
	case DistinctValues:
		return join(distinct(values))
	}

	nums := numbers(values)
	switch fn {
	case Sum:
		total := 0.0
		for _, n := range nums {
			total += n
		}
		return total
	case Max, Min:
		if len(nums) == 0 {
			return nil
		}
		out := nums[0]
		for _, n := range nums[1:] {
			if fn == Max && n > out || fn == Min && n < out {
				out = n
			}
		}
		return out
	case Average:
		if len(values) == 0 {
			return nil
		}
		total := decimal.Zero
		for _, n := range nums {
			total = total.Add(decimal.NewFromFloat(n))
		}
		avg := total.Div(decimal.NewFromInt(int64(len(values))))
		return avg.Mul(decimal.NewFromInt(100)).Floor().Div(decimal.NewFromInt(100)).InexactFloat64()
	}
	return len(values)
}

func numbers(values []any) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if f, ok := value.Float(v); ok {
			out = append(out, f)
		}
	}
	return out
}

func distinct(values []any) []any {
	seen := make(map[string]struct{}, len(values))
	out := make([]any, 0, len(values))
	for _, v := range values {
		k := value.String(v)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, v)
	}
	return out
}

func join(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = value.String(v)
	}
	return strings.Join(parts, ", ")
}
