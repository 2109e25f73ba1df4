// Package postprocess aggregates materialized rows along their timing column.
package postprocess

import (
	"fmt"
	"strconv"
	"time"

	"github.com/malbeclabs/dashboards/report/pkg/row"
	"github.com/malbeclabs/dashboards/report/pkg/settings"
	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// Kind names a post-processor.
type Kind string

const (
	Original       Kind = "original"
	Weekday        Kind = "weekday"
	CollapseTo     Kind = "collapse-to"
	RollingAverage Kind = "rolling-average"
	RollingSum     Kind = "rolling-sum"
)

// Option is one selectable value of a processor's domain.
type Option struct {
	Value string
	Name  string
}

// Selection is the active processor and its chosen value.
type Selection struct {
	Kind  Kind   `yaml:"kind" json:"kind"`
	Value string `yaml:"value" json:"value"`
}

// Processor transforms rows keyed on a timing column.
type Processor interface {
	Kind() Kind
	Name() string
	Domain() []Option
	Apply(rows []*row.Row, timing string) []*row.Row
}

var processors = []Processor{
	original{},
	weekday{},
	collapse{},
	rolling{kind: RollingAverage, average: true},
	rolling{kind: RollingSum},
}

// Processors lists every processor in display order.
func Processors() []Processor {
	return append([]Processor(nil), processors...)
}

// New builds the processor for sel, validating its value.
func New(sel Selection) (Processor, error) {
	kind := sel.Kind
	if kind == "" {
		kind = Original
	}
	for _, p := range processors {
		if p.Kind() != kind {
			continue
		}
		if kind == Original {
			return p, nil
		}
		for _, o := range p.Domain() {
			if o.Value == sel.Value {
				return bind(p, sel.Value), nil
			}
		}
		return nil, fmt.Errorf("invalid value %q for post-processor %s", sel.Value, kind)
	}
	return nil, fmt.Errorf("unknown post-processor %q", sel.Kind)
}

func bind(p Processor, v string) Processor {
	switch p := p.(type) {
	case weekday:
		d, _ := strconv.Atoi(v)
		p.day = time.Weekday(d)
		return p
	case collapse:
		p.period = v
		return p
	case rolling:
		p.window, _ = strconv.Atoi(v)
		return p
	}
	return p
}

// Apply runs the processor for sel over rows. Rows are returned unchanged
// when no timing column is known.
func Apply(sel Selection, rows []*row.Row, timing string) ([]*row.Row, error) {
	p, err := New(sel)
	if err != nil {
		return nil, err
	}
	if timing == "" {
		return rows, nil
	}
	return p.Apply(rows, timing), nil
}

type original struct{}

func (original) Kind() Kind                                 { return Original }
func (original) Name() string                               { return "No Filter" }
func (original) Domain() []Option                           { return nil }
func (original) Apply(rows []*row.Row, _ string) []*row.Row { return rows }

type weekday struct {
	day time.Weekday
}

func (weekday) Kind() Kind   { return Weekday }
func (weekday) Name() string { return "Weekday" }

func (weekday) Domain() []Option {
	out := make([]Option, 7)
	for d := time.Sunday; d <= time.Saturday; d++ {
		out[d] = Option{Value: strconv.Itoa(int(d)), Name: d.String()}
	}
	return out
}

// Apply keeps rows whose timing falls on the selected day of the week.
func (w weekday) Apply(rows []*row.Row, timing string) []*row.Row {
	out := make([]*row.Row, 0, len(rows))
	for _, r := range rows {
		t, ok := value.Time(r.Value(timing))
		if ok && t.Weekday() == w.day {
			out = append(out, r)
		}
	}
	return out
}

type collapse struct {
	period string
}

func (collapse) Kind() Kind   { return CollapseTo }
func (collapse) Name() string { return "Collapse To" }

func (collapse) Domain() []Option {
	return []Option{{Value: "week", Name: "Week"}, {Value: "month", Name: "Month"}}
}

func (c collapse) bucket(t time.Time) time.Time {
	t = value.Day(t)
	if c.period == "month" {
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

// Apply merges rows sharing a week (Monday based) or month bucket. Numeric
// fields are summed, other fields keep the last value seen, and annotations
// are carried into the merged row. Rows with unparseable timing are kept in
// their own bucket keyed by the raw value.
func (c collapse) Apply(rows []*row.Row, timing string) []*row.Row {
	var (
		order  []string
		merged = make(map[string]*row.Row)
	)
	for _, r := range rows {
		raw := r.Value(timing)
		key := value.String(raw)
		var bucket any = raw
		if t, ok := value.Time(raw); ok {
			b := c.bucket(t)
			key = b.Format(settings.DateLayout)
			bucket = key
		}

		m, ok := merged[key]
		if !ok {
			m = r.Clone()
			m.Set(timing, bucket)
			merged[key] = m
			order = append(order, key)
			continue
		}
		for _, k := range r.Keys() {
			if k == timing {
				continue
			}
			v := r.Value(k)
			if f, ok := value.Float(v); ok {
				prev, _ := value.Float(m.Value(k))
				m.Set(k, prev+f)
			} else {
				m.Set(k, v)
			}
		}
		m.Merge(r)
	}

	out := make([]*row.Row, 0, len(order))
	for _, k := range order {
		out = append(out, merged[k])
	}
	return out
}

type rolling struct {
	kind    Kind
	average bool
	window  int
}

func (r rolling) Kind() Kind { return r.kind }

func (r rolling) Name() string {
	if r.average {
		return "Rolling Average"
	}
	return "Rolling Sum"
}

func (rolling) Domain() []Option {
	return []Option{{Value: "7", Name: "7 Days"}, {Value: "14", Name: "14 Days"}, {Value: "30", Name: "30 Days"}}
}

// Apply emits one row per distinct day in first-appearance order. Rows sharing
// a day are summed into that day's contribution, then each numeric field is
// replaced with the sum (or mean over the full window) of that field across
// the trailing window of calendar days. Days missing from the data contribute
// nothing. Rows with unparseable timing pass through unchanged.
func (r rolling) Apply(rows []*row.Row, timing string) []*row.Row {
	type entry struct {
		day   time.Time
		timed bool
		row   *row.Row
	}
	var (
		entries []entry
		byDay   = make(map[string]*row.Row, len(rows))
	)
	for _, rw := range rows {
		t, ok := value.Time(rw.Value(timing))
		if !ok {
			entries = append(entries, entry{row: rw})
			continue
		}
		day := value.Day(t)
		key := day.Format(settings.DateLayout)
		m, ok := byDay[key]
		if !ok {
			byDay[key] = rw.Clone()
			entries = append(entries, entry{day: day, timed: true, row: byDay[key]})
			continue
		}
		for _, k := range rw.Keys() {
			if k == timing {
				continue
			}
			v := rw.Value(k)
			if f, ok := value.Float(v); ok {
				prev, _ := value.Float(m.Value(k))
				m.Set(k, prev+f)
			} else {
				m.Set(k, v)
			}
		}
		m.Merge(rw)
	}

	out := make([]*row.Row, 0, len(entries))
	for _, e := range entries {
		if !e.timed {
			out = append(out, e.row)
			continue
		}
		res := e.row.Clone()
		for _, k := range e.row.Keys() {
			if k == timing {
				continue
			}
			if _, ok := value.Float(e.row.Value(k)); !ok {
				continue
			}
			sum := 0.0
			for i := 0; i < r.window; i++ {
				prior, ok := byDay[e.day.AddDate(0, 0, -i).Format(settings.DateLayout)]
				if !ok {
					continue
				}
				if f, ok := value.Float(prior.Value(k)); ok {
					sum += f
				}
			}
			if r.average {
				sum /= float64(r.window)
			}
			res.Set(k, sum)
		}
		out = append(out, res)
	}
	return out
}
