// Package filter resolves the effective value of every declared report
// parameter and serializes them into request parameters.
package filter

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/dashboards/report/pkg/settings"
)

// Type is the declared type of a filter.
type Type string

const (
	Text      Type = "text"
	Number    Type = "number"
	Date      Type = "date"
	Month     Type = "month"
	DateTime  Type = "datetime"
	City      Type = "city"
	DateRange Type = "daterange"
	Hidden    Type = "hidden"
	Column    Type = "column"
)

var types = map[Type]struct{}{
	Text: {}, Number: {}, Date: {}, Month: {}, DateTime: {}, City: {},
	DateRange: {}, Hidden: {}, Column: {},
}

// Spec is a declared filter.
type Spec struct {
	ID           int    `yaml:"filter_id" json:"filter_id"`
	Name         string `yaml:"name" json:"name"`
	Placeholder  string `yaml:"placeholder" json:"placeholder"`
	Type         Type   `yaml:"type" json:"type"`
	DefaultValue string `yaml:"default_value" json:"default_value"`
	Offset       *int   `yaml:"offset" json:"offset"`
	Multiple     bool   `yaml:"multiple" json:"multiple"`
	// Dataset is the query id of the report supplying candidate values.
	Dataset int `yaml:"dataset" json:"dataset"`
}

// Option is one candidate value of a dataset-backed filter.
type Option struct {
	Name  string
	Value string
}

// Input is a UI element bound to a filter. Value reports false when the
// element holds nothing yet.
type Input interface {
	Value() (string, bool)
	SetValue(v string)
}

// DatasetSource supplies candidate values for dataset-backed filters.
type DatasetSource interface {
	DatasetValues(ctx context.Context, datasetID int) ([]Option, error)
}

type role int

const (
	roleNone role = iota
	roleStart
	roleEnd
)

// Filter is one resolved report parameter.
type Filter struct {
	Spec

	settings *settings.Settings
	clock    clockwork.Clock
	role     role

	mu         sync.RWMutex
	input      Input
	cached     *string
	history    []string
	companions []*Filter
	options    []Option
	selected   []string
	selecting  bool
}

func newFilter(spec Spec, s *settings.Settings, clock clockwork.Clock) *Filter {
	return &Filter{Spec: spec, settings: s, clock: clock}
}

// Bind attaches a UI element. Its value takes priority over cached values.
func (f *Filter) Bind(in Input) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = in
}

// MultiSelect reports whether the filter sends a list of selected values.
func (f *Filter) MultiSelect() bool {
	return f.Multiple && f.Dataset != 0
}

// Companions returns the start and end filters driven by a date range.
func (f *Filter) Companions() []*Filter {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.companions)
}

// Value returns the effective value: the multi-select selection, the bound
// UI value, a value set before any UI existed, the matching date-range
// preset, or the declared default.
func (f *Filter) Value() string {
	if f.MultiSelect() {
		return strings.Join(f.Selected(), ",")
	}

	f.mu.RLock()
	input, cached := f.input, f.cached
	f.mu.RUnlock()

	if input != nil {
		if v, ok := input.Value(); ok {
			return v
		}
	}
	if cached != nil {
		return *cached
	}
	if f.Type == DateRange {
		return strconv.Itoa(f.matchRange())
	}
	return f.defaultValue()
}

// SetValue stores v, in the bound UI element when there is one. Setting a
// date range pushes the preset's dates into its companions.
func (f *Filter) SetValue(v string) {
	f.mu.Lock()
	if f.input != nil {
		f.input.SetValue(v)
	} else {
		f.cached = &v
	}
	f.history = append(f.history, v)
	f.mu.Unlock()

	if f.Type == DateRange {
		f.applyRange(v)
	}
}

// History returns every value set on the filter in order.
func (f *Filter) History() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.history)
}

func (f *Filter) today() time.Time {
	y, m, d := f.clock.Now().UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (f *Filter) defaultValue() string {
	if f.Offset == nil {
		return f.DefaultValue
	}
	today := f.today()
	switch f.Type {
	case Date:
		return today.AddDate(0, 0, *f.Offset).Format(settings.DateLayout)
	case Month:
		first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC)
		return first.AddDate(0, *f.Offset, 0).Format(settings.MonthLayout)
	case DateTime:
		return today.AddDate(0, 0, *f.Offset).Format(settings.DateLayout) + "T" + f.DefaultValue
	}
	return f.DefaultValue
}

func (f *Filter) companion(r role) *Filter {
	for _, c := range f.Companions() {
		if c.role == r {
			return c
		}
	}
	return nil
}

// matchRange returns the first preset whose offsets produce the companions'
// current values, or the Custom preset.
func (f *Filter) matchRange() int {
	custom := f.settings.CustomRange()
	start, end := f.companion(roleStart), f.companion(roleEnd)
	if start == nil && end == nil {
		return custom
	}
	today := f.today()
	for i, r := range f.settings.DateRanges[:custom] {
		if start != nil && start.Value() != today.AddDate(0, 0, r.Start).Format(settings.DateLayout) {
			continue
		}
		if end != nil && end.Value() != today.AddDate(0, 0, r.End).Format(settings.DateLayout) {
			continue
		}
		return i
	}
	return custom
}

func (f *Filter) applyRange(v string) {
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 || i >= f.settings.CustomRange() {
		return
	}
	r := f.settings.DateRanges[i]
	today := f.today()
	if start := f.companion(roleStart); start != nil {
		start.SetValue(today.AddDate(0, 0, r.Start).Format(settings.DateLayout))
	}
	if end := f.companion(roleEnd); end != nil {
		end.SetValue(today.AddDate(0, 0, r.End).Format(settings.DateLayout))
	}
}

// Fetch loads candidate values of a dataset-backed filter. The first load
// of a multi-select filter selects every candidate; later loads keep the
// current selection.
func (f *Filter) Fetch(ctx context.Context, src DatasetSource) error {
	if f.Dataset == 0 {
		return nil
	}
	opts, err := src.DatasetValues(ctx, f.Dataset)
	if err != nil {
		return fmt.Errorf("failed to fetch dataset %d for filter %s: %w", f.Dataset, f.Placeholder, err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.options = opts
	if f.MultiSelect() && !f.selecting {
		f.selected = make([]string, len(opts))
		for i, o := range opts {
			f.selected[i] = o.Value
		}
		f.selecting = true
	}
	return nil
}

// Options returns the dataset candidates loaded by Fetch.
func (f *Filter) Options() []Option {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.options)
}

// Select replaces the multi-select selection.
func (f *Filter) Select(values ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selected = slices.Clone(values)
	f.selecting = true
}

// Selected returns the multi-select selection.
func (f *Filter) Selected() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return slices.Clone(f.selected)
}

// Params returns the filter's values as sent to the backend.
func (f *Filter) Params() []string {
	if f.MultiSelect() {
		return f.Selected()
	}
	return []string{f.Value()}
}
