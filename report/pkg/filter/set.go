package filter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/malbeclabs/dashboards/report/pkg/settings"
)

// SetConfig configures a filter set.
type SetConfig struct {
	Settings *settings.Settings
	Clock    clockwork.Clock
}

func (cfg *SetConfig) Validate() error {
	if cfg.Settings == nil {
		return errors.New("settings are required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Set is the ordered filter list of one report.
type Set struct {
	cfg     SetConfig
	filters []*Filter
	index   map[string]int
}

var (
	rangeWords = regexp.MustCompile(`(?i)start|end`)
	groupStrip = regexp.MustCompile(`(?i)start|end|date`)
	spaces     = regexp.MustCompile(`\s+`)
)

// NewSet builds the filters for specs. Date filters whose names mention
// start or end are grouped under a synthetic date-range filter named after
// the remaining words; each group is placed after the ungrouped filters as
// range, start, end.
func NewSet(cfg SetConfig, specs []Spec) (*Set, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Set{cfg: cfg, index: make(map[string]int)}

	type group struct {
		name       string
		start, end []*Filter
	}
	var (
		groups  []*group
		byName  = make(map[string]*group)
		grouped []*Filter
	)

	for _, spec := range specs {
		if spec.Type == "" {
			spec.Type = Text
		}
		if _, ok := types[spec.Type]; !ok {
			return nil, fmt.Errorf("filter %s has unknown type %q", spec.Placeholder, spec.Type)
		}
		if spec.Placeholder == "" {
			return nil, fmt.Errorf("filter %q has no placeholder", spec.Name)
		}

		f := newFilter(spec, cfg.Settings, cfg.Clock)
		if spec.Type != Date || !rangeWords.MatchString(spec.Name) {
			grouped = append(grouped, f)
			continue
		}

		name := strings.TrimSpace(spaces.ReplaceAllString(groupStrip.ReplaceAllString(spec.Name, ""), " "))
		g, ok := byName[strings.ToLower(name)]
		if !ok {
			g = &group{name: name}
			byName[strings.ToLower(name)] = g
			groups = append(groups, g)
		}
		if strings.Contains(strings.ToLower(spec.Name), "start") {
			f.role = roleStart
			g.start = append(g.start, f)
		} else {
			f.role = roleEnd
			g.end = append(g.end, f)
		}
	}

	for _, g := range groups {
		placeholder := strings.ToLower(strings.ReplaceAll(g.name, " ", "_"))
		if placeholder != "" {
			placeholder += "_"
		}
		rng := newFilter(Spec{
			Name:        strings.TrimSpace(g.name + " Date Range"),
			Placeholder: placeholder + "date_range",
			Type:        DateRange,
		}, cfg.Settings, cfg.Clock)
		rng.companions = append(append(rng.companions, g.start...), g.end...)
		grouped = append(grouped, rng)
		grouped = append(grouped, rng.companions...)
	}

	for _, f := range grouped {
		if _, dup := s.index[f.Placeholder]; dup {
			return nil, fmt.Errorf("duplicate filter placeholder %s", f.Placeholder)
		}
		s.index[f.Placeholder] = len(s.filters)
		s.filters = append(s.filters, f)
	}
	return s, nil
}

// All returns the filters in order.
func (s *Set) All() []*Filter {
	return append([]*Filter(nil), s.filters...)
}

// Len returns the number of filters.
func (s *Set) Len() int { return len(s.filters) }

// Get returns the filter with the given placeholder.
func (s *Set) Get(placeholder string) (*Filter, bool) {
	i, ok := s.index[placeholder]
	if !ok {
		return nil, false
	}
	return s.filters[i], true
}

// ByID returns the filter declared with id.
func (s *Set) ByID(id int) (*Filter, bool) {
	for _, f := range s.filters {
		if f.ID != 0 && f.ID == id {
			return f, true
		}
	}
	return nil, false
}

// Params serializes every filter as prefix+placeholder. Multi-select filters
// repeat the key once per selected value.
func (s *Set) Params(prefix string) url.Values {
	out := url.Values{}
	for _, f := range s.filters {
		for _, v := range f.Params() {
			out.Add(prefix+f.Placeholder, v)
		}
	}
	return out
}

// Fetch loads dataset candidates for every dataset-backed filter
// concurrently.
func (s *Set) Fetch(ctx context.Context, src DatasetSource) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, f := range s.filters {
		if f.Dataset == 0 {
			continue
		}
		g.Go(func() error {
			return f.Fetch(ctx, src)
		})
	}
	return g.Wait()
}
