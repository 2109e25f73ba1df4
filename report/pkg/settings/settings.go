package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

const (
	DefaultPlaceholderPrefix = "param_"
	DefaultDatasetTTL        = 5 * time.Minute
	DefaultMaxDrilldownDepth = 16

	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"
)

// DefaultPalette is the column color palette, indexed by registration order.
var DefaultPalette = []string{
	"#3e7adc", "#ef6692", "#d6bcc0", "#ffca05",
	"#8dd593", "#ff8b75", "#2a0f54", "#d33f6a",
	"#f0b98d", "#6c54b5", "#bb7784", "#b5bbe3",
	"#0c8765", "#ef9708", "#1abb9c", "#9da19c",
}

// DateRange is a named preset expressed as day offsets from today.
type DateRange struct {
	Name  string `yaml:"name"`
	Start int    `yaml:"start"`
	End   int    `yaml:"end"`
}

// DefaultDateRanges are the presets offered by date-range filters. The last
// entry is always the catch-all Custom range.
var DefaultDateRanges = []DateRange{
	{Name: "Today", Start: 0, End: 0},
	{Name: "Yesterday", Start: -1, End: -1},
	{Name: "Last 7 Days", Start: -7, End: 0},
	{Name: "Last 30 Days", Start: -30, End: 0},
	{Name: "Last 90 days", Start: -90, End: 0},
	{Name: "Last Year", Start: -365, End: 0},
	{Name: "Custom"},
}

// Settings is the process-wide engine configuration. It is loaded once and
// shared read-only by every component.
type Settings struct {
	Palette            []string          `yaml:"palette"`
	DateRanges         []DateRange       `yaml:"date_ranges"`
	PlaceholderPrefix  string            `yaml:"placeholder_prefix"`
	DatasetTTL         time.Duration     `yaml:"dataset_ttl"`
	MaxDrilldownDepth  int               `yaml:"max_drilldown_depth"`
	SequenceGuard      bool              `yaml:"sequence_guard"`
	ExternalParameters map[string]string `yaml:"external_parameters"`
}

// Default returns the built-in settings.
func Default() *Settings {
	s := &Settings{}
	s.applyDefaults()
	return s
}

// Load reads settings from a YAML file, filling unset fields with defaults.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Settings) applyDefaults() {
	if len(s.Palette) == 0 {
		s.Palette = append([]string(nil), DefaultPalette...)
	}
	if len(s.DateRanges) == 0 {
		s.DateRanges = append([]DateRange(nil), DefaultDateRanges...)
	}
	if s.PlaceholderPrefix == "" {
		s.PlaceholderPrefix = DefaultPlaceholderPrefix
	}
	if s.DatasetTTL == 0 {
		s.DatasetTTL = DefaultDatasetTTL
	}
	if s.MaxDrilldownDepth == 0 {
		s.MaxDrilldownDepth = DefaultMaxDrilldownDepth
	}
}

// Validate fills defaults and rejects settings the engine cannot run with.
func (s *Settings) Validate() error {
	s.applyDefaults()
	if s.DatasetTTL < 0 {
		return errors.New("dataset ttl must not be negative")
	}
	if s.MaxDrilldownDepth < 0 {
		return errors.New("max drilldown depth must not be negative")
	}
	if last := s.DateRanges[len(s.DateRanges)-1]; last.Name != "Custom" {
		return fmt.Errorf("last date range must be Custom, got %q", last.Name)
	}
	return nil
}

// CustomRange returns the index of the Custom date-range preset.
func (s *Settings) CustomRange() int {
	return len(s.DateRanges) - 1
}

// Color returns the palette color for the i-th registered column.
func (s *Settings) Color(i int) string {
	return s.Palette[i%len(s.Palette)]
}
