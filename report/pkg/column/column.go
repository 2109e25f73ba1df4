package column

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/malbeclabs/dashboards/report/pkg/aggregate"
	"github.com/malbeclabs/dashboards/report/pkg/predicate"
)

// Binding source types for drilldown parameters.
const (
	BindColumn = "column"
	BindFilter = "filter"
	BindStatic = "static"
)

// Binding maps one destination filter placeholder to a value source.
type Binding struct {
	Placeholder string `yaml:"placeholder" json:"placeholder"`
	Type        string `yaml:"type" json:"type"`
	Value       string `yaml:"value" json:"value"`
}

// Drilldown is a column's navigation target.
type Drilldown struct {
	QueryID    int       `yaml:"query_id" json:"query_id"`
	Parameters []Binding `yaml:"parameters" json:"parameters"`
}

// Search is one configured search predicate on a column.
type Search struct {
	Predicate predicate.Slug `yaml:"name" json:"name"`
	Value     string         `yaml:"value" json:"value"`
}

// Format is a persisted per-column override, matched by key.
type Format struct {
	Key           string           `yaml:"key" json:"key"`
	Name          string           `yaml:"name" json:"name"`
	Type          string           `yaml:"type" json:"type"`
	Color         string           `yaml:"color" json:"color"`
	Prefix        string           `yaml:"prefix" json:"prefix"`
	Postfix       string           `yaml:"postfix" json:"postfix"`
	Formula       string           `yaml:"formula" json:"formula"`
	Disabled      bool             `yaml:"disabled" json:"disabled"`
	Hidden        bool             `yaml:"hidden" json:"hidden"`
	Sort          *int             `yaml:"sort" json:"sort"`
	Search        []Search         `yaml:"filters" json:"filters"`
	Accumulations []aggregate.Func `yaml:"accumulations" json:"accumulations"`
	Drilldown     *Drilldown       `yaml:"drilldown" json:"drilldown"`
}

// Column is one entry of the registry.
type Column struct {
	Key           string
	Name          string
	Color         string
	Type          string
	Prefix        string
	Postfix       string
	Formula       string
	Disabled      bool
	Hidden        bool
	Search        []Search
	Accumulations []aggregate.Func
	Drilldown     *Drilldown
}

// DisplayName derives a column title from its key: "total_sales" becomes
// "Total Sales".
func DisplayName(key string) string {
	words := strings.Split(key, "_")
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		if size == 0 {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

func (c *Column) apply(f Format) {
	if f.Name != "" {
		c.Name = f.Name
	}
	if f.Type != "" {
		c.Type = f.Type
	}
	if f.Color != "" {
		c.Color = f.Color
	}
	c.Prefix = f.Prefix
	c.Postfix = f.Postfix
	c.Formula = f.Formula
	c.Disabled = f.Disabled
	c.Hidden = f.Hidden
	c.Search = append([]Search(nil), f.Search...)
	c.Accumulations = append([]aggregate.Func(nil), f.Accumulations...)
	if f.Drilldown != nil {
		d := *f.Drilldown
		d.Parameters = append([]Binding(nil), f.Drilldown.Parameters...)
		c.Drilldown = &d
	}
}

// ActiveSearch returns the search predicates that carry a value.
func (c *Column) ActiveSearch() []Search {
	var out []Search
	for _, s := range c.Search {
		if s.Value != "" {
			out = append(out, s)
		}
	}
	return out
}
