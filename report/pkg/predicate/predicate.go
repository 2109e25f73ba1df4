// Package predicate holds the comparison vocabulary shared by column search,
// filter transformations and stream joins.
package predicate

import (
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/malbeclabs/dashboards/report/pkg/value"
)

// Slug identifies a predicate in report definitions.
type Slug string

const (
	Contains            Slug = "contains"
	NotContains         Slug = "notcontains"
	StartsWith          Slug = "startswith"
	EndsWith            Slug = "endswith"
	EqualTo             Slug = "equalto"
	NotEqualTo          Slug = "notequalto"
	GreaterThan         Slug = "greaterthan"
	LessThan            Slug = "lessthan"
	GreaterThanEqualsTo Slug = "greaterthanequalsto"
	LessThanEqualTo     Slug = "lessthanequalto"
	RegularExpression   Slug = "regularexpression"
)

// Func reports whether data satisfies query.
type Func func(query, data any) bool

// Predicate is a named comparison.
type Predicate struct {
	Slug Slug
	Name string
	Func Func
}

// Match applies the predicate.
func (p Predicate) Match(query, data any) bool { return p.Func(query, data) }

var all = []Predicate{
	{Contains, "Contains", func(q, d any) bool { return strings.Contains(lower(d), lower(q)) }},
	{NotContains, "Not Contains", func(q, d any) bool { return !strings.Contains(lower(d), lower(q)) }},
	{StartsWith, "Starts With", func(q, d any) bool { return strings.HasPrefix(lower(d), lower(q)) }},
	{EndsWith, "Ends With", func(q, d any) bool { return strings.HasSuffix(lower(d), lower(q)) }},
	{EqualTo, "Equal To", func(q, d any) bool { return lower(d) == lower(q) }},
	{NotEqualTo, "Not Equal To", func(q, d any) bool { return lower(d) != lower(q) }},
	{GreaterThan, "Greater Than", numeric(func(q, d float64) bool { return d > q })},
	{LessThan, "Less Than", numeric(func(q, d float64) bool { return d < q })},
	{GreaterThanEqualsTo, "Greater Than Equals To", numeric(func(q, d float64) bool { return d >= q })},
	{LessThanEqualTo, "Less Than Equals To", numeric(func(q, d float64) bool { return d <= q })},
	{RegularExpression, "Regular Expression", matchRegexp},
}

var bySlug = func() map[Slug]Predicate {
	m := make(map[Slug]Predicate, len(all))
	for _, p := range all {
		m[p.Slug] = p
	}
	return m
}()

// All returns every predicate in display order.
func All() []Predicate {
	return append([]Predicate(nil), all...)
}

// Lookup finds a predicate by slug.
func Lookup(slug Slug) (Predicate, bool) {
	p, ok := bySlug[Slug(strings.ToLower(string(slug)))]
	return p, ok
}

func lower(v any) string {
	return strings.ToLower(value.String(v))
}

// numeric compares as numbers; non-numeric operands never match.
func numeric(cmp func(q, d float64) bool) Func {
	return func(q, d any) bool {
		qf, ok := value.Float(q)
		if !ok {
			return false
		}
		df, ok := value.Float(d)
		if !ok {
			return false
		}
		return cmp(qf, df)
	}
}

// patternCacheSize bounds the compiled patterns kept across requests.
const patternCacheSize = 256

var patterns = mustPatternCache()

func mustPatternCache() *lru.Cache[string, *regexp.Regexp] {
	c, err := lru.New[string, *regexp.Regexp](patternCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}

// matchRegexp matches data against the query pattern case-insensitively.
// Malformed patterns never match.
func matchRegexp(q, d any) bool {
	src := value.String(q)
	re, ok := patterns.Get(src)
	if !ok {
		// Malformed patterns are cached as nil.
		re, _ = regexp.Compile("(?i)" + src)
		patterns.Add(src, re)
	}
	if re == nil {
		return false
	}
	return re.MatchString(value.String(d))
}
