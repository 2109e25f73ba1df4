// Package formula evaluates column formulas. Expressions are parsed into a
// tree and interpreted against bound column values; nothing is executed
// beyond the arithmetic, comparison and logical operators and a fixed set
// of math functions.
package formula

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/malbeclabs/dashboards/report/pkg/value"
)

var (
	ErrUnknownIdentifier = errors.New("unknown identifier")
	ErrUnknownFunction   = errors.New("unknown function")
)

// Expr is a compiled formula.
type Expr struct {
	src  string
	root node
}

// Parse compiles a formula.
func Parse(src string) (*Expr, error) {
	tokens, err := lex(src)
	if err != nil {
		return nil, fmt.Errorf("failed to parse formula: %w", err)
	}
	p := &parser{tokens: tokens}
	root, err := p.expression()
	if err != nil {
		return nil, fmt.Errorf("failed to parse formula: %w", err)
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, fmt.Errorf("failed to parse formula: unexpected %q at %d", t.text, t.pos)
	}
	return &Expr{src: src, root: root}, nil
}

func (e *Expr) String() string { return e.src }

// Eval evaluates the formula. Identifiers are looked up in vars
// case-insensitively; values that parse as numbers bind as numbers and
// everything else binds as a string.
func (e *Expr) Eval(vars map[string]any) (any, error) {
	env := make(map[string]any, len(vars))
	for k, v := range vars {
		env[strings.ToLower(k)] = bind(v)
	}
	return e.root.eval(env)
}

// Number evaluates the formula and requires a finite numeric result.
func (e *Expr) Number(vars map[string]any) (float64, error) {
	out, err := e.Eval(vars)
	if err != nil {
		return 0, err
	}
	f, ok := value.Float(out)
	if !ok {
		return 0, fmt.Errorf("formula %q produced non-numeric result %v", e.src, out)
	}
	return f, nil
}

func bind(v any) any {
	if value.Deref(v) == nil {
		return nil
	}
	if f, ok := value.Float(v); ok {
		return f
	}
	if b, ok := value.Deref(v).(bool); ok {
		return b
	}
	return value.String(v)
}

type node interface {
	eval(env map[string]any) (any, error)
}

type literal struct{ v any }

func (n literal) eval(map[string]any) (any, error) { return n.v, nil }

type ident struct{ name string }

func (n ident) eval(env map[string]any) (any, error) {
	v, ok := env[strings.ToLower(n.name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentifier, n.name)
	}
	return v, nil
}

type unary struct {
	op string
	x  node
}

func (n unary) eval(env map[string]any) (any, error) {
	v, err := n.x.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		return !truthy(v), nil
	case "-":
		return -toNumber(v), nil
	default:
		return toNumber(v), nil
	}
}

type binary struct {
	op   string
	l, r node
}

func (n binary) eval(env map[string]any) (any, error) {
	l, err := n.l.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "&&":
		if !truthy(l) {
			return l, nil
		}
		return n.r.eval(env)
	case "||":
		if truthy(l) {
			return l, nil
		}
		return n.r.eval(env)
	}

	r, err := n.r.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "+":
		ls, lstr := l.(string)
		rs, rstr := r.(string)
		if lstr || rstr {
			if !lstr {
				ls = display(l)
			}
			if !rstr {
				rs = display(r)
			}
			return ls + rs, nil
		}
		return toNumber(l) + toNumber(r), nil
	case "-":
		return toNumber(l) - toNumber(r), nil
	case "*":
		return toNumber(l) * toNumber(r), nil
	case "/":
		return toNumber(l) / toNumber(r), nil
	case "%":
		return math.Mod(toNumber(l), toNumber(r)), nil
	case "==", "===":
		return equal(l, r), nil
	case "!=", "!==":
		return !equal(l, r), nil
	case "<", "<=", ">", ">=":
		return compare(n.op, l, r), nil
	}
	return nil, fmt.Errorf("unknown operator %q", n.op)
}

type conditional struct {
	cond, then, otherwise node
}

func (n conditional) eval(env map[string]any) (any, error) {
	c, err := n.cond.eval(env)
	if err != nil {
		return nil, err
	}
	if truthy(c) {
		return n.then.eval(env)
	}
	return n.otherwise.eval(env)
}

type call struct {
	name string
	args []node
}

var functions = map[string]func(args []float64) (float64, error){
	"abs":   oneArg(math.Abs),
	"ceil":  oneArg(math.Ceil),
	"floor": oneArg(math.Floor),
	"round": oneArg(func(x float64) float64 { return math.Floor(x + 0.5) }),
	"sqrt":  oneArg(math.Sqrt),
	"pow": func(args []float64) (float64, error) {
		if len(args) != 2 {
			return 0, errors.New("pow takes 2 arguments")
		}
		return math.Pow(args[0], args[1]), nil
	},
	"min": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, errors.New("min takes at least 1 argument")
		}
		out := args[0]
		for _, a := range args[1:] {
			out = math.Min(out, a)
		}
		return out, nil
	},
	"max": func(args []float64) (float64, error) {
		if len(args) == 0 {
			return 0, errors.New("max takes at least 1 argument")
		}
		out := args[0]
		for _, a := range args[1:] {
			out = math.Max(out, a)
		}
		return out, nil
	},
}

func oneArg(fn func(float64) float64) func([]float64) (float64, error) {
	return func(args []float64) (float64, error) {
		if len(args) != 1 {
			return 0, errors.New("expected 1 argument")
		}
		return fn(args[0]), nil
	}
}

func (n call) eval(env map[string]any) (any, error) {
	name := strings.TrimPrefix(strings.ToLower(n.name), "math.")
	fn, ok := functions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, n.name)
	}
	args := make([]float64, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return nil, err
		}
		args[i] = toNumber(v)
	}
	return fn(args)
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0 && !math.IsNaN(val)
	case string:
		return val != ""
	}
	return true
}

func toNumber(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case bool:
		if val {
			return 1
		}
		return 0
	case string:
		if strings.TrimSpace(val) == "" {
			return 0
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	}
	return math.NaN()
}

func display(v any) string {
	if f, ok := v.(float64); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return value.String(v)
}

func equal(l, r any) bool {
	ls, lstr := l.(string)
	rs, rstr := r.(string)
	if lstr && rstr {
		return ls == rs
	}
	return toNumber(l) == toNumber(r)
}

func compare(op string, l, r any) bool {
	ls, lstr := l.(string)
	rs, rstr := r.(string)
	var c int
	if lstr && rstr {
		c = strings.Compare(ls, rs)
	} else {
		lf, rf := toNumber(l), toNumber(r)
		if math.IsNaN(lf) || math.IsNaN(rf) {
			return false
		}
		switch {
		case lf < rf:
			c = -1
		case lf > rf:
			c = 1
		}
	}
	switch op {
	case "<":
		return c < 0
	case "<=":
		return c <= 0
	case ">":
		return c > 0
	}
	return c >= 0
}
