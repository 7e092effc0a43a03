// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Schema Studio Contributors

package slot

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/samber/oops"
)

// predicateLexer tokenizes visibility predicates such as
//
//	selection.kind == "Text" && !document.readonly
var predicateLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"[^"]*"`},
	{Name: "Number", Pattern: `-?\d+(\.\d+)?`},
	{Name: "OpEq", Pattern: `==`},
	{Name: "OpNe", Pattern: `!=`},
	{Name: "OpAnd", Pattern: `&&`},
	{Name: "OpOr", Pattern: `\|\|`},
	{Name: "Not", Pattern: `!`},
	{Name: "Dot", Pattern: `\.`},
	{Name: "Ident", Pattern: `[a-zA-Z_]\w*`},
	{Name: "Punct", Pattern: `[()]`},
	{Name: "whitespace", Pattern: `\s+`},
})

// Expr is a disjunction of conjunctions.
//
// Grammar: and ( "||" and )*
type Expr struct {
	Pos lexer.Position `parser:""`
	Or  []*AndExpr     `parser:"@@ ( '||' @@ )*"`
}

// AndExpr is a conjunction of unary terms.
type AndExpr struct {
	Pos lexer.Position `parser:""`
	And []*Unary       `parser:"@@ ( '&&' @@ )*"`
}

// Unary is an optionally negated primary.
type Unary struct {
	Pos     lexer.Position `parser:""`
	Not     *Unary         `parser:"  '!' @@"`
	Primary *Primary       `parser:"| @@"`
}

// Primary is a parenthesized expression or a comparison.
type Primary struct {
	Pos        lexer.Position `parser:""`
	Sub        *Expr          `parser:"  '(' @@ ')'"`
	Comparison *Comparison    `parser:"| @@"`
}

// Comparison is an operand optionally compared with another. A bare operand
// is evaluated for truthiness.
type Comparison struct {
	Pos   lexer.Position `parser:""`
	Left  *Operand       `parser:"@@"`
	Op    string         `parser:"( @( '==' | '!=' )"`
	Right *Operand       `parser:"  @@ )?"`
}

// Operand is a literal or a dotted path into the evaluation environment.
type Operand struct {
	Pos    lexer.Position `parser:""`
	String *string        `parser:"  @String"`
	Number *float64       `parser:"| @Number"`
	Bool   *string        `parser:"| @( 'true' | 'false' )"`
	Null   bool           `parser:"| @'null'"`
	Path   []string       `parser:"| @Ident ( '.' @Ident )*"`
}

// Env is the data a predicate is evaluated against. Nested maps are reached
// with dotted paths.
type Env map[string]any

var predicateParser = participle.MustBuild[Expr](
	participle.Lexer(predicateLexer),
	participle.Unquote("String"),
)

// Predicate is a parsed visibility predicate.
type Predicate struct {
	source string
	expr   *Expr
}

// ParsePredicate parses a visibility predicate. An empty source yields a
// predicate that is always true.
func ParsePredicate(source string) (*Predicate, error) {
	if strings.TrimSpace(source) == "" {
		return &Predicate{}, nil
	}
	expr, err := predicateParser.ParseString("", source)
	if err != nil {
		return nil, oops.Code("INVALID_PREDICATE").With("predicate", source).Wrapf(err, "parsing visibility predicate")
	}
	return &Predicate{source: source, expr: expr}, nil
}

// String returns the predicate source.
func (p *Predicate) String() string {
	return p.source
}

// Eval evaluates the predicate. Paths missing from env evaluate to null.
func (p *Predicate) Eval(env Env) bool {
	if p == nil || p.expr == nil {
		return true
	}
	return p.expr.eval(env)
}

func (e *Expr) eval(env Env) bool {
	for _, and := range e.Or {
		if and.eval(env) {
			return true
		}
	}
	return false
}

func (a *AndExpr) eval(env Env) bool {
	for _, u := range a.And {
		if !u.eval(env) {
			return false
		}
	}
	return true
}

func (u *Unary) eval(env Env) bool {
	if u.Not != nil {
		return !u.Not.eval(env)
	}
	if u.Primary.Sub != nil {
		return u.Primary.Sub.eval(env)
	}
	return u.Primary.Comparison.eval(env)
}

func (c *Comparison) eval(env Env) bool {
	left := c.Left.value(env)
	switch c.Op {
	case "==":
		return equal(left, c.Right.value(env))
	case "!=":
		return !equal(left, c.Right.value(env))
	default:
		return truthy(left)
	}
}

func (o *Operand) value(env Env) any {
	switch {
	case o.String != nil:
		return *o.String
	case o.Number != nil:
		return *o.Number
	case o.Bool != nil:
		return *o.Bool == "true"
	case o.Null:
		return nil
	default:
		return lookup(env, o.Path)
	}
}

func lookup(env Env, path []string) any {
	var cur any = map[string]any(env)
	for _, part := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			if e, isEnv := cur.(Env); isEnv {
				m = e
			} else {
				return nil
			}
		}
		cur, ok = m[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func equal(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		fb, ok := toFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case nil:
		return b == nil
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return fmt.Sprint(a) == fmt.Sprint(b)
	}
}

func truthy(v any) bool {
	if f, ok := toFloat(v); ok {
		return f != 0
	}
	switch tv := v.(type) {
	case nil:
		return false
	case bool:
		return tv
	case string:
		return tv != ""
	case []any:
		return len(tv) > 0
	case map[string]any:
		return len(tv) > 0
	default:
		return true
	}
}
