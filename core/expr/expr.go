// Package expr provides the filter predicate language the optimizer moves
// through a pipeline: trivially-true, field comparisons, conjunction,
// disjunction, and negation, with evaluation over events batches and
// tailoring against a schema.
package expr

import (
	"fmt"
	"strings"
	"time"

	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/schema"
)

// Predicate is a boolean expression over one event. A nil Predicate is
// trivially true.
type Predicate interface {
	fmt.Stringer
	// Fields returns the leaf paths the predicate references.
	Fields() []string
}

// True is the trivially-true predicate.
type True struct{}

func (True) String() string   { return "true" }
func (True) Fields() []string { return nil }

// IsTrue reports whether p is trivially true.
func IsTrue(p Predicate) bool {
	if p == nil {
		return true
	}
	_, ok := p.(True)
	return ok
}

// Op is a comparison operator.
type Op int

const (
	OpEq Op = iota
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNe:
		return "!="
	case OpLt:
		return "<"
	case OpLe:
		return "<="
	case OpGt:
		return ">"
	case OpGe:
		return ">="
	}
	invariant.Unreachable("unknown comparison operator %d", int(o))
	return ""
}

// Comparison compares a field against a constant.
type Comparison struct {
	Field string
	Op    Op
	Value any
}

func (c Comparison) String() string {
	return fmt.Sprintf("%s %s %v", c.Field, c.Op, c.Value)
}

func (c Comparison) Fields() []string { return []string{c.Field} }

// And is a conjunction. An empty conjunction is true.
type And struct {
	Terms []Predicate
}

func (a And) String() string { return joinTerms(a.Terms, " && ") }

func (a And) Fields() []string { return collectFields(a.Terms) }

// Or is a disjunction. An empty disjunction is true.
type Or struct {
	Terms []Predicate
}

func (o Or) String() string { return joinTerms(o.Terms, " || ") }

func (o Or) Fields() []string { return collectFields(o.Terms) }

// Not negates a predicate.
type Not struct {
	Term Predicate
}

func (n Not) String() string   { return fmt.Sprintf("!(%s)", n.Term) }
func (n Not) Fields() []string { return n.Term.Fields() }

// Field builds a comparison predicate.
func Field(path string, op Op, value any) Predicate {
	return Comparison{Field: path, Op: op, Value: value}
}

// Conjoin combines two predicates into a conjunction, flattening nested
// conjunctions and dropping trivially-true terms.
func Conjoin(a, b Predicate) Predicate {
	terms := appendConjuncts(appendConjuncts(nil, a), b)
	switch len(terms) {
	case 0:
		return True{}
	case 1:
		return terms[0]
	}
	return And{Terms: terms}
}

func appendConjuncts(out []Predicate, p Predicate) []Predicate {
	if IsTrue(p) {
		return out
	}
	if and, ok := p.(And); ok {
		for _, t := range and.Terms {
			out = appendConjuncts(out, t)
		}
		return out
	}
	return append(out, p)
}

func joinTerms(terms []Predicate, sep string) string {
	if len(terms) == 0 {
		return "true"
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t.String()
	}
	return strings.Join(parts, sep)
}

func collectFields(terms []Predicate) []string {
	var out []string
	for _, t := range terms {
		out = append(out, t.Fields()...)
	}
	return out
}

// Tailor checks that every field the predicate references exists in the
// schema as a leaf path; leaf kinds are not checked. A predicate that does not tailor
// cannot be evaluated against events of that schema; callers treat the
// whole batch as not matching or refuse pushdown.
func Tailor(p Predicate, sc *schema.Type) bool {
	if IsTrue(p) {
		return true
	}
	for _, path := range p.Fields() {
		if _, ok := sc.LeafIndex(path); !ok {
			return false
		}
	}
	return true
}

// EvalRow evaluates the predicate against one row of an events batch.
// A referenced field missing from the schema, or a null value, makes the
// enclosing comparison false.
func EvalRow(p Predicate, sc *schema.Type, cols []schema.Array, row int) bool {
	if IsTrue(p) {
		return true
	}
	switch node := p.(type) {
	case Comparison:
		idx, ok := sc.LeafIndex(node.Field)
		if !ok {
			return false
		}
		v := cols[idx].Value(row)
		if v == nil {
			return false
		}
		return compare(v, node.Op, node.Value)
	case And:
		for _, t := range node.Terms {
			if !EvalRow(t, sc, cols, row) {
				return false
			}
		}
		return true
	case Or:
		if len(node.Terms) == 0 {
			return true
		}
		for _, t := range node.Terms {
			if EvalRow(t, sc, cols, row) {
				return true
			}
		}
		return false
	case Not:
		return !EvalRow(node.Term, sc, cols, row)
	}
	invariant.Unreachable("unknown predicate node %T", p)
	return false
}

// compare applies op to a column value and a constant, coercing both to a
// common domain. Incomparable pairs are false.
func compare(left any, op Op, right any) bool {
	if lf, rf, ok := asFloats(left, right); ok {
		return cmpOrdered(lf, rf, op)
	}
	if ls, ok := left.(string); ok {
		if rs, ok := right.(string); ok {
			return cmpOrdered(ls, rs, op)
		}
		return false
	}
	if lt, ok := left.(time.Time); ok {
		if rt, ok := right.(time.Time); ok {
			switch op {
			case OpEq:
				return lt.Equal(rt)
			case OpNe:
				return !lt.Equal(rt)
			case OpLt:
				return lt.Before(rt)
			case OpLe:
				return !lt.After(rt)
			case OpGt:
				return lt.After(rt)
			case OpGe:
				return !lt.Before(rt)
			}
		}
		return false
	}
	// Fall back to equality on the boxed representation.
	switch op {
	case OpEq:
		return fmt.Sprint(left) == fmt.Sprint(right)
	case OpNe:
		return fmt.Sprint(left) != fmt.Sprint(right)
	}
	return false
}

func cmpOrdered[T interface{ ~float64 | ~string }](l, r T, op Op) bool {
	switch op {
	case OpEq:
		return l == r
	case OpNe:
		return l != r
	case OpLt:
		return l < r
	case OpLe:
		return l <= r
	case OpGt:
		return l > r
	case OpGe:
		return l >= r
	}
	invariant.Unreachable("unknown comparison operator %d", int(op))
	return false
}

func asFloats(l, r any) (float64, float64, bool) {
	lf, lok := toFloat(l)
	rf, rok := toFloat(r)
	return lf, rf, lok && rok
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
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
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case time.Duration:
		return float64(n), true
	}
	return 0, false
}
