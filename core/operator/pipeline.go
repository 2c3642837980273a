package operator

import (
	"strings"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/expr"
	"github.com/stromdata/strom/core/invariant"
)

// Pipeline is an ordered sequence of operators. The output element type
// of each operator must equal the input element type of the next; a
// closed pipeline runs void to void, while a fragment may start or end in
// bytes or events.
//
// Pipeline itself implements Operator, so pipelines nest; the executor
// flattens nested pipelines before spawning nodes.
type Pipeline struct {
	ops []Operator
}

// NewPipeline composes operators into a pipeline. Type compatibility is
// checked by CheckType, not at construction, so fragments can be built
// incrementally.
func NewPipeline(ops ...Operator) *Pipeline {
	for _, op := range ops {
		invariant.NotNil(op, "operator")
	}
	return &Pipeline{ops: append([]Operator(nil), ops...)}
}

// Operators returns the operator sequence. Callers must not mutate it.
func (p *Pipeline) Operators() []Operator { return p.ops }

// Len returns the number of operators.
func (p *Pipeline) Len() int { return len(p.ops) }

// Prepend inserts an operator at the front.
func (p *Pipeline) Prepend(op Operator) {
	invariant.NotNil(op, "operator")
	p.ops = append([]Operator{op}, p.ops...)
}

// Append adds an operator at the back.
func (p *Pipeline) Append(op Operator) {
	invariant.NotNil(op, "operator")
	p.ops = append(p.ops, op)
}

// Unwrap flattens the pipeline: nested pipeline operators are replaced by
// their contents, recursively. The receiver is unchanged.
func (p *Pipeline) Unwrap() []Operator {
	var out []Operator
	for _, op := range p.ops {
		if nested, ok := op.(*Pipeline); ok {
			out = append(out, nested.Unwrap()...)
			continue
		}
		out = append(out, op)
	}
	return out
}

// Flattened returns a new pipeline with all nesting removed.
func (p *Pipeline) Flattened() *Pipeline {
	return &Pipeline{ops: p.Unwrap()}
}

// CheckType verifies that the operator chain reduces in to out. On
// failure it returns a type-mismatch diagnostic naming the first
// offending operator and carrying its span in the pipeline's defining
// text.
func (p *Pipeline) CheckType(in, out element.Type) error {
	cur := in
	for i, op := range p.ops {
		next, err := op.InferType(cur)
		if err != nil {
			if d, ok := err.(diag.Diagnostic); ok {
				d.Annotations = append(d.Annotations, diag.Annotation{
					Span:    p.OperatorSpan(i),
					Primary: true,
					Text:    "this operator",
				})
				return d
			}
			return err
		}
		cur = next
	}
	if cur != out {
		return diag.Error("pipeline produces %s, expected %s", cur, out).
			Kind(diag.KindTypeMismatch).
			Done()
	}
	return nil
}

// InferType implements Operator: the chain's output type for an input
// type.
func (p *Pipeline) InferType(in element.Type) (element.Type, error) {
	cur := in
	for _, op := range p.ops {
		next, err := op.InferType(cur)
		if err != nil {
			return 0, err
		}
		cur = next
	}
	return cur, nil
}

// Name implements Operator.
func (p *Pipeline) Name() string { return "pipeline" }

// Location implements Operator: a pipeline has no placement of its own.
func (p *Pipeline) Location() Location { return Anywhere }

// Detached implements Operator.
func (p *Pipeline) Detached() bool { return false }

// Internal implements Operator.
func (p *Pipeline) Internal() bool { return false }

// Optimize implements Operator conservatively. The optimization pass
// flattens pipelines before walking them, so a nested pipeline only sees
// this when embedded unflattened, where blocking is the sound answer.
func (p *Pipeline) Optimize(expr.Predicate, Order) OptimizeResult {
	return DoNotOptimize()
}

// Instantiate implements Operator. Nested pipelines do not run directly;
// the executor flattens them into their operators first.
func (p *Pipeline) Instantiate(Input, Control) (Generator, error) {
	return nil, diag.Error("nested pipeline must be flattened before instantiation").
		Kind(diag.KindInternalInvariant).
		Done()
}

// String renders the pipeline's defining text: the operators' definition
// texts joined by " | ". OperatorSpan depends on this layout.
func (p *Pipeline) String() string {
	parts := make([]string, len(p.ops))
	for i, op := range p.ops {
		parts[i] = op.String()
	}
	return strings.Join(parts, " | ")
}

// OperatorSpan returns the offset range of operator i inside String().
func (p *Pipeline) OperatorSpan(i int) diag.Span {
	invariant.InRange(i, 0, len(p.ops)-1, "operator index")
	offset := 0
	for j := 0; j < i; j++ {
		offset += len(p.ops[j].String()) + len(" | ")
	}
	return diag.Span{Begin: offset, End: offset + len(p.ops[i].String())}
}
