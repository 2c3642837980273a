package operators

import (
	"context"

	"github.com/stromdata/strom/core/element"
	"github.com/stromdata/strom/core/operator"
)

// Discard is a sink that consumes and drops its input. It accepts events
// or bytes and closes the pipeline with a void output.
type Discard struct {
	operator.Defaults
}

// NewDiscard returns the discarding sink.
func NewDiscard() *Discard { return &Discard{} }

func (*Discard) Name() string   { return "discard" }
func (*Discard) String() string { return "discard" }

func (d *Discard) InferType(in element.Type) (element.Type, error) {
	if in == element.Void {
		return 0, operator.TypeError(d.Name(), in, "events or bytes")
	}
	return element.Void, nil
}

func (*Discard) Instantiate(input operator.Input, _ operator.Control) (operator.Generator, error) {
	return operator.GeneratorFunc(func(ctx context.Context) (operator.Step, error) {
		_, ok := input.Pull(ctx)
		if !ok {
			return operator.Done(), nil
		}
		return operator.Tick(element.Void), nil
	}), nil
}
