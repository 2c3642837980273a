// Package registry holds the operator factory table. The table is built
// once at startup, frozen, and then shared read-only through a session
// value - there is no mutable global state.
package registry

import (
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/invariant"
	"github.com/stromdata/strom/core/operator"
)

// Invocation is one parsed operator occurrence: the name, its arguments,
// and the span of the occurrence in the pipeline's defining text. The
// surface parser (a collaborator) produces invocations; the registry
// turns them into operators.
type Invocation struct {
	Name string
	Args map[string]any
	Span diag.Span
}

// Factory builds an operator from an invocation. A returned error is
// reported as a parse-error diagnostic carrying the invocation's span,
// unless it already is a diag.Diagnostic, which is passed on unchanged.
type Factory func(inv Invocation, sess Session) (operator.Operator, error)

// Registry is a frozen name-to-factory table.
type Registry struct {
	factories map[string]Factory
}

// Builder accumulates registrations before the registry freezes.
type Builder struct {
	factories map[string]Factory
	frozen    bool
}

// NewBuilder starts an empty registration table.
func NewBuilder() *Builder {
	return &Builder{factories: make(map[string]Factory)}
}

// Register adds a factory under a name. Registering a duplicate name or
// registering after Freeze is a programming error.
func (b *Builder) Register(name string, f Factory) *Builder {
	invariant.Precondition(!b.frozen, "registry is frozen")
	invariant.Precondition(name != "", "operator name must not be empty")
	invariant.NotNil(f, "factory")
	_, dup := b.factories[name]
	invariant.Precondition(!dup, "operator %q registered twice", name)
	b.factories[name] = f
	return b
}

// Freeze seals the table. The builder is unusable afterwards; the
// returned registry is safe for concurrent readers.
func (b *Builder) Freeze() *Registry {
	invariant.Precondition(!b.frozen, "registry already frozen")
	b.frozen = true
	r := &Registry{factories: b.factories}
	b.factories = nil
	return r
}

// Names returns the registered operator names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Session carries the process-scoped state an operator factory may
// consult: the registry itself and the deployment's safety switches.
type Session struct {
	Registry             *Registry
	AllowUnsafePipelines bool
}

// Make resolves and invokes the factory for an invocation. An unknown
// name yields a lookup-error diagnostic; a factory failure yields a
// parse-error diagnostic. Both carry the invocation's span. A factory
// error that is already a diag.Diagnostic is returned as it is, with its
// own kind and annotations.
func (r *Registry) Make(inv Invocation, sess Session) (operator.Operator, *diag.Diagnostic) {
	f, ok := r.factories[inv.Name]
	if !ok {
		b := diag.Error("operator %q does not exist", inv.Name).
			Kind(diag.KindLookupError).
			Primary(inv.Span, "unknown operator")
		if closest := findClosestMatch(inv.Name, r.Names()); closest != "" {
			b.Hint("did you mean %q?", closest)
		}
		b.Hint("run 'strom ops' to list registered operators")
		d := b.Done()
		return nil, &d
	}
	op, err := f(inv, sess)
	if err != nil {
		if d, ok := err.(diag.Diagnostic); ok {
			return nil, &d
		}
		d := diag.Error("failed to parse operator %q: %v", inv.Name, err).
			Kind(diag.KindParseError).
			Primary(inv.Span, "invalid invocation").
			Done()
		return nil, &d
	}
	return op, nil
}

// findClosestMatch finds the closest registered name using fuzzy matching
func findClosestMatch(target string, candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	ranks := fuzzy.RankFindFold(target, candidates)
	if len(ranks) == 0 {
		return ""
	}
	sort.Sort(ranks)
	return ranks[0].Target
}
