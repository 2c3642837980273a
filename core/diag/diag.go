// Package diag defines the structured diagnostics a pipeline surfaces to
// its user: severity, message, source spans into the pipeline's defining
// text, ordered annotations and notes, plus the error-kind taxonomy the
// engine classifies failures with.
package diag

import (
	"fmt"
	"strings"
	"sync"
)

// Severity of a diagnostic. An error diagnostic is fatal to the pipeline.
type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	}
	return fmt.Sprintf("severity(%d)", int(s))
}

// Kind classifies a diagnostic per the engine's error taxonomy.
type Kind int

const (
	// KindNone marks a diagnostic without a taxonomy classification.
	KindNone Kind = iota
	// KindTypeMismatch: adjacent operators disagree on element type, or an
	// operator rejects its input type. Reported at build time.
	KindTypeMismatch
	// KindParseError: an operator factory rejected its invocation.
	KindParseError
	// KindLookupError: a referenced operator or node component is missing.
	KindLookupError
	// KindInvalidConfiguration: the deployment disallows a requested
	// capability, such as an explicit location override.
	KindInvalidConfiguration
	// KindRuntimeWarning: a recoverable condition inside an operator.
	KindRuntimeWarning
	// KindRuntimeError: an unrecoverable condition inside an operator.
	KindRuntimeError
	// KindCancelled: downstream closed or a stop was requested. Not an
	// error; nodes exit cleanly.
	KindCancelled
	// KindInternalInvariant: a core invariant was violated. Fatal and
	// never downgraded.
	KindInternalInvariant
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindTypeMismatch:
		return "type-mismatch"
	case KindParseError:
		return "parse-error"
	case KindLookupError:
		return "lookup-error"
	case KindInvalidConfiguration:
		return "invalid-configuration"
	case KindRuntimeWarning:
		return "runtime-warning"
	case KindRuntimeError:
		return "runtime-error"
	case KindCancelled:
		return "cancelled"
	case KindInternalInvariant:
		return "internal-invariant"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Span is an offset range into the pipeline's defining text.
type Span struct {
	Begin int
	End   int
}

// Valid reports whether the span points anywhere.
func (s Span) Valid() bool { return s.End > s.Begin || s.Begin > 0 }

// Annotation ties a span of the defining text to a diagnostic. The
// primary annotation marks where the problem is; secondary ones add
// context.
type Annotation struct {
	Span    Span
	Primary bool
	Text    string
}

// Note is free-form supplementary text on a diagnostic.
type Note struct {
	Kind    string // "note", "usage", "hint"
	Message string
}

// Diagnostic is a structured user-visible message.
type Diagnostic struct {
	Severity    Severity
	Kind        Kind
	Message     string
	Annotations []Annotation
	Notes       []Note
}

// Error implements the error interface so fatal diagnostics travel as
// errors through the runtime.
func (d Diagnostic) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", d.Severity, d.Message)
	if d.Kind != KindNone {
		fmt.Fprintf(&b, " [%s]", d.Kind)
	}
	return b.String()
}

// Builder assembles a diagnostic fluently:
//
//	diag.Error("unknown operator %q", name).
//	    Primary(span, "not registered").
//	    Note("run 'strom ops' to list operators").
//	    Done()
type Builder struct {
	d Diagnostic
}

// Error starts an error diagnostic.
func Error(format string, args ...any) *Builder {
	return &Builder{d: Diagnostic{Severity: SeverityError, Message: fmt.Sprintf(format, args...)}}
}

// Warning starts a warning diagnostic.
func Warning(format string, args ...any) *Builder {
	return &Builder{d: Diagnostic{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}}
}

// NoteDiag starts a note diagnostic.
func NoteDiag(format string, args ...any) *Builder {
	return &Builder{d: Diagnostic{Severity: SeverityNote, Message: fmt.Sprintf(format, args...)}}
}

// Kind sets the taxonomy kind.
func (b *Builder) Kind(k Kind) *Builder {
	b.d.Kind = k
	return b
}

// Primary attaches the primary annotation.
func (b *Builder) Primary(span Span, format string, args ...any) *Builder {
	b.d.Annotations = append(b.d.Annotations,
		Annotation{Span: span, Primary: true, Text: fmt.Sprintf(format, args...)})
	return b
}

// Secondary attaches a secondary annotation.
func (b *Builder) Secondary(span Span, format string, args ...any) *Builder {
	b.d.Annotations = append(b.d.Annotations,
		Annotation{Span: span, Text: fmt.Sprintf(format, args...)})
	return b
}

// Note attaches a note.
func (b *Builder) Note(format string, args ...any) *Builder {
	b.d.Notes = append(b.d.Notes, Note{Kind: "note", Message: fmt.Sprintf(format, args...)})
	return b
}

// Hint attaches a hint note.
func (b *Builder) Hint(format string, args ...any) *Builder {
	b.d.Notes = append(b.d.Notes, Note{Kind: "hint", Message: fmt.Sprintf(format, args...)})
	return b
}

// Done returns the assembled diagnostic.
func (b *Builder) Done() Diagnostic { return b.d }

// Handler is a sink for diagnostics. Emitting an error-severity
// diagnostic is fatal to the pipeline that owns the handler. Handlers
// must serialize concurrent Emit calls.
type Handler interface {
	Emit(d Diagnostic)
	HasSeenError() bool
}

// Collector is a Handler that retains every diagnostic, in emission
// order. Safe for concurrent producers.
type Collector struct {
	mu    sync.Mutex
	diags []Diagnostic
	err   bool
}

// NewCollector returns an empty collector.
func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Emit(d Diagnostic) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.diags = append(c.diags, d)
	if d.Severity == SeverityError {
		c.err = true
	}
}

func (c *Collector) HasSeenError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// All returns a copy of the collected diagnostics.
func (c *Collector) All() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Diagnostic(nil), c.diags...)
}

// FirstError returns the first error-severity diagnostic, if any.
func (c *Collector) FirstError() (Diagnostic, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.diags {
		if d.Severity == SeverityError {
			return d, true
		}
	}
	return Diagnostic{}, false
}

// Warnings returns the warning-severity diagnostics in emission order.
func (c *Collector) Warnings() []Diagnostic {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Diagnostic
	for _, d := range c.diags {
		if d.Severity == SeverityWarning {
			out = append(out, d)
		}
	}
	return out
}
