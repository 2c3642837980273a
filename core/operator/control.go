package operator

import (
	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/metrics"
	"github.com/stromdata/strom/core/schema"
)

// NodeDirectory looks up collaborator components by symbolic name -
// storage, catalog, importer. The engine treats the handles opaquely and
// only forwards them.
type NodeDirectory interface {
	Lookup(name string) (any, bool)
}

// NodeRef addresses the execution node running the operator. Background
// tasks spawned by the operator use it to deliver external events: Wake
// clears the waiting flag and reschedules the node.
type NodeRef interface {
	Wake()
}

// Control is the per-execution-node facade passed to Instantiate. It is
// borrowed by the running instance; operators must not retain it past the
// end of their generator, except through SharedDiagnostics.
type Control interface {
	// Diagnostics returns the diagnostic sink. Emitted diagnostics carry
	// the operator's source span automatically; emitting an error is
	// fatal to the pipeline.
	Diagnostics() diag.Handler
	// SharedDiagnostics returns a handle to the same sink that remains
	// valid in background goroutines spawned by the operator.
	SharedDiagnostics() diag.Handler
	// Metrics returns a typed emitter for the declared metric schema.
	Metrics(sc *schema.Type) *metrics.Emitter
	// Node returns the directory of collaborator components.
	Node() NodeDirectory
	// Self returns a handle to the current execution node, used to
	// address replies from external collaborators.
	Self() NodeRef
	// SetWaiting advertises that the operator is blocked on external
	// I/O. After yielding with the flag set, the node is not rescheduled
	// until an external event wakes it; the operator is responsible for
	// arranging that wake-up.
	SetWaiting(waiting bool)
	// AllowUnsafePipelines reports whether the deployment permits
	// explicit location overrides.
	AllowUnsafePipelines() bool
	// Definition returns the defining text of the whole pipeline.
	Definition() string
	// PipelineID returns the identifier of the current run.
	PipelineID() string
	// OperatorIndex returns the operator's position in the pipeline.
	OperatorIndex() int
	// IsHidden reports whether the operator is excluded from
	// user-visible metrics.
	IsHidden() bool
}
