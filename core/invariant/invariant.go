// Package invariant provides contract assertions for strom.
//
// Assertions guard the engine's internal invariants: batch shape, edge
// accounting, state-machine transitions. All functions panic on violation -
// these are programming errors, not user errors, and they are never
// recovered into diagnostics. The panic message carries the call site so a
// violation inside a running pipeline can be traced without a debugger.
package invariant

import (
	"fmt"
	"reflect"
	"runtime"
)

// Precondition checks an input contract at function entry.
// Panics with PRECONDITION VIOLATION if condition is false.
//
// Example:
//
//	func NewEvents(cols []schema.Array) Events {
//	    invariant.Precondition(len(cols) > 0, "events batch needs columns")
//	    // ... work ...
//	}
func Precondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition checks an output contract before function return.
// Panics with POSTCONDITION VIOLATION if condition is false.
func Postcondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant checks an internal invariant during function execution.
// Panics with INVARIANT VIOLATION if condition is false.
//
// Use this for state consistency: column counts, credit accounting,
// state-machine transitions.
func Invariant(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including typed nils such as (*T)(nil)
// hiding behind an interface.
func NotNil(value interface{}, name string) {
	if value == nil || isNilValue(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

// InRange panics if value is outside [minVal, maxVal].
func InRange(value, minVal, maxVal int, name string) {
	if value < minVal || value > maxVal {
		fail("PRECONDITION", "%s must be in range [%d, %d], got %d",
			name, minVal, maxVal, value)
	}
}

// ExpectNoError panics if err is not nil. Use for operations whose failure
// would mean a corrupted engine state rather than a user-facing problem.
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s must not fail: %v", msg, err)
	}
}

// Unreachable marks a code path that must never execute, such as the
// default arm of a switch over a closed enumeration.
func Unreachable(format string, args ...interface{}) {
	fail("UNREACHABLE", format, args...)
}

func isNilValue(value interface{}) bool {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// fail panics with the violation kind, the formatted message, and the
// caller's source location two frames up (the assertion's own caller).
func fail(kind, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if _, file, line, ok := runtime.Caller(2); ok {
		panic(fmt.Sprintf("%s VIOLATION: %s (at %s:%d)", kind, msg, file, line))
	}
	panic(fmt.Sprintf("%s VIOLATION: %s", kind, msg))
}
