package invariant_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stromdata/strom/core/invariant"
)

// expectPanic runs fn and fails the test unless it panics; the panic
// message is returned for inspection.
func expectPanic(t *testing.T, fn func()) (msg string) {
	t.Helper()
	defer func() {
		t.Helper()
		r := recover()
		if r == nil {
			t.Fatal("expected a panic")
		}
		msg, _ = r.(string)
	}()
	fn()
	return ""
}

func TestPrecondition_PassesWhenTrue(t *testing.T) {
	invariant.Precondition(true, "should not fire")
}

func TestPrecondition_PanicsWithKindAndLocation(t *testing.T) {
	msg := expectPanic(t, func() {
		invariant.Precondition(false, "credit must be positive, got %d", -1)
	})
	if !strings.Contains(msg, "PRECONDITION VIOLATION") {
		t.Errorf("message %q missing violation kind", msg)
	}
	if !strings.Contains(msg, "credit must be positive, got -1") {
		t.Errorf("message %q missing formatted text", msg)
	}
	if !strings.Contains(msg, "invariant_test.go") {
		t.Errorf("message %q missing caller location", msg)
	}
}

func TestInvariant_PanicsWhenFalse(t *testing.T) {
	msg := expectPanic(t, func() {
		invariant.Invariant(1 == 2, "column count mismatch")
	})
	if !strings.Contains(msg, "INVARIANT VIOLATION") {
		t.Errorf("message %q missing violation kind", msg)
	}
}

func TestNotNil_DetectsTypedNil(t *testing.T) {
	type batch struct{}
	var b *batch
	expectPanic(t, func() {
		invariant.NotNil(b, "batch")
	})
}

func TestNotNil_AcceptsValue(t *testing.T) {
	invariant.NotNil(struct{}{}, "value")
}

func TestInRange_Boundaries(t *testing.T) {
	invariant.InRange(0, 0, 4, "index")
	invariant.InRange(4, 0, 4, "index")
	expectPanic(t, func() {
		invariant.InRange(5, 0, 4, "index")
	})
}

func TestExpectNoError(t *testing.T) {
	invariant.ExpectNoError(nil, "must pass")
	expectPanic(t, func() {
		invariant.ExpectNoError(errors.New("boom"), "must fail")
	})
}

func TestUnreachable_AlwaysPanics(t *testing.T) {
	msg := expectPanic(t, func() {
		invariant.Unreachable("unknown enum value %d", 42)
	})
	if !strings.Contains(msg, "UNREACHABLE") {
		t.Errorf("message %q missing violation kind", msg)
	}
}
