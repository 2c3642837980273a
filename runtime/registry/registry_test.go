package registry_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stromdata/strom/core/diag"
	"github.com/stromdata/strom/core/operator"
	"github.com/stromdata/strom/runtime/operators"
	"github.com/stromdata/strom/runtime/registry"
)

func TestMake_ResolvesRegisteredOperator(t *testing.T) {
	reg := registry.NewBuilder().
		Register("pass", func(registry.Invocation, registry.Session) (operator.Operator, error) {
			return operators.NewPass(), nil
		}).
		Freeze()

	op, d := reg.Make(registry.Invocation{Name: "pass"}, registry.Session{Registry: reg})
	require.Nil(t, d)
	assert.Equal(t, "pass", op.Name())
}

func TestMake_UnknownOperatorIsLookupError(t *testing.T) {
	reg := registry.NewBuilder().Freeze()
	span := diag.Span{Begin: 3, End: 12}

	op, d := reg.Make(registry.Invocation{Name: "frobnicate", Span: span}, registry.Session{Registry: reg})
	require.Nil(t, op)
	require.NotNil(t, d)
	assert.Equal(t, diag.KindLookupError, d.Kind)
	require.NotEmpty(t, d.Annotations)
	assert.Equal(t, span, d.Annotations[0].Span)
}

func TestMake_UnknownOperatorSuggestsClosestName(t *testing.T) {
	reg := operators.RegisterBuiltins(registry.NewBuilder()).Freeze()

	_, d := reg.Make(registry.Invocation{Name: "wher"}, registry.Session{Registry: reg})
	require.NotNil(t, d)
	assert.Equal(t, diag.KindLookupError, d.Kind)
	require.NotEmpty(t, d.Notes)
	assert.Contains(t, d.Notes[0].Message, `did you mean "where"?`)
}

func TestMake_NoSuggestionWithoutCloseMatch(t *testing.T) {
	reg := registry.NewBuilder().Freeze()

	_, d := reg.Make(registry.Invocation{Name: "frobnicate"}, registry.Session{Registry: reg})
	require.NotNil(t, d)
	for _, note := range d.Notes {
		assert.NotContains(t, note.Message, "did you mean")
	}
}

func TestMake_FactoryErrorIsParseError(t *testing.T) {
	reg := registry.NewBuilder().
		Register("bad", func(registry.Invocation, registry.Session) (operator.Operator, error) {
			return nil, fmt.Errorf("missing argument")
		}).
		Freeze()

	op, d := reg.Make(registry.Invocation{Name: "bad"}, registry.Session{Registry: reg})
	require.Nil(t, op)
	require.NotNil(t, d)
	assert.Equal(t, diag.KindParseError, d.Kind)
	assert.Contains(t, d.Message, "missing argument")
}

func TestBuilder_RejectsDuplicateRegistration(t *testing.T) {
	b := registry.NewBuilder().
		Register("pass", func(registry.Invocation, registry.Session) (operator.Operator, error) {
			return operators.NewPass(), nil
		})
	defer func() {
		if recover() == nil {
			t.Fatal("expected duplicate registration to panic")
		}
	}()
	b.Register("pass", func(registry.Invocation, registry.Session) (operator.Operator, error) {
		return operators.NewPass(), nil
	})
}

func TestBuilder_FrozenRejectsRegistration(t *testing.T) {
	b := registry.NewBuilder()
	b.Freeze()
	defer func() {
		if recover() == nil {
			t.Fatal("expected registration after freeze to panic")
		}
	}()
	b.Register("late", func(registry.Invocation, registry.Session) (operator.Operator, error) {
		return operators.NewPass(), nil
	})
}

func TestNames_SortedListing(t *testing.T) {
	reg := operators.RegisterBuiltins(registry.NewBuilder()).Freeze()
	names := reg.Names()
	assert.Contains(t, names, "where")
	assert.Contains(t, names, "values")
	assert.Contains(t, names, "local")
	for i := 1; i < len(names); i++ {
		assert.LessOrEqual(t, names[i-1], names[i])
	}
}
