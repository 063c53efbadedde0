package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/effigy-dev/effigy/vm"
)

func TestCellCopiesOnReadAndWrite(t *testing.T) {
	cell := &Cell{}
	require.Equal(t, vm.None, cell.Get())

	stored := vm.ArrayValue{vm.IntValue(1), vm.IntValue(2)}
	cell.Set(stored)

	// Mutating the value we stored must not reach the cell.
	stored[0] = vm.IntValue(99)
	require.Equal(t, vm.ArrayValue{vm.IntValue(1), vm.IntValue(2)}, cell.Get())

	// Mutating the value we read out must not reach the cell either.
	read := cell.Get().(vm.ArrayValue)
	read[1] = vm.IntValue(99)
	require.Equal(t, vm.ArrayValue{vm.IntValue(1), vm.IntValue(2)}, cell.Get())
}

func TestCellUpdate(t *testing.T) {
	cell := &Cell{}
	cell.Set(vm.IntValue(10))
	cell.Update(func(v vm.Value) vm.Value {
		return vm.IntValue(int64(v.(vm.IntValue)) + 5)
	})
	require.Equal(t, vm.IntValue(15), cell.Get())
}

func TestInstallationsDoNotShareInitialValue(t *testing.T) {
	h := &Handler{
		Effect:  "tally",
		Direct:  map[string]DirectClause{"bump": nil},
		Initial: vm.ArrayValue{},
	}
	a := newInstallation(h)
	b := newInstallation(h)
	require.NotEqual(t, a.ID, b.ID)

	a.Cell.Update(func(v vm.Value) vm.Value {
		return append(v.(vm.ArrayValue), vm.IntValue(1))
	})
	require.Equal(t, vm.ArrayValue{vm.IntValue(1)}, a.Cell.Get())
	require.Equal(t, vm.ArrayValue{}, b.Cell.Get())
}

func TestInstallationLifecycle(t *testing.T) {
	h := &Handler{Effect: "tally", Direct: map[string]DirectClause{"bump": nil}}
	inst := newInstallation(h)
	require.True(t, inst.Alive())

	require.True(t, inst.markUsed())
	require.False(t, inst.markUsed(), "an installation runs at most once")

	inst.Close()
	require.False(t, inst.Alive())
	inst.Close() // idempotent
	require.False(t, inst.Alive())

	// The cell survives the close so callers can inspect final state.
	inst.Cell.Set(vm.IntValue(7))
	require.Equal(t, vm.IntValue(7), inst.Cell.Get())
}

func TestScopeFindsInnermost(t *testing.T) {
	h := &Handler{Effect: "tally", Direct: map[string]DirectClause{"bump": nil}}
	outer := newInstallation(h)
	inner := newInstallation(h)

	s := NewScope()
	require.Equal(t, 0, s.Len())

	s = s.Push(outer).Push(inner)
	require.Equal(t, 2, s.Len())

	got, ok := s.Find("bump")
	require.True(t, ok)
	require.Same(t, inner, got)

	popped := s.Pop()
	got, ok = popped.Find("bump")
	require.True(t, ok)
	require.Same(t, outer, got)

	// Scopes are persistent: the pop did not disturb the original.
	got, ok = s.Find("bump")
	require.True(t, ok)
	require.Same(t, inner, got)

	_, ok = s.Find("unrelated")
	require.False(t, ok)
}
