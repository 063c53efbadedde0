package interp

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/effigy-dev/effigy/effect"
	"github.com/effigy-dev/effigy/vm"
)

func compileWith(t *testing.T, reg *effect.Registry, src string) *vm.Program {
	t.Helper()
	prg, err := vm.CompileLiteralWithOptions(src, &vm.CompileOptions{Operations: reg.Arities()})
	require.NoError(t, err)
	return prg
}

func TestCallPlainFunctions(t *testing.T) {
	src := `
def fact(n):
	if n <= 1:
		return 1
	return n * fact(n - 1)

def total(xs):
	t = 0
	for x in xs:
		t = t + x
	return t
`
	prg, err := vm.CompileLiteral(src)
	require.NoError(t, err)
	m := NewMachine(prg, effect.NewRegistry())

	out, err := m.Call("fact", vm.IntValue(5))
	require.NoError(t, err)
	require.Equal(t, vm.IntValue(120), out)

	out, err = m.Call("total", vm.ArrayValue{vm.IntValue(1), vm.IntValue(2), vm.IntValue(3)})
	require.NoError(t, err)
	require.Equal(t, vm.IntValue(6), out)
}

func TestCallBuiltinsAndMethods(t *testing.T) {
	src := `
def grow(xs):
	return xs.append(len(xs))

def upto(n):
	out = []
	for i in range(n):
		out = out + [i]
	return out
`
	prg, err := vm.CompileLiteral(src)
	require.NoError(t, err)
	m := NewMachine(prg, effect.NewRegistry())

	out, err := m.Call("grow", vm.ArrayValue{vm.IntValue(7)})
	require.NoError(t, err)
	require.Equal(t, vm.ArrayValue{vm.IntValue(7), vm.IntValue(1)}, out)

	out, err = m.Call("upto", vm.IntValue(3))
	require.NoError(t, err)
	require.Equal(t, vm.ArrayValue{vm.IntValue(0), vm.IntValue(1), vm.IntValue(2)}, out)
}

func TestInstallValidation(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("state", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)
	_, err = reg.Declare("io", effect.Op("emit", 1))
	require.NoError(t, err)

	prg, err := vm.CompileLiteral("def noop():\n\treturn None\n")
	require.NoError(t, err)
	m := NewMachine(prg, reg)

	_, err = m.Install(nil)
	require.Error(t, err)

	_, err = m.Install(&Handler{Effect: "mystery"})
	require.ErrorContains(t, err, "undeclared effect")

	_, err = m.Install(&Handler{
		Effect:  "state",
		Direct:  map[string]DirectClause{"get": nil},
		Control: map[string]ControlClause{"get": nil},
	})
	require.ErrorContains(t, err, "both a direct and a control clause")

	_, err = m.Install(&Handler{
		Effect: "state",
		Direct: map[string]DirectClause{"emit": nil},
	})
	require.ErrorContains(t, err, "does not belong to effect")

	inst, err := m.Install(&Handler{
		Effect: "state",
		Direct: map[string]DirectClause{"get": nil, "put": nil},
	})
	require.NoError(t, err)
	require.True(t, inst.Alive())
}

func stateHandler(initial vm.Value) *Handler {
	return &Handler{
		Effect: "state",
		Direct: map[string]DirectClause{
			"get": func(cell *Cell, args []vm.Value) (vm.Value, error) {
				return cell.Get(), nil
			},
			"put": func(cell *Cell, args []vm.Value) (vm.Value, error) {
				cell.Set(args[0])
				return vm.None, nil
			},
		},
		Initial: initial,
	}
}

func TestDirectClauses(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("state", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)

	src := `
def swap(v):
	old = get()
	put(v)
	return old
`
	m := NewMachine(compileWith(t, reg, src), reg)
	inst, err := m.Install(stateHandler(vm.IntValue(1)))
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "swap", vm.IntValue(5))
	require.NoError(t, err)
	require.Equal(t, vm.IntValue(1), out)
	require.Equal(t, vm.IntValue(5), inst.Cell.Get())
}

func TestInnermostInstallationWins(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("state", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)

	src := `
def poke():
	put(9)
	return get()
`
	m := NewMachine(compileWith(t, reg, src), reg)
	h := stateHandler(vm.IntValue(0))
	outer, err := m.Install(h)
	require.NoError(t, err)
	inner, err := m.Install(h)
	require.NoError(t, err)

	out, err := m.RunUnderAll([]*Installation{outer, inner}, "poke")
	require.NoError(t, err)
	require.Equal(t, vm.IntValue(9), out)
	require.Equal(t, vm.IntValue(9), inner.Cell.Get())
	require.Equal(t, vm.IntValue(0), outer.Cell.Get(), "the shadowed cell must not change")
}

func TestReturnClauseOnNormalCompletion(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("state", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)

	src := `
def story():
	put("world")
	return "hello"
`
	m := NewMachine(compileWith(t, reg, src), reg)
	h := stateHandler(vm.StrValue("start"))
	h.Return = func(cell *Cell, v vm.Value) (vm.Value, error) {
		return vm.StructValue{"result": v, "state": cell.Get()}, nil
	}
	inst, err := m.Install(h)
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "story")
	require.NoError(t, err)
	require.Equal(t, vm.StructValue{
		"result": vm.StrValue("hello"),
		"state":  vm.StrValue("world"),
	}, out)
}

func TestControlClauseSingleResume(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("reader", effect.Op("ask", 0))
	require.NoError(t, err)

	src := `
def compute():
	return ask() * 2
`
	m := NewMachine(compileWith(t, reg, src), reg)
	inst, err := m.Install(&Handler{
		Effect: "reader",
		Control: map[string]ControlClause{
			"ask": func(cell *Cell, args []vm.Value, k *Continuation) (vm.Value, error) {
				return k.Resume(vm.IntValue(21))
			},
		},
	})
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "compute")
	require.NoError(t, err)
	require.Equal(t, vm.IntValue(42), out)
}

func TestControlClauseZeroResumeDiscardsRest(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("abort", effect.Op("halt", 1))
	require.NoError(t, err)

	src := `
def risky():
	halt("nope")
	return "unreachable"
`
	m := NewMachine(compileWith(t, reg, src), reg)
	inst, err := m.Install(&Handler{
		Effect: "abort",
		Control: map[string]ControlClause{
			"halt": func(cell *Cell, args []vm.Value, k *Continuation) (vm.Value, error) {
				return vm.StrValue("stopped: " + string(args[0].(vm.StrValue))), nil
			},
		},
	})
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "risky")
	require.NoError(t, err)
	require.Equal(t, vm.StrValue("stopped: nope"), out)
}

func chooserHandler(weights []int64) *Handler {
	return &Handler{
		Effect: "nondet",
		Control: map[string]ControlClause{
			"choose": func(cell *Cell, args []vm.Value, k *Continuation) (vm.Value, error) {
				limit := int64(args[0].(vm.IntValue))
				out := vm.ArrayValue{}
				for _, w := range weights {
					if w > limit {
						continue
					}
					res, err := k.Resume(vm.IntValue(w))
					if err != nil {
						return nil, err
					}
					out = append(out, res.(vm.ArrayValue)...)
				}
				return out, nil
			},
		},
	}
}

const knapsackSrc = `
def solve(budget, acc):
	if budget == 0:
		return [acc]
	w = choose(budget)
	return solve(budget - w, acc + [w])
`

func TestMultiShotKnapsack(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("nondet", effect.Op("choose", 1))
	require.NoError(t, err)

	m := NewMachine(compileWith(t, reg, knapsackSrc), reg)
	inst, err := m.Install(chooserHandler([]int64{3, 2, 1}))
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "solve", vm.IntValue(3), vm.ArrayValue{})
	require.NoError(t, err)
	require.Equal(t, vm.ArrayValue{
		vm.ArrayValue{vm.IntValue(3)},
		vm.ArrayValue{vm.IntValue(2), vm.IntValue(1)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(2)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(1), vm.IntValue(1)},
	}, out)
}

func TestResumptionsShareTargetCell(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("amb", effect.Op("flip", 0), effect.Op("mark", 1))
	require.NoError(t, err)

	src := `
def observe():
	x = flip()
	mark(x)
	return [x]
`
	m := NewMachine(compileWith(t, reg, src), reg)
	inst, err := m.Install(&Handler{
		Effect: "amb",
		Direct: map[string]DirectClause{
			"mark": func(cell *Cell, args []vm.Value) (vm.Value, error) {
				cell.Update(func(v vm.Value) vm.Value {
					return append(v.(vm.ArrayValue), args[0])
				})
				return vm.None, nil
			},
		},
		Control: map[string]ControlClause{
			"flip": func(cell *Cell, args []vm.Value, k *Continuation) (vm.Value, error) {
				yes, err := k.Resume(vm.BoolTrue)
				if err != nil {
					return nil, err
				}
				no, err := k.Resume(vm.BoolFalse)
				if err != nil {
					return nil, err
				}
				return append(yes.(vm.ArrayValue), no.(vm.ArrayValue)...), nil
			},
		},
		Initial: vm.ArrayValue{},
	})
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "observe")
	require.NoError(t, err)
	require.Equal(t, vm.ArrayValue{vm.BoolTrue, vm.BoolFalse}, out)

	// Both resumptions wrote to the one cell, in invocation order.
	require.Equal(t, vm.ArrayValue{vm.BoolTrue, vm.BoolFalse}, inst.Cell.Get())
}

func counterHandler() *Handler {
	return &Handler{
		Effect: "count",
		Direct: map[string]DirectClause{
			"tick": func(cell *Cell, args []vm.Value) (vm.Value, error) {
				cell.Update(func(v vm.Value) vm.Value {
					return vm.IntValue(int64(v.(vm.IntValue)) + 1)
				})
				return cell.Get(), nil
			},
		},
		Initial: vm.IntValue(0),
	}
}

const countedKnapsackSrc = `
def hunt(budget, acc):
	n = tick()
	if budget == 0:
		return [acc + [n]]
	w = choose(budget)
	return hunt(budget - w, acc + [w])
`

func declareCountAndNondet(t *testing.T) *effect.Registry {
	t.Helper()
	reg := effect.NewRegistry()
	_, err := reg.Declare("nondet", effect.Op("choose", 1))
	require.NoError(t, err)
	_, err = reg.Declare("count", effect.Op("tick", 0))
	require.NoError(t, err)
	return reg
}

func TestCounterOutsideChooserCountsGlobally(t *testing.T) {
	reg := declareCountAndNondet(t)
	m := NewMachine(compileWith(t, reg, countedKnapsackSrc), reg)

	counter, err := m.Install(counterHandler())
	require.NoError(t, err)
	chooser, err := m.Install(chooserHandler([]int64{3, 2, 1}))
	require.NoError(t, err)

	// Counter outermost: its marker stays below every capture, so all
	// branches tick the same cell.
	out, err := m.RunUnderAll([]*Installation{counter, chooser}, "hunt", vm.IntValue(3), vm.ArrayValue{})
	require.NoError(t, err)
	require.Equal(t, vm.ArrayValue{
		vm.ArrayValue{vm.IntValue(3), vm.IntValue(2)},
		vm.ArrayValue{vm.IntValue(2), vm.IntValue(1), vm.IntValue(4)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(2), vm.IntValue(6)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(1), vm.IntValue(1), vm.IntValue(8)},
	}, out)
	require.Equal(t, vm.IntValue(8), counter.Cell.Get())
}

func TestCounterInsideChooserResetsPerBranch(t *testing.T) {
	reg := declareCountAndNondet(t)
	m := NewMachine(compileWith(t, reg, countedKnapsackSrc), reg)

	chooser, err := m.Install(chooserHandler([]int64{3, 2, 1}))
	require.NoError(t, err)
	counter, err := m.Install(counterHandler())
	require.NoError(t, err)

	// Counter innermost: its marker is captured with each continuation
	// and re-installed fresh on every resumption, cell back to zero.
	out, err := m.RunUnderAll([]*Installation{chooser, counter}, "hunt", vm.IntValue(3), vm.ArrayValue{})
	require.NoError(t, err)
	require.Equal(t, vm.ArrayValue{
		vm.ArrayValue{vm.IntValue(3), vm.IntValue(1)},
		vm.ArrayValue{vm.IntValue(2), vm.IntValue(1), vm.IntValue(1)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(2), vm.IntValue(1)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(1), vm.IntValue(1), vm.IntValue(1)},
	}, out)

	// Only the initial call ticked the original installation.
	require.Equal(t, vm.IntValue(1), counter.Cell.Get())
}

func TestReturnClauseNestingOrder(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("outerwrap")
	require.NoError(t, err)
	_, err = reg.Declare("innerwrap")
	require.NoError(t, err)

	prg, err := vm.CompileLiteral("def body():\n\treturn \"x\"\n")
	require.NoError(t, err)
	m := NewMachine(prg, reg)

	wrap := func(label string) ReturnClause {
		return func(cell *Cell, v vm.Value) (vm.Value, error) {
			return vm.StrValue(label + "(" + string(v.(vm.StrValue)) + ")"), nil
		}
	}
	outer, err := m.Install(&Handler{Effect: "outerwrap", Return: wrap("o")})
	require.NoError(t, err)
	inner, err := m.Install(&Handler{Effect: "innerwrap", Return: wrap("i")})
	require.NoError(t, err)

	out, err := m.RunUnderAll([]*Installation{outer, inner}, "body")
	require.NoError(t, err)
	require.Equal(t, vm.StrValue("o(i(x))"), out)
}

func TestExpiredContinuation(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("escape", effect.Op("flee", 0))
	require.NoError(t, err)

	src := `
def leave():
	flee()
	return "back"
`
	m := NewMachine(compileWith(t, reg, src), reg)

	var escaped *Continuation
	inst, err := m.Install(&Handler{
		Effect: "escape",
		Control: map[string]ControlClause{
			"flee": func(cell *Cell, args []vm.Value, k *Continuation) (vm.Value, error) {
				escaped = k
				return vm.StrValue("gone"), nil
			},
		},
	})
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "leave")
	require.NoError(t, err)
	require.Equal(t, vm.StrValue("gone"), out)

	require.NotNil(t, escaped)
	_, err = escaped.Resume(vm.None)
	require.ErrorIs(t, err, effect.ErrExpiredContinuation)
	require.Equal(t, 0, escaped.Resumed())
}

func TestDispatchErrorTaxonomy(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("probes", effect.Op("probe", 0))
	require.NoError(t, err)

	src := `
def callUnknown():
	return perform("mystery")

def callUnhandled():
	return probe()

def callWrongArity():
	return perform("probe", 1, 2)
`
	m := NewMachine(compileWith(t, reg, src), reg)

	_, err = m.Call("callUnknown")
	require.ErrorIs(t, err, effect.ErrUnknownOperation)

	_, err = m.Call("callUnhandled")
	require.ErrorIs(t, err, effect.ErrUnhandledOperation)

	_, err = m.Call("callWrongArity")
	require.ErrorIs(t, err, effect.ErrBadArity)
}

func TestInstallationRunsAtMostOnce(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("state", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)

	src := "def read():\n\treturn get()\n"
	m := NewMachine(compileWith(t, reg, src), reg)
	inst, err := m.Install(stateHandler(vm.IntValue(3)))
	require.NoError(t, err)

	out, err := m.RunUnder(inst, "read")
	require.NoError(t, err)
	require.Equal(t, vm.IntValue(3), out)
	require.False(t, inst.Alive())

	_, err = m.RunUnder(inst, "read")
	require.ErrorContains(t, err, "closed or was already run")
}

func TestStepLimit(t *testing.T) {
	src := `
def spin():
	x = 0
	for i in range(200):
		x = x + 1
	return x
`
	prg, err := vm.CompileLiteral(src)
	require.NoError(t, err)
	m := NewMachine(prg, effect.NewRegistry())
	m.MaxSteps = 50

	_, err = m.Call("spin")
	require.ErrorContains(t, err, "Exceeded step limit of 50")
}

func TestStepLimitSpansResumptions(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("nondet", effect.Op("choose", 1))
	require.NoError(t, err)

	m := NewMachine(compileWith(t, reg, knapsackSrc), reg)
	m.MaxSteps = 40

	inst, err := m.Install(chooserHandler([]int64{3, 2, 1}))
	require.NoError(t, err)

	// The whole solution tree costs far more than one branch does; a
	// budget that survives the first branch still dies on a later one.
	_, err = m.RunUnder(inst, "solve", vm.IntValue(3), vm.ArrayValue{})
	require.ErrorContains(t, err, "Exceeded step limit")
}

func TestOnDispatchObservesOperations(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("state", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)

	src := `
def swap(v):
	old = get()
	put(v)
	return old
`
	m := NewMachine(compileWith(t, reg, src), reg)
	inst, err := m.Install(stateHandler(vm.IntValue(1)))
	require.NoError(t, err)

	var events []DispatchEvent
	m.OnDispatch = func(ev DispatchEvent) {
		events = append(events, ev)
	}

	_, err = m.RunUnder(inst, "swap", vm.IntValue(5))
	require.NoError(t, err)

	require.Len(t, events, 2)
	require.Equal(t, "get", events[0].Op)
	require.Equal(t, "put", events[1].Op)
	for _, ev := range events {
		require.Equal(t, "state", ev.Effect)
		require.Equal(t, inst.ID, ev.HandlerID)
		require.False(t, ev.Control)
		require.NotNil(t, ev.State)
		require.Len(t, ev.State.Frames, 2)
	}
	require.Equal(t, []vm.Value{vm.IntValue(5)}, events[1].Args)
}

func TestFrameFromExpr(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("nondet", effect.Op("choose", 1))
	require.NoError(t, err)

	m := NewMachine(compileWith(t, reg, knapsackSrc), reg)
	inst, err := m.Install(chooserHandler([]int64{3, 2, 1}))
	require.NoError(t, err)

	frame, err := m.FrameFromExpr("solve(2, [])")
	require.NoError(t, err)

	out, err := m.RunFrame([]*Installation{inst}, frame)
	require.NoError(t, err)
	require.Equal(t, vm.ArrayValue{
		vm.ArrayValue{vm.IntValue(2)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(1)},
	}, out)
}
