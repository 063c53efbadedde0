package scenario

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/effigy-dev/effigy/effect"
	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/snapshot"
	"github.com/effigy-dev/effigy/vm"
)

func TestParseSpec(t *testing.T) {
	src := `
[scenario]
file = "prog.star"
entrypoint = "main()"
max_steps = 5000

[[effects]]
name = "nondet"
operations = [{ name = "choice", arity = 1 }, { name = "fail", arity = 0 }]

[[effects]]
name = "store"
operations = [{ name = "get", arity = 0 }, { name = "put", arity = 1 }]

[[handlers]]
effect = "store"
kind = "state"
initial = 7

[[handlers]]
effect = "nondet"
kind = "collect"

[expect]
result = "[]"
`
	spec, err := parseSpec(strings.NewReader(src))
	require.NoError(t, err)

	assert.Equal(t, "prog.star", spec.Scenario.File)
	assert.Equal(t, "main()", spec.Scenario.Entrypoint)
	assert.Equal(t, 5000, spec.Scenario.MaxSteps)

	require.Len(t, spec.Effects, 2)
	assert.Equal(t, "nondet", spec.Effects[0].Name)
	require.Len(t, spec.Effects[0].Operations, 2)
	assert.Equal(t, "choice", spec.Effects[0].Operations[0].Name)
	assert.Equal(t, 1, spec.Effects[0].Operations[0].Arity)
	assert.Equal(t, "fail", spec.Effects[0].Operations[1].Name)
	assert.Equal(t, 0, spec.Effects[0].Operations[1].Arity)

	require.Len(t, spec.Handlers, 2)
	assert.Equal(t, "store", spec.Handlers[0].Effect)
	assert.Equal(t, "state", spec.Handlers[0].Kind)
	assert.Equal(t, int64(7), spec.Handlers[0].Initial)
	assert.Equal(t, "collect", spec.Handlers[1].Kind)
	assert.Nil(t, spec.Handlers[1].Initial)

	assert.Equal(t, "[]", spec.Expect.Result)
	assert.Empty(t, spec.Expect.Error)
}

func TestLoadSpecDefaultsProgramFile(t *testing.T) {
	dir := t.TempDir()
	tomlPath := filepath.Join(dir, "knapsack.toml")
	err := os.WriteFile(tomlPath, []byte("[scenario]\nentrypoint = \"solve(3, [])\"\n"), 0644)
	require.NoError(t, err)

	spec, err := LoadSpecFromFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "knapsack.star"), spec.Scenario.File)
}

func TestBuildHandlerRejectsUnknownKind(t *testing.T) {
	_, err := BuildHandler(HandlerSpec{Effect: "x", Kind: "mystery"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown handler kind")
}

func TestTomlValue(t *testing.T) {
	tests := []struct {
		name string
		in   interface{}
		want vm.Value
	}{
		{"nil", nil, nil},
		{"bool", true, vm.BoolTrue},
		{"int", int64(5), vm.IntValue(5)},
		{"float", 2.5, vm.FloatValue(2.5)},
		{"string", "hi", vm.StrValue("hi")},
		{"array", []interface{}{int64(1), "a"}, vm.ArrayValue{vm.IntValue(1), vm.StrValue("a")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tomlValue(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := tomlValue(map[string]interface{}{"k": "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported initial value")
}

// buildKindMachine compiles src with the registry's operations in scope.
func buildKindMachine(t *testing.T, reg *effect.Registry, src string) *interp.Machine {
	t.Helper()
	copts := &vm.CompileOptions{Operations: reg.Arities()}
	prog, err := vm.CompileLiteralWithOptions(src, copts)
	require.NoError(t, err)
	return interp.NewMachine(prog, reg)
}

const collectSrc = `
def solve(budget, acc):
	if budget == 0:
		return acc
	w = choice(budget)
	return solve(budget - w, acc + [w])

def pick(n):
	w = choice(n)
	if w == 2:
		fail()
	return w
`

func TestCollectHandlerExploresAllBranches(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("nondet", effect.Op("choice", 1), effect.Op("fail", 0))
	require.NoError(t, err)

	m := buildKindMachine(t, reg, collectSrc)
	inst, err := m.Install(CollectHandler("nondet"))
	require.NoError(t, err)

	got, err := m.RunUnder(inst, "solve", vm.IntValue(3), vm.ArrayValue{})
	require.NoError(t, err)

	want := vm.ArrayValue{
		vm.ArrayValue{vm.IntValue(3)},
		vm.ArrayValue{vm.IntValue(2), vm.IntValue(1)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(2)},
		vm.ArrayValue{vm.IntValue(1), vm.IntValue(1), vm.IntValue(1)},
	}
	assert.Equal(t, want, got)
}

func TestCollectHandlerFailDropsBranch(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("nondet", effect.Op("choice", 1), effect.Op("fail", 0))
	require.NoError(t, err)

	m := buildKindMachine(t, reg, collectSrc)
	inst, err := m.Install(CollectHandler("nondet"))
	require.NoError(t, err)

	got, err := m.RunUnder(inst, "pick", vm.IntValue(3))
	require.NoError(t, err)
	assert.Equal(t, vm.ArrayValue{vm.IntValue(3), vm.IntValue(1)}, got)
}

const stateSrc = `
def story():
	old = put("world")
	return old

def reader():
	return get()
`

func TestStateHandlerPairsResultWithState(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("store", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)

	m := buildKindMachine(t, reg, stateSrc)
	inst, err := m.Install(StateHandler("store", vm.StrValue("hello")))
	require.NoError(t, err)

	got, err := m.RunUnder(inst, "story")
	require.NoError(t, err)
	assert.Equal(t, vm.StructValue{
		"result": vm.StrValue("hello"),
		"state":  vm.StrValue("world"),
	}, got)
}

func TestStateHandlerInitialSeedsCell(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("store", effect.Op("get", 0), effect.Op("put", 1))
	require.NoError(t, err)

	m := buildKindMachine(t, reg, stateSrc)
	inst, err := m.Install(StateHandler("store", vm.IntValue(11)))
	require.NoError(t, err)

	got, err := m.RunUnder(inst, "reader")
	require.NoError(t, err)
	assert.Equal(t, vm.StructValue{
		"result": vm.IntValue(11),
		"state":  vm.IntValue(11),
	}, got)
}

const tallySrc = `
def tally(n):
	total = 0
	for i in range(n):
		total = total + tick()
	return total
`

func TestCounterHandlerCountsTicks(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("count", effect.Op("tick", 0))
	require.NoError(t, err)

	m := buildKindMachine(t, reg, tallySrc)
	inst, err := m.Install(CounterHandler("count", nil))
	require.NoError(t, err)

	got, err := m.RunUnder(inst, "tally", vm.IntValue(3))
	require.NoError(t, err)
	assert.Equal(t, vm.StructValue{
		"result": vm.IntValue(6),
		"count":  vm.IntValue(3),
	}, got)
}

const guardSrc = `
def guarded(n):
	if n > 10:
		stop("too big")
	return n * 2
`

func TestAbortHandlerEscapes(t *testing.T) {
	reg := effect.NewRegistry()
	_, err := reg.Declare("escape", effect.Op("stop", 1))
	require.NoError(t, err)

	m := buildKindMachine(t, reg, guardSrc)

	inst, err := m.Install(AbortHandler("escape"))
	require.NoError(t, err)
	got, err := m.RunUnder(inst, "guarded", vm.IntValue(50))
	require.NoError(t, err)
	assert.Equal(t, vm.StrValue("too big"), got)

	inst2, err := m.Install(AbortHandler("escape"))
	require.NoError(t, err)
	got, err = m.RunUnder(inst2, "guarded", vm.IntValue(3))
	require.NoError(t, err)
	assert.Equal(t, vm.IntValue(6), got)
}

// writeScenario lays a program and its scenario file into a temp dir.
func writeScenario(t *testing.T, program, toml string) string {
	t.Helper()
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, "scn.star"), []byte(program), 0644)
	require.NoError(t, err)
	path := filepath.Join(dir, "scn.toml")
	err = os.WriteFile(path, []byte(toml), 0644)
	require.NoError(t, err)
	return path
}

const knapsackProgram = `
def solve(budget, acc):
	if budget == 0:
		return acc
	w = choice(budget)
	return solve(budget - w, acc + [w])
`

const knapsackScenario = `
[scenario]
entrypoint = "solve(3, [])"

[[effects]]
name = "nondet"
operations = [{ name = "choice", arity = 1 }, { name = "fail", arity = 0 }]

[[handlers]]
effect = "nondet"
kind = "collect"

[expect]
result = "[[3], [2, 1], [1, 2], [1, 1, 1]]"
`

func TestRunFileKnapsack(t *testing.T) {
	path := writeScenario(t, knapsackProgram, knapsackScenario)
	store := snapshot.NewMemoryStore()

	spec, res, err := RunFile(path, store)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, "solve(3, [])", spec.Scenario.Entrypoint)

	assert.True(t, res.Passed(), "failures: %v", res.Failures)
	assert.Equal(t, "[[3], [2, 1], [1, 2], [1, 1, 1]]", res.Rendered)

	// One dispatch per choice point, every one through a control clause.
	require.Len(t, res.Trace, 4)
	for _, step := range res.Trace {
		assert.Equal(t, "nondet", step.Effect)
		assert.Equal(t, "choice", step.Op)
		assert.Equal(t, "control", step.Kind)
		assert.NotZero(t, step.StateHash)
	}

	stats := res.Statistics()
	assert.Equal(t, 4, stats.Dispatches)
	assert.Equal(t, 4, stats.ControlClauses)
	assert.Equal(t, 0, stats.DirectClauses)
	assert.Equal(t, 4, stats.UniqueStates)
	assert.Equal(t, 0, stats.RevisitedStates)

	// Recorded states come back out of the store.
	state, err := snapshot.RetrieveState(store, res.Trace[0].StateHash)
	require.NoError(t, err)
	assert.NotNil(t, state.Globals)
	assert.Equal(t, []int{0}, store.SeenAt(res.Trace[0].StateHash))
}

const storyProgram = `
def story():
	put("world")
	return "hello"
`

const storyScenario = `
[scenario]
entrypoint = "story()"

[[effects]]
name = "store"
operations = [{ name = "get", arity = 0 }, { name = "put", arity = 1 }]

[[handlers]]
effect = "store"
kind = "state"
initial = "start"

[expect]
result = '{result: "hello", state: "world"}'
`

func TestRunFileStateStory(t *testing.T) {
	path := writeScenario(t, storyProgram, storyScenario)

	_, res, err := RunFile(path, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)

	// No store attached, so no trace is recorded.
	assert.Empty(t, res.Trace)
}

func TestRunFileExpectationMismatch(t *testing.T) {
	mismatch := strings.Replace(knapsackScenario, "[[3], [2, 1], [1, 2], [1, 1, 1]]", "[[1]]", 1)
	path := writeScenario(t, knapsackProgram, mismatch)

	_, res, err := RunFile(path, nil)
	require.NoError(t, err)
	assert.False(t, res.Passed())
	require.Len(t, res.Failures, 1)
	assert.Contains(t, res.Failures[0], "does not match")
}

const unhandledScenario = `
[scenario]
entrypoint = "solve(3, [])"
[[effects]]
name = "nondet"
operations = [{ name = "choice", arity = 1 }, { name = "fail", arity = 0 }]

[expect]
error = "No handler in scope"
`

func TestRunFileExpectedError(t *testing.T) {
	path := writeScenario(t, knapsackProgram, unhandledScenario)

	_, res, err := RunFile(path, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)
	require.Error(t, res.Err)
	assert.ErrorIs(t, res.Err, effect.ErrUnhandledOperation)
}

const limitedScenario = `
[scenario]
entrypoint = "solve(3, [])"
max_steps = 10

[[effects]]
name = "nondet"
operations = [{ name = "choice", arity = 1 }, { name = "fail", arity = 0 }]

[[handlers]]
effect = "nondet"
kind = "collect"

[expect]
error = "Exceeded step limit"
`

func TestRunFileStepLimit(t *testing.T) {
	path := writeScenario(t, knapsackProgram, limitedScenario)

	_, res, err := RunFile(path, nil)
	require.NoError(t, err)
	assert.True(t, res.Passed(), "failures: %v", res.Failures)
}

func TestBuildRunnerRequiresEntrypoint(t *testing.T) {
	spec := &Spec{}
	_, err := spec.BuildRunner()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no entrypoint")
}

func TestFormatResultAndTrace(t *testing.T) {
	path := writeScenario(t, knapsackProgram, knapsackScenario)
	store := snapshot.NewMemoryStore()

	spec, res, err := RunFile(path, store)
	require.NoError(t, err)

	out := FormatResult("scn.toml", res)
	assert.Contains(t, out, "SCENARIO PASSED")
	assert.Contains(t, out, "[[3], [2, 1], [1, 2], [1, 1, 1]]")

	runner, err := spec.BuildRunner()
	require.NoError(t, err)

	trace := FormatTrace(res, store, runner.Machine.Program, true)
	assert.Contains(t, trace, "nondet/choice")
	assert.Contains(t, trace, "Evaluation Stack")

	stats := FormatStatistics(res.Statistics())
	assert.Contains(t, stats, "Operations dispatched: 4")
}
