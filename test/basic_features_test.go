// Package test holds language conformance tests for the bytecode
// pipeline: each program is compiled, its top level is run to seed the
// machine's globals, and functions are then driven through the machine.
package test

import (
	"testing"

	"github.com/effigy-dev/effigy/effect"
	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/vm"
)

// evalProgram compiles src and runs its top-level block, adopting the
// resulting bindings as globals.
func evalProgram(t *testing.T, src string) *interp.Machine {
	t.Helper()
	prog, err := vm.CompileLiteral(src)
	if err != nil {
		t.Fatalf("Compilation failed: %v", err)
	}
	m := interp.NewMachine(prog, effect.NewRegistry())
	boot := &interp.StackFrame{}
	if _, err := m.RunFrame(nil, boot); err != nil {
		t.Fatalf("Top-level execution failed: %v", err)
	}
	for k, v := range boot.Variables {
		m.Globals.StoreVar(k, v)
	}
	return m
}

func callFn(t *testing.T, m *interp.Machine, name string, args ...vm.Value) vm.Value {
	t.Helper()
	out, err := m.Call(name, args...)
	if err != nil {
		t.Fatalf("Calling %s failed: %v", name, err)
	}
	return out
}

func globalVar(t *testing.T, m *interp.Machine, name string) vm.Value {
	t.Helper()
	v, ok := m.Globals.Variables[name]
	if !ok {
		t.Fatalf("Global %q not found", name)
	}
	return v
}

func expectGlobal(t *testing.T, m *interp.Machine, name string, want vm.Value) {
	t.Helper()
	got := globalVar(t, m, name)
	if cmp, ok := got.Cmp(want); !ok || cmp != 0 {
		t.Errorf("Global %q: expected %v, got %v", name, want, got)
	}
}

func TestWhileLoopFlipsGlobal(t *testing.T) {
	m := evalProgram(t, `
armed = True

def disarm():
    while armed:
        armed = False
`)
	callFn(t, m, "disarm")
	expectGlobal(t, m, "armed", vm.BoolFalse)
}

func TestArrayAppendWritesBack(t *testing.T) {
	m := evalProgram(t, `
queue = []

def enqueue(msg):
    queue.append(msg)
`)
	callFn(t, m, "enqueue", vm.StrValue("msg"))

	queue, ok := globalVar(t, m, "queue").(vm.ArrayValue)
	if !ok {
		t.Fatalf("'queue' is not an array")
	}
	if len(queue) != 1 {
		t.Fatalf("Expected queue length 1, got %d", len(queue))
	}
	if s, ok := queue[0].(vm.StrValue); !ok || string(s) != "msg" {
		t.Errorf("Expected 'msg', got %v", queue[0])
	}
}

func TestNestedFunctionCallsMutateGlobal(t *testing.T) {
	m := evalProgram(t, `
counter = 0

def increment():
    counter = counter + 1

def bump_twice():
    increment()
    increment()
`)
	callFn(t, m, "bump_twice")
	expectGlobal(t, m, "counter", vm.IntValue(2))
}

func TestWhileLoopCounter(t *testing.T) {
	m := evalProgram(t, `
counter = 0

def count_up():
    while counter < 3:
        counter = counter + 1
`)
	callFn(t, m, "count_up")
	expectGlobal(t, m, "counter", vm.IntValue(3))
}

func TestForLoopAccumulates(t *testing.T) {
	m := evalProgram(t, `
total = 0

def accumulate(n):
    for i in range(n):
        total = total + i
`)
	callFn(t, m, "accumulate", vm.IntValue(5))
	expectGlobal(t, m, "total", vm.IntValue(10))
}

func TestFunctionReturnValue(t *testing.T) {
	m := evalProgram(t, `
def double(n):
    return n * 2
`)
	out := callFn(t, m, "double", vm.IntValue(21))
	if cmp, ok := out.Cmp(vm.IntValue(42)); !ok || cmp != 0 {
		t.Errorf("Expected 42, got %v", out)
	}
}

func TestBasicArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected vm.Value
	}{
		{name: "addition", code: "result = 2 + 3", expected: vm.IntValue(5)},
		{name: "subtraction", code: "result = 10 - 4", expected: vm.IntValue(6)},
		{name: "multiplication", code: "result = 3 * 4", expected: vm.IntValue(12)},
		{name: "division", code: "result = 15 / 3", expected: vm.IntValue(5)},
		{name: "power", code: "result = 2 ** 5", expected: vm.IntValue(32)},
		{name: "unary minus", code: "result = -7 + 10", expected: vm.IntValue(3)},
		{name: "complex expression", code: "result = (2 + 3) * 4 - 1", expected: vm.IntValue(19)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := evalProgram(t, tt.code)
			expectGlobal(t, m, "result", tt.expected)
		})
	}
}

func TestBooleanLogic(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected vm.Value
	}{
		{name: "and true", code: "result = True and True", expected: vm.BoolTrue},
		{name: "and false", code: "result = True and False", expected: vm.BoolFalse},
		{name: "or true", code: "result = True or False", expected: vm.BoolTrue},
		{name: "or false", code: "result = False or False", expected: vm.BoolFalse},
		{name: "not true", code: "result = not True", expected: vm.BoolFalse},
		{name: "not false", code: "result = not False", expected: vm.BoolTrue},
		{name: "complex expression", code: "result = (True or False) and not False", expected: vm.BoolTrue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := evalProgram(t, tt.code)
			expectGlobal(t, m, "result", tt.expected)
		})
	}
}

func TestComparisons(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		expected vm.Value
	}{
		{name: "less than true", code: "result = 3 < 5", expected: vm.BoolTrue},
		{name: "less than false", code: "result = 5 < 3", expected: vm.BoolFalse},
		{name: "greater than true", code: "result = 5 > 3", expected: vm.BoolTrue},
		{name: "equal true", code: "result = 5 == 5", expected: vm.BoolTrue},
		{name: "equal false", code: "result = 5 == 3", expected: vm.BoolFalse},
		{name: "not equal true", code: "result = 5 != 3", expected: vm.BoolTrue},
		{name: "less than or equal", code: "result = 5 <= 5", expected: vm.BoolTrue},
		{name: "greater than or equal", code: "result = 6 >= 5", expected: vm.BoolTrue},
		{name: "string equality", code: `result = "abc" == "abc"`, expected: vm.BoolTrue},
		{name: "string ordering", code: `result = "abc" < "abd"`, expected: vm.BoolTrue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := evalProgram(t, tt.code)
			expectGlobal(t, m, "result", tt.expected)
		})
	}
}
