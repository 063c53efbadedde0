// Package effigy embeds the effect runtime: declare effects, load a
// program, install handlers, and run program functions under them.
//
// The packages underneath carry the machinery: vm compiles source to
// bytecode, interp evaluates it and dispatches operations to handlers,
// effect holds the operation registry, snapshot records machine states,
// and scenario drives TOML-described runs.
package effigy

import (
	"fmt"

	"github.com/effigy-dev/effigy/effect"
	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/vm"
)

// The dispatch and continuation failure taxonomy, re-exported so
// embedders match with errors.Is against this package alone.
var (
	ErrUnknownOperation    = effect.ErrUnknownOperation
	ErrUnhandledOperation  = effect.ErrUnhandledOperation
	ErrExpiredContinuation = effect.ErrExpiredContinuation
	ErrDuplicateEffect     = effect.ErrDuplicateEffect
	ErrDuplicateOperation  = effect.ErrDuplicateOperation
	ErrBadArity            = effect.ErrBadArity
)

// Runtime surface types.
type (
	Handler      = interp.Handler
	Installation = interp.Installation
	Continuation = interp.Continuation
	Cell         = interp.Cell
	Operation    = effect.OperationDecl
	Value        = vm.Value

	ReturnClause  = interp.ReturnClause
	DirectClause  = interp.DirectClause
	ControlClause = interp.ControlClause
)

// Op declares one operation of an effect.
func Op(name string, arity int) Operation {
	return effect.Op(name, arity)
}

// Format renders a runtime value for display.
func Format(v Value) string {
	return interp.FormatValue(v)
}

// Runtime owns one effect registry and, once a program is loaded, one
// evaluation machine. Declare effects first; loading compiles operation
// calls against the declarations.
type Runtime struct {
	registry *effect.Registry
	machine  *interp.Machine
	maxSteps int
}

func New() *Runtime {
	return &Runtime{registry: effect.NewRegistry()}
}

// DeclareEffect registers an effect and claims its operation names.
func (r *Runtime) DeclareEffect(name string, ops ...Operation) error {
	_, err := r.registry.Declare(name, ops...)
	return err
}

// SetMaxSteps bounds each top-level run, counting every resumption
// branch. Zero means unlimited.
func (r *Runtime) SetMaxSteps(n int) {
	r.maxSteps = n
	if r.machine != nil {
		r.machine.MaxSteps = n
	}
}

// LoadSource compiles a program from source text and runs its top-level
// block to populate globals.
func (r *Runtime) LoadSource(src string) error {
	copts := &vm.CompileOptions{Operations: r.registry.Arities()}
	prog, err := vm.CompileLiteralWithOptions(src, copts)
	if err != nil {
		return err
	}
	return r.adopt(prog)
}

// LoadFile compiles a program file and runs its top-level block to
// populate globals.
func (r *Runtime) LoadFile(path string) error {
	copts := &vm.CompileOptions{Operations: r.registry.Arities()}
	prog, err := vm.CompilePathWithOptions(path, copts)
	if err != nil {
		return err
	}
	return r.adopt(prog)
}

func (r *Runtime) adopt(prog *vm.Program) error {
	m := interp.NewMachine(prog, r.registry)
	m.MaxSteps = r.maxSteps
	boot := &interp.StackFrame{}
	if _, err := m.RunFrame(nil, boot); err != nil {
		return fmt.Errorf("initializing globals: %w", err)
	}
	for k, v := range boot.Variables {
		m.Globals.StoreVar(k, v)
	}
	r.machine = m
	return nil
}

// Machine exposes the underlying machine for trace hooks and
// lower-level entrypoints.
func (r *Runtime) Machine() *interp.Machine {
	return r.machine
}

// Install validates a handler against the declared effects and
// instantiates it with a fresh identity and cell. Each installation
// runs once.
func (r *Runtime) Install(h *Handler) (*Installation, error) {
	if r.machine == nil {
		return nil, fmt.Errorf("no program loaded")
	}
	return r.machine.Install(h)
}

// Call runs fnName(args...) with no handlers installed.
func (r *Runtime) Call(fnName string, args ...Value) (Value, error) {
	if r.machine == nil {
		return nil, fmt.Errorf("no program loaded")
	}
	return r.machine.Call(fnName, args...)
}

// RunUnder runs fnName(args...) inside one handler installation.
func (r *Runtime) RunUnder(inst *Installation, fnName string, args ...Value) (Value, error) {
	if r.machine == nil {
		return nil, fmt.Errorf("no program loaded")
	}
	return r.machine.RunUnder(inst, fnName, args...)
}

// RunUnderAll runs fnName(args...) inside a chain of installations,
// outermost first.
func (r *Runtime) RunUnderAll(insts []*Installation, fnName string, args ...Value) (Value, error) {
	if r.machine == nil {
		return nil, fmt.Errorf("no program loaded")
	}
	return r.machine.RunUnderAll(insts, fnName, args...)
}
