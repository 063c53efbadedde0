package interp

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/effigy-dev/effigy/effect"
	"github.com/effigy-dev/effigy/vm"
)

// Machine evaluates a compiled program against an effect registry. It
// owns the chain of live handler installations and drives segments of
// stack frames through the step loop, dispatching operations as they
// come up. A machine is single-threaded: one logical evaluation at a
// time, with handler clauses and resumptions re-entering it recursively.
type Machine struct {
	Program  *vm.Program
	Registry *effect.Registry
	Globals  *StackFrame

	// MaxSteps bounds the instructions executed by one top-level run,
	// counting every resumption branch. Zero means unlimited.
	MaxSteps int

	// OnDispatch, when set, observes every dispatched operation with a
	// deep copy of the evaluation state at the dispatch point.
	OnDispatch func(DispatchEvent)

	scope Scope
	steps int
	depth int
}

// DispatchEvent describes one operation dispatch.
type DispatchEvent struct {
	Op        string
	Effect    string
	HandlerID string
	Control   bool
	Args      []vm.Value
	State     *State
}

func NewMachine(prog *vm.Program, reg *effect.Registry) *Machine {
	globals := &StackFrame{}
	for name, b := range vm.AllBuiltins {
		globals.StoreVar(name, b)
	}
	return &Machine{
		Program:  prog,
		Registry: reg,
		Globals:  globals,
		scope:    NewScope(),
	}
}

// Install validates a handler against the registry and instantiates it.
// Every clause must name an operation of the handler's declared effect,
// and no operation may have both a direct and a control clause.
func (m *Machine) Install(h *Handler) (*Installation, error) {
	if h == nil || h.Effect == "" {
		return nil, fmt.Errorf("Handler must name an effect")
	}
	if _, ok := m.Registry.LookupEffect(h.Effect); !ok {
		return nil, fmt.Errorf("Handler names undeclared effect %s", h.Effect)
	}
	for op := range h.Direct {
		if _, ok := h.Control[op]; ok {
			return nil, fmt.Errorf("Operation %s has both a direct and a control clause", op)
		}
		if !m.Registry.Owns(h.Effect, op) {
			return nil, fmt.Errorf("Operation %s does not belong to effect %s", op, h.Effect)
		}
	}
	for op := range h.Control {
		if !m.Registry.Owns(h.Effect, op) {
			return nil, fmt.Errorf("Operation %s does not belong to effect %s", op, h.Effect)
		}
	}
	return newInstallation(h), nil
}

// NewFrame builds the starting frame for fnName(args...). Arguments bind
// positionally against the function's parameters.
func (m *Machine) NewFrame(fnName string, args ...vm.Value) (*StackFrame, error) {
	ptr, ok := m.Program.Resolve(fnName)
	if !ok {
		return nil, fmt.Errorf("No such function defined: %s", fnName)
	}
	fn := m.Program.GetFunction(ptr)
	if fn == nil {
		return nil, fmt.Errorf("No such function defined: %s", fnName)
	}
	frame := &StackFrame{PC: ptr}
	bound := make([]vm.ArgValue, len(args))
	for i, a := range args {
		bound[i] = vm.ArgValue{Value: a}
	}
	if err := bindParams(frame, fn.Params, bound); err != nil {
		return nil, err
	}
	return frame, nil
}

// FrameFromExpr builds the starting frame from a call expression string
// like "solve(3, [])", compiled with the registry's operation names in
// scope.
func (m *Machine) FrameFromExpr(callExpr string) (*StackFrame, error) {
	copts := &vm.CompileOptions{Operations: m.Registry.Arities()}
	return FunctionCallFromStringWithOptions(m.Program, m.Globals, callExpr, copts)
}

// Call runs fnName(args...) with no handlers installed.
func (m *Machine) Call(fnName string, args ...vm.Value) (vm.Value, error) {
	frame, err := m.NewFrame(fnName, args...)
	if err != nil {
		return nil, err
	}
	return m.RunFrame(nil, frame)
}

// RunUnder runs fnName(args...) inside a single handler installation.
func (m *Machine) RunUnder(inst *Installation, fnName string, args ...vm.Value) (vm.Value, error) {
	return m.RunUnderAll([]*Installation{inst}, fnName, args...)
}

// RunUnderAll runs fnName(args...) inside a chain of installations,
// outermost first. Every installation is closed when the run finishes,
// expiring any continuation that still targets it.
func (m *Machine) RunUnderAll(insts []*Installation, fnName string, args ...vm.Value) (vm.Value, error) {
	frame, err := m.NewFrame(fnName, args...)
	if err != nil {
		return nil, err
	}
	return m.RunFrame(insts, frame)
}

// RunFrame runs a prepared body frame inside a chain of installations,
// outermost first. This is the ground entrypoint the other Run variants
// build on.
func (m *Machine) RunFrame(insts []*Installation, body *StackFrame) (vm.Value, error) {
	for _, inst := range insts {
		if inst == nil {
			return nil, fmt.Errorf("Cannot run under a nil installation")
		}
	}
	for _, inst := range insts {
		if !inst.markUsed() {
			return nil, fmt.Errorf("Installation %s is closed or was already run", inst.ID)
		}
	}

	m.depth++
	if m.depth == 1 {
		m.steps = 0
	}
	saved := m.scope
	defer func() {
		m.scope = saved
		m.depth--
		for i := len(insts) - 1; i >= 0; i-- {
			insts[i].Close()
		}
	}()

	frames := make([]*StackFrame, 0, len(insts)+1)
	for _, inst := range insts {
		frames = append(frames, &StackFrame{Handler: inst})
		m.scope = m.scope.Push(inst)
	}
	frames = append(frames, body)
	return m.runSegment(frames)
}

// runSegment drives one stack segment to completion and returns the
// value it delivers past its bottom frame. Popping through a handler
// marker applies that installation's return clause on the way.
func (m *Machine) runSegment(frames []*StackFrame) (vm.Value, error) {
	for {
		if m.MaxSteps > 0 && m.steps >= m.MaxSteps {
			return nil, fmt.Errorf("Exceeded step limit of %d", m.MaxSteps)
		}
		m.steps++

		res, n, err := Step(m.Program, m.Globals, frames)
		if err != nil {
			return nil, err
		}

		log.Trace().Str("result", resultToString(res)).Int("n", n).Int("segment_depth", len(frames)).Msg("runSegment: step result")

		switch res {
		case ContinueStep:
			continue
		case ReturnStep:
			f := frames[len(frames)-1]
			val := f.Pop()
			frames = frames[:len(frames)-1]
			out, done, err := m.deliver(&frames, val)
			if err != nil {
				return nil, err
			}
			if done {
				return out, nil
			}
		case EndStep:
			// Function ended without explicit return
			frames = frames[:len(frames)-1]
			out, done, err := m.deliver(&frames, vm.None)
			if err != nil {
				return nil, err
			}
			if done {
				return out, nil
			}
		case CallStep:
			currentFrame := frames[len(frames)-1]
			f, err := BuildCallFrame(m.Program, currentFrame, n)
			if err != nil {
				return nil, err
			}
			// Builtins run in place and return a nil frame
			if f != nil {
				currentFrame.PC = currentFrame.PC.Inc()
				frames = append(frames, f)
			}
		case MethodCallStep:
			currentFrame := frames[len(frames)-1]
			err := BuildMethodCallFrame(currentFrame, n)
			if err != nil {
				return nil, err
			}
			// Method already incremented PC, just continue
		case PerformStep:
			next, out, done, err := m.dispatchPerform(frames, n)
			if err != nil {
				return nil, err
			}
			if done {
				return out, nil
			}
			frames = next
		default:
			panic("unhandled intermediate step")
		}
	}
}

// deliver hands a value down to the new top of the segment after a frame
// is popped. Markers transform it through their return clause and pop in
// turn; a running frame receives it as the result of its pending call.
// done is true once the segment is empty and v is its final value.
func (m *Machine) deliver(frames *[]*StackFrame, v vm.Value) (vm.Value, bool, error) {
	for {
		if len(*frames) == 0 {
			return v, true, nil
		}
		top := (*frames)[len(*frames)-1]
		if top.Handler == nil {
			top.Push(v)
			return nil, false, nil
		}
		out, err := top.Handler.ret(v)
		if err != nil {
			return nil, false, err
		}
		log.Trace().Str("handler", top.Handler.ID).Str("effect", top.Handler.Handler.Effect).Msg("deliver: return clause applied")
		v = out
		*frames = (*frames)[:len(*frames)-1]
		m.scope = m.scope.Pop()
	}
}

// dispatchPerform resolves and runs one operation. The current frame has
// the operation name on top of argc arguments; its PC still points at
// the PERFORM.
//
// Dispatch order: registry lookup, arity check, innermost-first scope
// search, then clause kind. A direct clause runs in place. A control
// clause captures everything from the matched installation's marker to
// the top of the segment as a continuation and runs with the remainder;
// its return value is delivered through the markers left below the cut.
func (m *Machine) dispatchPerform(frames []*StackFrame, argc int) ([]*StackFrame, vm.Value, bool, error) {
	frame := frames[len(frames)-1]
	if len(frame.Stack) < argc+1 {
		return nil, nil, false, fmt.Errorf("Operation stack is too short to dispatch")
	}
	nameVal := frame.Pop()
	nameStr, ok := nameVal.(vm.StrValue)
	if !ok {
		return nil, nil, false, fmt.Errorf("Operation name must be a string, got %T", nameVal)
	}
	opName := string(nameStr)
	args := make([]vm.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = frame.Pop()
	}

	effectName, decl, err := m.Registry.LookupOperation(opName)
	if err != nil {
		return nil, nil, false, err
	}
	if argc != decl.Arity {
		return nil, nil, false, fmt.Errorf("operation %s takes %d arguments, got %d: %w", opName, decl.Arity, argc, effect.ErrBadArity)
	}

	inst, found := m.scope.Find(opName)
	if !found {
		return nil, nil, false, fmt.Errorf("operation %s: %w", opName, effect.ErrUnhandledOperation)
	}

	_, isDirect := inst.Handler.Direct[opName]
	if m.OnDispatch != nil {
		observed := make([]vm.Value, len(args))
		for i, a := range args {
			observed[i] = a.Clone()
		}
		st := &State{Globals: m.Globals, Frames: frames}
		m.OnDispatch(DispatchEvent{
			Op:        opName,
			Effect:    effectName,
			HandlerID: inst.ID,
			Control:   !isDirect,
			Args:      observed,
			State:     st.Clone(),
		})
	}

	if isDirect {
		log.Debug().Str("op", opName).Str("effect", effectName).Str("handler", inst.ID).Msg("dispatch: direct clause")
		out, err := inst.Handler.Direct[opName](inst.Cell, args)
		if err != nil {
			return nil, nil, false, err
		}
		if out == nil {
			out = vm.None
		}
		frame.Push(out)
		frame.PC = frame.PC.Inc()
		return frames, nil, false, nil
	}

	clause := inst.Handler.Control[opName]

	// The matched installation's marker must sit on this segment: a
	// control capture cannot reach through a host-level call boundary.
	idx := -1
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i].Handler == inst {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, nil, false, fmt.Errorf("operation %s matched handler %s on another segment; cannot capture across a host call", opName, inst.ID)
	}

	template := append([]*StackFrame(nil), frames[idx:]...)
	remaining := frames[:idx]
	for _, f := range template {
		if f.Handler != nil {
			m.scope = m.scope.Pop()
		}
	}

	k := &Continuation{
		ID:       uuid.NewString(),
		m:        m,
		target:   inst,
		template: template,
		ambient:  m.scope,
	}

	log.Debug().
		Str("op", opName).
		Str("effect", effectName).
		Str("handler", inst.ID).
		Str("continuation", k.ID).
		Int("captured", len(template)).
		Msg("dispatch: control clause")

	out, err := clause(inst.Cell, args, k)
	if err != nil {
		return nil, nil, false, err
	}
	if out == nil {
		out = vm.None
	}

	// Whatever the clause returned is the result of the handled region.
	// Markers below the cut (outer handlers on this segment) still apply
	// their return clauses to it.
	final, done, err := m.deliver(&remaining, out)
	if err != nil {
		return nil, nil, false, err
	}
	if done {
		return nil, final, true, nil
	}
	return remaining, nil, false, nil
}

func resultToString(res StepResult) string {
	switch res {
	case ContinueStep:
		return "Continue"
	case ReturnStep:
		return "Return"
	case EndStep:
		return "End"
	case CallStep:
		return "Call"
	case MethodCallStep:
		return "MethodCall"
	case PerformStep:
		return "Perform"
	case ErrorStep:
		return "Error"
	default:
		return "Unknown"
	}
}
