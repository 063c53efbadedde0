package interp

import (
	"fmt"
	"slices"

	"github.com/effigy-dev/effigy/vm"
)

type overlayMain struct {
	*vm.Program
	Main *vm.Function
}

func (o *overlayMain) GetInstruction(ptr vm.ExecPtr) (vm.Op, error) {
	if ptr.CodeID() != 0 {
		return o.Program.GetInstruction(ptr)
	}
	if len(o.Main.Bytecode) <= ptr.Offset() {
		return vm.Op{}, vm.ErrEndOfCode
	}
	return o.Main.Bytecode[ptr.Offset()], nil
}

// FunctionCallFromString builds the initial frame for a call expression
// like "solve(3, [])". The expression is compiled against an overlay main
// and stepped until its final CALL; the frame that call would push is
// returned without being run.
func FunctionCallFromString(prog *vm.Program, globals *StackFrame, callString string) (*StackFrame, error) {
	return FunctionCallFromStringWithOptions(prog, globals, callString, nil)
}

func FunctionCallFromStringWithOptions(prog *vm.Program, globals *StackFrame, callString string, copts *vm.CompileOptions) (*StackFrame, error) {
	callprog, err := vm.CompileExprWithOptions(callString, copts)
	if err != nil {
		return nil, err
	}
	overlay := &overlayMain{
		Main:    callprog.Main,
		Program: prog,
	}
	frame := &StackFrame{}
	for {
		v, n, err := Step(overlay, globals, []*StackFrame{frame})
		if err != nil {
			return nil, err
		}
		if v == CallStep {
			f, err := BuildCallFrame(prog, frame, n)
			if err != nil {
				return nil, err
			}
			if f == nil {
				return nil, fmt.Errorf("Calling expression `%s` resolves to a builtin, not a program function", callString)
			}
			return f, nil
		}
		if v == ContinueStep {
			continue
		}
		return nil, fmt.Errorf("Calling expression `%s` does not end in a call", callString)
	}
}

// BuildCallFrame pops a callable and n arguments off the current frame
// and binds them into a fresh frame. Builtins run in place: the result is
// pushed back, the PC advances past the CALL, and the returned frame is
// nil.
func BuildCallFrame(prog *vm.Program, frame *StackFrame, n int) (*StackFrame, error) {
	if len(frame.Stack) < n+1 {
		return nil, fmt.Errorf("Call stack is too short to buildCallFrame")
	}
	callee := frame.Pop()
	if b, ok := callee.(vm.BuiltinValue); ok {
		return nil, runBuiltin(b, frame, n)
	}
	fnPtr, ok := callee.(vm.FnPtrValue)
	if !ok {
		return nil, fmt.Errorf("Compiler error: stack contains non-Fn-Ptr on call")
	}
	ptr := vm.ExecPtr(fnPtr)
	args := make([]vm.ArgValue, n)
	for i := n - 1; i >= 0; i-- {
		args[i], ok = frame.Pop().(vm.ArgValue)
		if !ok {
			return nil, fmt.Errorf("Compiler error: stack contains non-call arguments")
		}
	}
	fn := prog.GetFunction(ptr)
	if fn == nil {
		return nil, fmt.Errorf("Call to unknown function at %s", ptr)
	}
	newFrame := &StackFrame{
		PC: ptr,
	}
	err := bindParams(newFrame, fn.Params, args)
	if err != nil {
		return nil, err
	}
	return newFrame, nil
}

func bindParams(frame *StackFrame, params []vm.FunctionParam, args []vm.ArgValue) error {
	for _, p := range params {
		found := false
		for i, a := range args {
			if a.Key == p.Name {
				frame.StoreVar(p.Name, a.Value)
				args = slices.Delete(args, i, i+1)
				found = true
				break
			}
		}
		if found {
			continue
		}
		if len(args) != 0 {
			a := args[0]
			args = args[1:]
			frame.StoreVar(p.Name, a.Value)
			continue
		}
		if p.Default != nil {
			frame.StoreVar(p.Name, p.Default)
		} else {
			return fmt.Errorf("Not enough arguments to call")
		}
	}
	return nil
}

func runBuiltin(b vm.BuiltinValue, frame *StackFrame, n int) error {
	impl, ok := vm.BuiltinRegistry[b.Name]
	if !ok {
		return fmt.Errorf("Unknown builtin %s", b.Name)
	}
	args := make([]vm.Value, n)
	for i := n - 1; i >= 0; i-- {
		a, ok := frame.Pop().(vm.ArgValue)
		if !ok {
			return fmt.Errorf("Compiler error: stack contains non-call arguments")
		}
		if a.Key != "" {
			return fmt.Errorf("Builtin %s takes positional arguments only", b.Name)
		}
		args[i] = a.Value
	}
	out, err := impl(args)
	if err != nil {
		return err
	}
	frame.Push(out)
	frame.PC = frame.PC.Inc()
	return nil
}

// BuildMethodCallFrame runs a method call in place on the current frame.
// Stack layout: arg1, ..., argN, receiver, methodName.
func BuildMethodCallFrame(frame *StackFrame, n int) error {
	if len(frame.Stack) < n+2 {
		return fmt.Errorf("Call stack is too short to buildMethodCallFrame")
	}
	nameVal, ok := frame.Pop().(vm.StrValue)
	if !ok {
		return fmt.Errorf("Compiler error: stack contains non-string method name")
	}
	name := string(nameVal)
	receiver := frame.Pop()
	args := make([]vm.Value, n)
	for i := n - 1; i >= 0; i-- {
		a, ok := frame.Pop().(vm.ArgValue)
		if !ok {
			return fmt.Errorf("Compiler error: stack contains non-call arguments")
		}
		if a.Key != "" {
			return fmt.Errorf("Method %s takes positional arguments only", name)
		}
		args[i] = a.Value
	}
	typeName := vm.GetTypeName(receiver)
	table, ok := vm.MethodRegistry[typeName]
	if !ok {
		return fmt.Errorf("Type %s has no methods", typeName)
	}
	impl, ok := table[name]
	if !ok {
		return fmt.Errorf("Unknown method %s on type %s", name, typeName)
	}
	out, err := impl(receiver, args)
	if err != nil {
		return err
	}
	frame.Push(out)
	frame.PC = frame.PC.Inc()
	return nil
}
