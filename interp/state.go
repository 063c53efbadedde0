package interp

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/effigy-dev/effigy/vm"
)

func NewState() *State {
	return &State{
		Globals: &StackFrame{},
	}
}

// State is a point-in-time view of an evaluation: the global frame plus
// one evaluation segment. The machine produces these for tracing and the
// snapshot store; it never runs two of them at once.
type State struct {
	Globals *StackFrame
	Frames  []*StackFrame
}

func (s *State) Clone() *State {
	out := &State{
		Globals: s.Globals.Clone(),
	}
	for _, f := range s.Frames {
		out.Frames = append(out.Frames, f.Clone())
	}
	return out
}

func (f *StackFrame) Pop() vm.Value {
	if len(f.Stack) == 0 {
		panic("Stack underrun")
		//return vm.None
	}
	v := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return v
}

func (f *StackFrame) Push(v vm.Value) {
	f.Stack = append(f.Stack, v)
}

// Clone deep-copies the frame. The Handler pointer is shared: which
// installation a marker belongs to is decided by whoever clones a
// segment, not here.
func (f *StackFrame) Clone() *StackFrame {
	out := &StackFrame{
		PC:      f.PC,
		Handler: f.Handler,
	}
	for _, v := range f.Stack {
		out.Stack = append(out.Stack, v.Clone())
	}
	for k, v := range f.Variables {
		out.StoreVar(k, v.Clone())
	}
	for _, i := range f.IteratorStack {
		out.IteratorStack = append(out.IteratorStack, i.Clone())
	}
	return out
}

func (f *StackFrame) StoreVar(key string, value vm.Value) {
	if f.Variables == nil {
		f.Variables = make(map[string]vm.Value)
	}
	f.Variables[key] = value
}

func (f *StackFrame) Has(key string) bool {
	if f.Variables == nil {
		return false
	}
	_, ok := f.Variables[key]
	return ok
}

// FormatValue formats a vm.Value for display
func FormatValue(v vm.Value) string {
	switch val := v.(type) {
	case vm.IntValue:
		return fmt.Sprintf("%d", val)
	case vm.FloatValue:
		return fmt.Sprintf("%g", val)
	case vm.BoolValue:
		if val {
			return "true"
		}
		return "false"
	case vm.StrValue:
		return fmt.Sprintf("%q", string(val))
	case vm.NoneValue:
		return "None"
	case vm.FnPtrValue:
		return fmt.Sprintf("<function@0x%x>", val)
	case vm.BuiltinValue:
		return fmt.Sprintf("<builtin:%s>", val.Name)
	case vm.ArrayValue:
		if len(val) == 0 {
			return "[]"
		}
		result := "["
		for i, elem := range val {
			if i > 0 {
				result += ", "
			}
			if i >= 5 {
				result += fmt.Sprintf("... (%d more)", len(val)-i)
				break
			}
			result += FormatValue(elem)
		}
		result += "]"
		return result
	case vm.StructValue:
		if len(val) == 0 {
			return "{}"
		}
		result := "{"
		count := 0
		// Sort keys for consistent output
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			if count > 0 {
				result += ", "
			}
			if count >= 5 {
				result += fmt.Sprintf("... (%d more)", len(val)-count)
				break
			}
			result += fmt.Sprintf("%s: %s", k, FormatValue(val[k]))
			count++
		}
		result += "}"
		return result
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

// PrettyPrint returns a formatted string representation of the State
func (s *State) PrettyPrint(prog *vm.Program) string {
	var result string

	// Print global variables (excluding builtins and functions)
	if s.Globals != nil && len(s.Globals.Variables) > 0 {
		result += "Global Variables:\n"

		// Sort keys for consistent output
		keys := make([]string, 0, len(s.Globals.Variables))
		for k := range s.Globals.Variables {
			// Skip builtins and functions
			v := s.Globals.Variables[k]
			if _, isBuiltin := v.(vm.BuiltinValue); isBuiltin {
				continue
			}
			if _, isFn := v.(vm.FnPtrValue); isFn {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		if len(keys) == 0 {
			result += "  (none)\n"
		} else {
			for _, k := range keys {
				v := s.Globals.Variables[k]
				result += fmt.Sprintf("  %s = %s\n", k, FormatValue(v))
			}
		}
	}

	if len(s.Frames) == 0 {
		return result
	}

	result += "\nEvaluation Stack:\n"

	// Show current location from the topmost running frame
	currentFrame := s.Frames[len(s.Frames)-1]
	if currentFrame.Handler == nil {
		pc := currentFrame.PC
		if prog != nil {
			lineNum := prog.GetLineNumber(pc)
			filename := prog.GetFilename()
			if lineNum > 0 && filename != "" {
				basename := filepath.Base(filename)
				result += fmt.Sprintf("  Location: %s:%d\n", basename, lineNum)
			} else if lineNum > 0 {
				result += fmt.Sprintf("  Location: line %d\n", lineNum)
			} else {
				result += fmt.Sprintf("  Location: %s\n", pc)
			}
		} else {
			result += fmt.Sprintf("  Location: %s\n", pc)
		}
	}

	for frameIdx, frame := range s.Frames {
		if frame.Handler != nil {
			result += fmt.Sprintf("  Frame %d: handler %s (%s)\n", frameIdx, frame.Handler.Handler.Effect, frame.Handler.ID)
			result += fmt.Sprintf("    cell = %s\n", FormatValue(frame.Handler.Cell.Get()))
			continue
		}

		result += fmt.Sprintf("  Frame %d: %s\n", frameIdx, frame.PC)
		if len(frame.Variables) == 0 {
			result += "    (no local variables)\n"
			continue
		}

		// Sort keys
		keys := make([]string, 0, len(frame.Variables))
		for k := range frame.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			v := frame.Variables[k]
			result += fmt.Sprintf("    %s = %s\n", k, FormatValue(v))
		}
	}

	return result
}
