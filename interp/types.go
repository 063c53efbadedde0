package interp

import (
	"slices"

	"github.com/effigy-dev/effigy/vm"
)

// StackFrame is one entry of an evaluation segment: either a running
// function activation, or a handler marker. A marker (Handler != nil)
// never executes bytecode; it delimits the region a handler installation
// covers, and values delivered through it pass the installation's return
// clause.
type StackFrame struct {
	Stack         []vm.Value
	PC            vm.ExecPtr
	Variables     map[string]vm.Value
	IteratorStack []*IteratorState
	Handler       *Installation
}

type StackFrames []*StackFrame

func (s *StackFrames) PopStack() *StackFrame {
	f := s.CurrentStack()
	*s = (*s)[:len(*s)-1]
	return f
}

func (s *StackFrames) Append(f *StackFrame) {
	*s = append(*s, f)
}

func (s StackFrames) CurrentStack() *StackFrame {
	return s[len(s)-1]
}

type IteratorState struct {
	Start    vm.ExecPtr
	End      vm.ExecPtr
	Iter     Iterator
	VarNames []string // Loop variable names for updating in ITER_NEXT
}

func (its *IteratorState) Clone() *IteratorState {
	return &IteratorState{
		Start:    its.Start,
		End:      its.End,
		Iter:     its.Iter.Clone(),
		VarNames: slices.Clone(its.VarNames),
	}
}

type Iterator interface {
	Clone() Iterator
	Next() bool
	Var1() vm.Value
	Var2() vm.Value
}
