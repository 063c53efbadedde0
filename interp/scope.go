package interp

import (
	"github.com/benbjohnson/immutable"
)

var emptyScope = immutable.NewList()

// Scope is the chain of live handler installations, outermost first. It
// is persistent: Push and Pop return new scopes and never disturb old
// ones, so a captured continuation keeps its view of the chain for free.
type Scope struct {
	l *immutable.List
}

func NewScope() Scope { return Scope{emptyScope} }

func (s Scope) Len() int {
	if s.l == nil {
		return 0
	}
	return s.l.Len()
}

func (s Scope) Push(inst *Installation) Scope {
	l := s.l
	if l == nil {
		l = emptyScope
	}
	return Scope{l.Append(inst)}
}

func (s Scope) Pop() Scope {
	return Scope{s.l.Slice(0, s.l.Len()-1)}
}

func (s Scope) At(i int) *Installation {
	return s.l.Get(i).(*Installation)
}

// Find returns the innermost installation with a clause for op.
func (s Scope) Find(op string) (*Installation, bool) {
	for i := s.Len() - 1; i >= 0; i-- {
		inst := s.At(i)
		if inst.Handler.handles(op) {
			return inst, true
		}
	}
	return nil, false
}
