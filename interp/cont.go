package interp

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/effigy-dev/effigy/effect"
	"github.com/effigy-dev/effigy/vm"
)

// Continuation is the rest of a handled region, captured at an operation
// call site. The captured frames run from the target installation's
// marker up to and including the frame whose PERFORM triggered the
// capture, so resuming one runs the region to completion and delivers
// the final value through the target's return clause.
//
// A continuation may be resumed any number of times. Each resumption
// works on a deep copy of the captured frames: locals diverge between
// resumptions, while the target installation's cell stays shared. Any
// other handler marker inside the captured frames is re-instantiated
// fresh on every resumption, cell reset to the handler's initial value.
type Continuation struct {
	ID       string
	m        *Machine
	target   *Installation
	template []*StackFrame
	ambient  Scope
	resumed  int
}

// Resume re-enters the captured region, delivering v as the result of
// the operation call that suspended it. The returned value is what the
// region completes with after passing the target's return clause.
//
// Resuming after the target installation's extent has closed fails with
// ErrExpiredContinuation.
func (k *Continuation) Resume(v vm.Value) (vm.Value, error) {
	if !k.target.Alive() {
		return nil, fmt.Errorf("continuation %s targets handler %s: %w", k.ID, k.target.ID, effect.ErrExpiredContinuation)
	}

	k.resumed++
	log.Debug().
		Str("continuation", k.ID).
		Int("invocation", k.resumed).
		Int("frames", len(k.template)).
		Msg("resuming continuation")

	clones := make([]*StackFrame, len(k.template))
	var fresh []*Installation
	scope := k.ambient
	for i, f := range k.template {
		cl := f.Clone()
		if cl.Handler != nil && cl.Handler != k.target {
			// A handler whose marker sits inside the captured region is
			// re-installed per resumption: new identity, cell back to the
			// handler's initial value.
			cl.Handler = newInstallation(cl.Handler.Handler)
			fresh = append(fresh, cl.Handler)
		}
		if cl.Handler != nil {
			scope = scope.Push(cl.Handler)
		}
		clones[i] = cl
	}

	// The topmost captured frame is parked on its PERFORM. Push the
	// resume value as the operation's result and move past it.
	top := clones[len(clones)-1]
	top.Push(v)
	top.PC = top.PC.Inc()

	m := k.m
	saved := m.scope
	m.scope = scope
	defer func() {
		m.scope = saved
		for _, inst := range fresh {
			inst.Close()
		}
	}()

	return m.runSegment(clones)
}

// Resumed reports how many times this continuation has been invoked.
func (k *Continuation) Resumed() int {
	return k.resumed
}
