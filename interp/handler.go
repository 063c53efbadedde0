package interp

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/effigy-dev/effigy/vm"
)

// ReturnClause transforms the value a handled region completes with. It
// sees the installation's cell, so a state handler can pair the result
// with the final state.
type ReturnClause func(cell *Cell, v vm.Value) (vm.Value, error)

// DirectClause handles an operation in place at the call site. No
// continuation is captured; the returned value becomes the operation's
// result. Use this for tail-resumptive operations like a state get/put.
type DirectClause func(cell *Cell, args []vm.Value) (vm.Value, error)

// ControlClause handles an operation by taking over the rest of the
// handled region as a continuation. The clause may resume it zero, one,
// or many times; its own return value becomes the result of the whole
// region.
type ControlClause func(cell *Cell, args []vm.Value, k *Continuation) (vm.Value, error)

// Handler describes how one effect's operations are interpreted. It is a
// template: installing it produces an Installation with its own identity
// and storage cell.
type Handler struct {
	Effect  string
	Return  ReturnClause // nil means identity
	Direct  map[string]DirectClause
	Control map[string]ControlClause
	Initial vm.Value // starting cell value for each installation
}

func (h *Handler) handles(op string) bool {
	if _, ok := h.Direct[op]; ok {
		return true
	}
	_, ok := h.Control[op]
	return ok
}

// Installation is one live instance of a Handler. Each install gets a
// fresh ID and cell; closing it expires every continuation that targets
// it.
type Installation struct {
	ID      string
	Handler *Handler
	Cell    *Cell

	mu     sync.Mutex
	closed bool
	used   bool
}

func newInstallation(h *Handler) *Installation {
	initial := vm.Value(vm.None)
	if h.Initial != nil {
		initial = h.Initial.Clone()
	}
	inst := &Installation{
		ID:      uuid.NewString(),
		Handler: h,
		Cell:    &Cell{value: initial},
	}
	log.Debug().Str("id", inst.ID).Str("effect", h.Effect).Msg("handler installed")
	return inst
}

// RestoreInstallation rebuilds an installation from recorded fields. The
// result carries identity and cell contents only; no clauses sit behind
// it, so it serves snapshot inspection, not dispatch.
func RestoreInstallation(id, effectName string, cell vm.Value, alive bool) *Installation {
	return &Installation{
		ID:      id,
		Handler: &Handler{Effect: effectName},
		Cell:    &Cell{value: cell},
		closed:  !alive,
		used:    true,
	}
}

// Close marks the installation's extent as over. Idempotent.
func (inst *Installation) Close() {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.closed {
		return
	}
	inst.closed = true
	log.Debug().Str("id", inst.ID).Str("effect", inst.Handler.Effect).Msg("handler closed")
}

func (inst *Installation) Alive() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return !inst.closed
}

func (inst *Installation) markUsed() bool {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	if inst.used || inst.closed {
		return false
	}
	inst.used = true
	return true
}

// ret applies the return clause to a value delivered through this
// installation's marker.
func (inst *Installation) ret(v vm.Value) (vm.Value, error) {
	if inst.Handler.Return == nil {
		return v, nil
	}
	return inst.Handler.Return(inst.Cell, v)
}

// Cell is the storage slot a handler closes over. One cell is shared by
// every continuation targeting the same installation, so mutations made
// by earlier resumptions are visible to later ones. Values are copied on
// the way in and out; clauses cannot alias the stored value.
type Cell struct {
	mu    sync.Mutex
	value vm.Value
}

func (c *Cell) Get() vm.Value {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		return vm.None
	}
	return c.value.Clone()
}

func (c *Cell) Set(v vm.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = v.Clone()
}

// Update applies f to the stored value under the cell's lock.
func (c *Cell) Update(f func(vm.Value) vm.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.value == nil {
		c.value = vm.None
	}
	c.value = f(c.value)
}
