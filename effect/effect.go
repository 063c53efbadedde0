// Package effect holds the operation registry: the process-wide catalog
// of declared effects and the operations they own.
package effect

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// OperationDecl declares one operation of an effect.
type OperationDecl struct {
	Name  string
	Arity int
}

// EffectDecl is an immutable effect declaration: a name plus its ordered
// operations.
type EffectDecl struct {
	Name       string
	Operations []OperationDecl
}

// Op is a convenience constructor for OperationDecl.
func Op(name string, arity int) OperationDecl {
	return OperationDecl{Name: name, Arity: arity}
}

// Registry maps effect names and operation names to their declarations.
// Declarations live for the registry's lifetime; there is no undeclare.
type Registry struct {
	mu      sync.RWMutex
	effects map[string]*EffectDecl
	ops     map[string]opEntry
}

type opEntry struct {
	Effect string
	Decl   OperationDecl
}

func NewRegistry() *Registry {
	return &Registry{
		effects: make(map[string]*EffectDecl),
		ops:     make(map[string]opEntry),
	}
}

// Declare registers an effect and claims its operation names. The effect
// name must be new (ErrDuplicateEffect) and every operation name must be
// unclaimed across all effects (ErrDuplicateOperation). On error nothing
// is registered.
func (r *Registry) Declare(name string, ops ...OperationDecl) (*EffectDecl, error) {
	if name == "" {
		return nil, fmt.Errorf("effect name must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.effects[name]; ok {
		return nil, fmt.Errorf("effect %s: %w", name, ErrDuplicateEffect)
	}
	seen := make(map[string]bool, len(ops))
	for _, op := range ops {
		if op.Name == "" {
			return nil, fmt.Errorf("effect %s: operation name must not be empty", name)
		}
		if op.Arity < 0 {
			return nil, fmt.Errorf("operation %s: arity must not be negative", op.Name)
		}
		if seen[op.Name] {
			return nil, fmt.Errorf("operation %s: %w", op.Name, ErrDuplicateOperation)
		}
		if owner, ok := r.ops[op.Name]; ok {
			return nil, fmt.Errorf("operation %s (owned by effect %s): %w", op.Name, owner.Effect, ErrDuplicateOperation)
		}
		seen[op.Name] = true
	}

	decl := &EffectDecl{
		Name:       name,
		Operations: append([]OperationDecl(nil), ops...),
	}
	r.effects[name] = decl
	for _, op := range ops {
		r.ops[op.Name] = opEntry{Effect: name, Decl: op}
	}
	log.Debug().Str("effect", name).Int("operations", len(ops)).Msg("Declare: registered effect")
	return decl, nil
}

// LookupEffect returns a declared effect by name.
func (r *Registry) LookupEffect(name string) (*EffectDecl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decl, ok := r.effects[name]
	return decl, ok
}

// LookupOperation resolves an operation name to its owning effect and
// declaration. Unknown names fail with ErrUnknownOperation.
func (r *Registry) LookupOperation(name string) (string, OperationDecl, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.ops[name]
	if !ok {
		return "", OperationDecl{}, fmt.Errorf("operation %s: %w", name, ErrUnknownOperation)
	}
	return entry.Effect, entry.Decl, nil
}

// Owns reports whether the named effect declares the named operation.
func (r *Registry) Owns(effectName, opName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.ops[opName]
	return ok && entry.Effect == effectName
}

// Arities exports every operation's arity, keyed by operation name. The
// compiler uses this to turn operation calls into PERFORM instructions.
func (r *Registry) Arities() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]int, len(r.ops))
	for name, entry := range r.ops {
		out[name] = entry.Decl.Arity
	}
	return out
}
