// Package snapshot is a content-addressed store for machine states.
// States recorded at operation dispatch points decompose into hashed
// parts, so runs that revisit similar states share storage, and any
// recorded state can be pulled back out for inspection by hash.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/effigy-dev/effigy/interp"
)

type Store interface {
	Put(item Hashable) (Hash, error)

	// PutState decomposes a machine state into nested hash references
	// so parts recurring across snapshots share storage.
	PutState(s *interp.State) (Hash, error)

	Has(hash Hash) bool

	// Seen tracking: which dispatch sequence numbers produced a state
	// hash. A hash seen at several sequence numbers means the program
	// revisited the same state.
	RecordSeen(hash Hash, seq int)
	SeenAt(hash Hash) []int
}

type Serde interface {
	Serialize(w io.Writer) error
	Deserialize(r io.Reader) error
}

type Hashable interface {
	Serde
}

type directStore interface {
	getValue(h Hash) (bool, []byte, error)
}

type Hash uint64

// RetrieveState recomposes a stored machine state by hash. Handler
// markers come back as detached installations: identity, effect, cell
// contents, and liveness, with no clauses behind them.
func RetrieveState(s Store, hash Hash) (*interp.State, error) {
	v, ok := s.(directStore)
	if !ok {
		return nil, errors.New("store does not support direct retrieval")
	}
	return recomposeState(v, hash)
}

// Retrieve pulls a stored item back out by hash.
func Retrieve[T Hashable](s Store, hash Hash) (T, error) {
	var t T
	v, ok := s.(directStore)
	if !ok {
		return t, errors.New("store does not support direct retrieval")
	}

	has, data, err := v.getValue(hash)
	if err != nil {
		return t, err
	}
	if !has {
		return t, fmt.Errorf("hash not found in store: %d", hash)
	}

	typedEntry := &TypedEntry{}
	buf := bytes.NewReader(data)
	err = typedEntry.Deserialize(buf)
	if err != nil {
		return t, fmt.Errorf("deserializing TypedEntry: %w", err)
	}

	instance, err := createInstance(typedEntry.TypeTag)
	if err != nil {
		return t, fmt.Errorf("creating instance: %w", err)
	}

	dataBuf := bytes.NewReader(typedEntry.Data)
	err = instance.Deserialize(dataBuf)
	if err != nil {
		return t, fmt.Errorf("deserializing data: %w", err)
	}

	result, ok := instance.(T)
	if !ok {
		return t, fmt.Errorf("type mismatch: expected %T, got %T", t, instance)
	}

	return result, nil
}
