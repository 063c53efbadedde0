package snapshot

import (
	"io"

	"github.com/shamaton/msgpack/v2"

	"github.com/effigy-dev/effigy/vm"
)

// StateRef is the stored form of interp.State: hashes referencing its
// parts instead of the parts inline.
type StateRef struct {
	GlobalsHash Hash
	FrameHashes []Hash
}

func (s *StateRef) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, s)
}

func (s *StateRef) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, s)
}

// FrameRef is the stored form of interp.StackFrame. Handler is non-nil
// for handler marker frames.
type FrameRef struct {
	StackHashes    []Hash
	PC             vm.ExecPtr
	VariableNames  []string // parallel to VariableHashes
	VariableHashes []Hash
	IteratorHashes []Hash
	Handler        *InstallationRef
}

func (s *FrameRef) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, s)
}

func (s *FrameRef) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, s)
}

// InstallationRef records a handler installation at snapshot time. The
// clauses are Go functions and do not serialize; identity, effect, cell
// contents, and liveness do.
type InstallationRef struct {
	ID       string
	Effect   string
	CellHash Hash
	Alive    bool
}

// IteratorStateRef is the stored form of interp.IteratorState.
type IteratorStateRef struct {
	Start    vm.ExecPtr
	End      vm.ExecPtr
	IterHash Hash
	VarNames []string
}

func (s *IteratorStateRef) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, s)
}

func (s *IteratorStateRef) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, s)
}

// SliceIteratorData stores SliceIterator state.
type SliceIteratorData struct {
	ValueHashes []Hash
	Index       int
	VarCount    int
}

func (s *SliceIteratorData) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, s)
}

func (s *SliceIteratorData) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, s)
}

// DictIteratorData stores DictIterator state.
type DictIteratorData struct {
	DictHash Hash
	Keys     []string
	Index    int
	VarCount int
}

func (d *DictIteratorData) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, d)
}

func (d *DictIteratorData) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, d)
}

// StructValueRef stores a vm.StructValue as hash references, keeping
// field order deterministic through parallel sorted lists.
type StructValueRef struct {
	FieldNames  []string // parallel to FieldHashes
	FieldHashes []Hash
}

func (s *StructValueRef) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, s)
}

func (s *StructValueRef) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, s)
}

// ArrayValueRef stores a vm.ArrayValue as hash references.
type ArrayValueRef struct {
	ElementHashes []Hash
}

func (a *ArrayValueRef) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, a)
}

func (a *ArrayValueRef) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, a)
}

// ArgValueRef stores a vm.ArgValue; the wrapped value is a reference
// since its static type is an interface.
type ArgValueRef struct {
	Key       string
	ValueHash Hash
}

func (a *ArgValueRef) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, a)
}

func (a *ArgValueRef) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, a)
}
