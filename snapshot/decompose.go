package snapshot

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/dgryski/go-farm"
	msgpack "github.com/shamaton/msgpack/v2"

	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/vm"
)

// decomposeState breaks a State into a StateRef whose parts are stored
// separately, and returns the StateRef's hash. Caller holds the store
// lock.
func decomposeState(c *MemoryStore, s *interp.State) (Hash, error) {
	if s == nil {
		return 0, fmt.Errorf("cannot decompose nil State")
	}

	globalsHash, err := decomposeStackFrame(c, s.Globals)
	if err != nil {
		return 0, fmt.Errorf("decomposing globals: %w", err)
	}

	frameHashes := make([]Hash, len(s.Frames))
	for i, frame := range s.Frames {
		h, err := decomposeStackFrame(c, frame)
		if err != nil {
			return 0, fmt.Errorf("decomposing frame %d: %w", i, err)
		}
		frameHashes[i] = h
	}

	ref := &StateRef{
		GlobalsHash: globalsHash,
		FrameHashes: frameHashes,
	}
	return putDirect(c, ref)
}

// decomposeStackFrame breaks a StackFrame into a FrameRef. Marker frames
// record their installation; their identity and cell contents survive,
// their clauses do not.
func decomposeStackFrame(c *MemoryStore, f *interp.StackFrame) (Hash, error) {
	if f == nil {
		return 0, fmt.Errorf("cannot decompose nil StackFrame")
	}

	var stackHashes []Hash
	for i, v := range f.Stack {
		h, err := decomposeValue(c, v)
		if err != nil {
			return 0, fmt.Errorf("decomposing stack value %d: %w", i, err)
		}
		stackHashes = append(stackHashes, h)
	}

	// Parallel sorted lists keep variable ordering deterministic.
	varNames := make([]string, 0, len(f.Variables))
	for name := range f.Variables {
		varNames = append(varNames, name)
	}
	sort.Strings(varNames)

	varHashes := make([]Hash, len(varNames))
	for i, name := range varNames {
		h, err := decomposeValue(c, f.Variables[name])
		if err != nil {
			return 0, fmt.Errorf("decomposing variable %s: %w", name, err)
		}
		varHashes[i] = h
	}

	var iterHashes []Hash
	for i, iter := range f.IteratorStack {
		h, err := decomposeIteratorState(c, iter)
		if err != nil {
			return 0, fmt.Errorf("decomposing iterator %d: %w", i, err)
		}
		iterHashes = append(iterHashes, h)
	}

	var handlerRef *InstallationRef
	if f.Handler != nil {
		cellHash, err := decomposeValue(c, f.Handler.Cell.Get())
		if err != nil {
			return 0, fmt.Errorf("decomposing handler cell: %w", err)
		}
		handlerRef = &InstallationRef{
			ID:       f.Handler.ID,
			Effect:   f.Handler.Handler.Effect,
			CellHash: cellHash,
			Alive:    f.Handler.Alive(),
		}
	}

	ref := &FrameRef{
		StackHashes:    stackHashes,
		PC:             f.PC,
		VariableNames:  varNames,
		VariableHashes: varHashes,
		IteratorHashes: iterHashes,
		Handler:        handlerRef,
	}
	return putDirect(c, ref)
}

func decomposeIteratorState(c *MemoryStore, iter *interp.IteratorState) (Hash, error) {
	if iter == nil {
		return 0, fmt.Errorf("cannot decompose nil IteratorState")
	}

	iterHash, err := decomposeIterator(c, iter.Iter)
	if err != nil {
		return 0, fmt.Errorf("decomposing iterator: %w", err)
	}

	ref := &IteratorStateRef{
		Start:    iter.Start,
		End:      iter.End,
		IterHash: iterHash,
		VarNames: iter.VarNames,
	}
	return putDirect(c, ref)
}

func decomposeIterator(c *MemoryStore, iter interp.Iterator) (Hash, error) {
	switch it := iter.(type) {
	case *interp.SliceIterator:
		valueHashes := make([]Hash, len(it.Values))
		for i, v := range it.Values {
			h, err := decomposeValue(c, v)
			if err != nil {
				return 0, fmt.Errorf("decomposing slice value %d: %w", i, err)
			}
			valueHashes[i] = h
		}
		return putDirect(c, &SliceIteratorData{
			ValueHashes: valueHashes,
			Index:       it.Index,
			VarCount:    it.VarCount,
		})

	case *interp.DictIterator:
		dictHash, err := decomposeValue(c, it.Dict)
		if err != nil {
			return 0, fmt.Errorf("decomposing dict: %w", err)
		}
		return putDirect(c, &DictIteratorData{
			DictHash: dictHash,
			Keys:     it.Keys,
			Index:    it.Index,
			VarCount: it.VarCount,
		})

	default:
		return 0, fmt.Errorf("unknown iterator type: %T", iter)
	}
}

// decomposeValue stores a vm.Value. Scalars store inline; containers
// become refs so interface-typed elements survive the round trip.
func decomposeValue(c *MemoryStore, v vm.Value) (Hash, error) {
	if v == nil {
		return 0, fmt.Errorf("cannot decompose nil Value")
	}

	switch val := v.(type) {
	case vm.BoolValue, vm.IntValue, vm.FloatValue, vm.StrValue, vm.NoneValue, vm.FnPtrValue, vm.BuiltinValue:
		return putValueDirect(c, val)

	case vm.ArgValue:
		h, err := decomposeValue(c, val.Value)
		if err != nil {
			return 0, fmt.Errorf("decomposing argument value: %w", err)
		}
		return putDirect(c, &ArgValueRef{Key: val.Key, ValueHash: h})

	case vm.StructValue:
		fieldNames := make([]string, 0, len(val))
		for k := range val {
			fieldNames = append(fieldNames, k)
		}
		sort.Strings(fieldNames)

		fieldHashes := make([]Hash, len(fieldNames))
		for i, k := range fieldNames {
			h, err := decomposeValue(c, val[k])
			if err != nil {
				return 0, fmt.Errorf("decomposing struct field %s: %w", k, err)
			}
			fieldHashes[i] = h
		}
		return putDirect(c, &StructValueRef{
			FieldNames:  fieldNames,
			FieldHashes: fieldHashes,
		})

	case vm.ArrayValue:
		elemHashes := make([]Hash, len(val))
		for i, elem := range val {
			h, err := decomposeValue(c, elem)
			if err != nil {
				return 0, fmt.Errorf("decomposing array element %d: %w", i, err)
			}
			elemHashes[i] = h
		}
		return putDirect(c, &ArrayValueRef{ElementHashes: elemHashes})

	default:
		return 0, fmt.Errorf("unknown value type: %T", v)
	}
}

// putDirect stores one serialized item under its content hash. Caller
// holds the store lock.
func putDirect(c *MemoryStore, item Hashable) (Hash, error) {
	var buf bytes.Buffer
	err := item.Serialize(&buf)
	if err != nil {
		return 0, fmt.Errorf("serializing item: %w", err)
	}
	return putEntry(c, getTypeTag(item), buf.Bytes())
}

// putValueDirect stores a scalar vm.Value, which has no Serde methods of
// its own, straight through msgpack.
func putValueDirect(c *MemoryStore, v vm.Value) (Hash, error) {
	var buf bytes.Buffer
	err := msgpack.MarshalWrite(&buf, v)
	if err != nil {
		return 0, fmt.Errorf("serializing value: %w", err)
	}
	return putEntry(c, getValueTypeTag(v), buf.Bytes())
}

// putEntry wraps data with its tag and stores it under the hash of the
// wrapped bytes. The tag is part of the hash: values of different types
// with identical encodings get distinct entries.
func putEntry(c *MemoryStore, tag string, data []byte) (Hash, error) {
	entry := &TypedEntry{
		TypeTag: tag,
		Data:    data,
	}
	var entryBuf bytes.Buffer
	err := entry.Serialize(&entryBuf)
	if err != nil {
		return 0, fmt.Errorf("serializing typed entry: %w", err)
	}

	stored := entryBuf.Bytes()
	h := Hash(farm.Hash64(stored))
	if _, ok := c.data[h]; !ok {
		c.data[h] = stored
	}
	return h, nil
}

func getValueTypeTag(v vm.Value) string {
	switch v.(type) {
	case vm.BoolValue:
		return "BoolValue"
	case vm.IntValue:
		return "IntValue"
	case vm.FloatValue:
		return "FloatValue"
	case vm.StrValue:
		return "StrValue"
	case vm.NoneValue:
		return "NoneValue"
	case vm.FnPtrValue:
		return "FnPtrValue"
	case vm.BuiltinValue:
		return "BuiltinValue"
	default:
		return fmt.Sprintf("%T", v)
	}
}
