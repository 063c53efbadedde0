package snapshot

import (
	"bytes"
	"fmt"

	msgpack "github.com/shamaton/msgpack/v2"

	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/vm"
)

// recomposeState rebuilds a State from its StateRef.
func recomposeState(s directStore, hash Hash) (*interp.State, error) {
	ref, err := getDirect[*StateRef](s, hash)
	if err != nil {
		return nil, fmt.Errorf("retrieving StateRef: %w", err)
	}

	globals, err := recomposeStackFrame(s, ref.GlobalsHash)
	if err != nil {
		return nil, fmt.Errorf("recomposing globals: %w", err)
	}

	frames := make([]*interp.StackFrame, len(ref.FrameHashes))
	for i, h := range ref.FrameHashes {
		frame, err := recomposeStackFrame(s, h)
		if err != nil {
			return nil, fmt.Errorf("recomposing frame %d: %w", i, err)
		}
		frames[i] = frame
	}

	return &interp.State{
		Globals: globals,
		Frames:  frames,
	}, nil
}

// recomposeStackFrame rebuilds a StackFrame from its FrameRef. A marker
// frame gets a detached installation carrying the recorded identity and
// cell contents.
func recomposeStackFrame(s directStore, hash Hash) (*interp.StackFrame, error) {
	ref, err := getDirect[*FrameRef](s, hash)
	if err != nil {
		return nil, fmt.Errorf("retrieving FrameRef: %w", err)
	}

	frame := &interp.StackFrame{
		PC:        ref.PC,
		Variables: make(map[string]vm.Value),
	}

	for i, h := range ref.StackHashes {
		v, err := recomposeValue(s, h)
		if err != nil {
			return nil, fmt.Errorf("recomposing stack value %d: %w", i, err)
		}
		frame.Stack = append(frame.Stack, v)
	}

	for i, name := range ref.VariableNames {
		h := ref.VariableHashes[i]
		v, err := recomposeValue(s, h)
		if err != nil {
			return nil, fmt.Errorf("recomposing variable %s: %w", name, err)
		}
		frame.Variables[name] = v
	}

	for i, h := range ref.IteratorHashes {
		iter, err := recomposeIteratorState(s, h)
		if err != nil {
			return nil, fmt.Errorf("recomposing iterator %d: %w", i, err)
		}
		frame.IteratorStack = append(frame.IteratorStack, iter)
	}

	if ref.Handler != nil {
		cell, err := recomposeValue(s, ref.Handler.CellHash)
		if err != nil {
			return nil, fmt.Errorf("recomposing handler cell: %w", err)
		}
		frame.Handler = interp.RestoreInstallation(ref.Handler.ID, ref.Handler.Effect, cell, ref.Handler.Alive)
	}

	return frame, nil
}

func recomposeIteratorState(s directStore, hash Hash) (*interp.IteratorState, error) {
	ref, err := getDirect[*IteratorStateRef](s, hash)
	if err != nil {
		return nil, fmt.Errorf("retrieving IteratorStateRef: %w", err)
	}

	iter, err := recomposeIterator(s, ref.IterHash)
	if err != nil {
		return nil, fmt.Errorf("recomposing iterator: %w", err)
	}

	return &interp.IteratorState{
		Start:    ref.Start,
		End:      ref.End,
		Iter:     iter,
		VarNames: ref.VarNames,
	}, nil
}

func recomposeIterator(s directStore, hash Hash) (interp.Iterator, error) {
	tag, err := peekTypeTag(s, hash)
	if err != nil {
		return nil, err
	}

	switch tag {
	case "SliceIteratorData":
		data, err := getDirect[*SliceIteratorData](s, hash)
		if err != nil {
			return nil, fmt.Errorf("retrieving SliceIteratorData: %w", err)
		}
		values := make([]vm.Value, len(data.ValueHashes))
		for i, vh := range data.ValueHashes {
			val, err := recomposeValue(s, vh)
			if err != nil {
				return nil, fmt.Errorf("recomposing slice value %d: %w", i, err)
			}
			values[i] = val
		}
		return &interp.SliceIterator{
			Values:   values,
			Index:    data.Index,
			VarCount: data.VarCount,
		}, nil

	case "DictIteratorData":
		data, err := getDirect[*DictIteratorData](s, hash)
		if err != nil {
			return nil, fmt.Errorf("retrieving DictIteratorData: %w", err)
		}
		dictVal, err := recomposeValue(s, data.DictHash)
		if err != nil {
			return nil, fmt.Errorf("recomposing dict: %w", err)
		}
		dict, ok := dictVal.(vm.StructValue)
		if !ok {
			return nil, fmt.Errorf("expected StructValue, got %T", dictVal)
		}
		return &interp.DictIterator{
			Dict:     dict,
			Keys:     data.Keys,
			Index:    data.Index,
			VarCount: data.VarCount,
		}, nil

	default:
		return nil, fmt.Errorf("hash %x does not hold an iterator: %s", hash, tag)
	}
}

// recomposeValue rebuilds a vm.Value, following references for container
// types and deserializing scalars in place.
func recomposeValue(s directStore, hash Hash) (vm.Value, error) {
	entry, err := loadEntry(s, hash)
	if err != nil {
		return nil, err
	}

	switch entry.TypeTag {
	case "StructValueRef":
		ref := &StructValueRef{}
		if err := ref.Deserialize(bytes.NewReader(entry.Data)); err != nil {
			return nil, fmt.Errorf("deserializing StructValueRef: %w", err)
		}
		result := make(vm.StructValue)
		for i, name := range ref.FieldNames {
			v, err := recomposeValue(s, ref.FieldHashes[i])
			if err != nil {
				return nil, fmt.Errorf("recomposing struct field %s: %w", name, err)
			}
			result[name] = v
		}
		return result, nil

	case "ArrayValueRef":
		ref := &ArrayValueRef{}
		if err := ref.Deserialize(bytes.NewReader(entry.Data)); err != nil {
			return nil, fmt.Errorf("deserializing ArrayValueRef: %w", err)
		}
		result := make(vm.ArrayValue, 0, len(ref.ElementHashes))
		for i, h := range ref.ElementHashes {
			v, err := recomposeValue(s, h)
			if err != nil {
				return nil, fmt.Errorf("recomposing array element %d: %w", i, err)
			}
			result = append(result, v)
		}
		return result, nil

	case "ArgValueRef":
		ref := &ArgValueRef{}
		if err := ref.Deserialize(bytes.NewReader(entry.Data)); err != nil {
			return nil, fmt.Errorf("deserializing ArgValueRef: %w", err)
		}
		v, err := recomposeValue(s, ref.ValueHash)
		if err != nil {
			return nil, fmt.Errorf("recomposing argument value: %w", err)
		}
		return vm.ArgValue{Key: ref.Key, Value: v}, nil

	default:
		return deserializeValue(entry)
	}
}

// deserializeValue decodes a scalar vm.Value from a TypedEntry into its
// concrete type.
func deserializeValue(entry *TypedEntry) (vm.Value, error) {
	buf := bytes.NewReader(entry.Data)

	switch entry.TypeTag {
	case "BoolValue":
		var v vm.BoolValue
		err := msgpack.UnmarshalRead(buf, &v)
		return v, err
	case "IntValue":
		var v vm.IntValue
		err := msgpack.UnmarshalRead(buf, &v)
		return v, err
	case "FloatValue":
		var v vm.FloatValue
		err := msgpack.UnmarshalRead(buf, &v)
		return v, err
	case "StrValue":
		var v vm.StrValue
		err := msgpack.UnmarshalRead(buf, &v)
		return v, err
	case "NoneValue":
		var v vm.NoneValue
		err := msgpack.UnmarshalRead(buf, &v)
		return v, err
	case "FnPtrValue":
		var v vm.FnPtrValue
		err := msgpack.UnmarshalRead(buf, &v)
		return v, err
	case "BuiltinValue":
		var v vm.BuiltinValue
		err := msgpack.UnmarshalRead(buf, &v)
		return v, err
	default:
		return nil, fmt.Errorf("unknown value type tag: %s", entry.TypeTag)
	}
}

func loadEntry(s directStore, hash Hash) (*TypedEntry, error) {
	has, data, err := s.getValue(hash)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, fmt.Errorf("hash not found in store: %d", hash)
	}
	entry := &TypedEntry{}
	if err := entry.Deserialize(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("deserializing TypedEntry: %w", err)
	}
	return entry, nil
}

func peekTypeTag(s directStore, hash Hash) (string, error) {
	entry, err := loadEntry(s, hash)
	if err != nil {
		return "", err
	}
	return entry.TypeTag, nil
}

// getDirect retrieves one stored item and deserializes it as T.
func getDirect[T Hashable](s directStore, hash Hash) (T, error) {
	var zero T

	entry, err := loadEntry(s, hash)
	if err != nil {
		return zero, err
	}

	instance, err := createInstance(entry.TypeTag)
	if err != nil {
		return zero, fmt.Errorf("creating instance: %w", err)
	}

	if err := instance.Deserialize(bytes.NewReader(entry.Data)); err != nil {
		return zero, fmt.Errorf("deserializing: %w", err)
	}

	result, ok := instance.(T)
	if !ok {
		return zero, fmt.Errorf("type mismatch: expected %T, got %T", zero, instance)
	}
	return result, nil
}
