package snapshot

import (
	"fmt"
	"io"
	"reflect"

	"github.com/shamaton/msgpack/v2"
)

// TypedEntry wraps stored bytes with a type tag so retrieval knows what
// to deserialize into.
type TypedEntry struct {
	TypeTag string
	Data    []byte
}

func (t *TypedEntry) Serialize(w io.Writer) error {
	return msgpack.MarshalWrite(w, t)
}

func (t *TypedEntry) Deserialize(r io.Reader) error {
	return msgpack.UnmarshalRead(r, t)
}

var typeRegistry = make(map[string]reflect.Type)

func registerType(tag string, example Hashable) {
	typeRegistry[tag] = reflect.TypeOf(example)
}

func init() {
	registerType("StateRef", &StateRef{})
	registerType("FrameRef", &FrameRef{})
	registerType("IteratorStateRef", &IteratorStateRef{})
	registerType("SliceIteratorData", &SliceIteratorData{})
	registerType("DictIteratorData", &DictIteratorData{})
	registerType("StructValueRef", &StructValueRef{})
	registerType("ArrayValueRef", &ArrayValueRef{})
	registerType("ArgValueRef", &ArgValueRef{})

	// vm.Value types are not registered: they serialize through
	// putValueDirect with their own tags and concrete-type decoding.
}

func getTypeTag(item Hashable) string {
	t := reflect.TypeOf(item)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	for tag, regType := range typeRegistry {
		checkType := regType
		if checkType.Kind() == reflect.Ptr {
			checkType = checkType.Elem()
		}
		if t == checkType {
			return tag
		}
	}
	return t.Name()
}

func createInstance(tag string) (Hashable, error) {
	regType, ok := typeRegistry[tag]
	if !ok {
		return nil, fmt.Errorf("unknown type tag: %s", tag)
	}
	if regType.Kind() == reflect.Ptr {
		elem := regType.Elem()
		instance := reflect.New(elem).Interface()
		return instance.(Hashable), nil
	}
	instance := reflect.New(regType).Interface()
	if h, ok := instance.(Hashable); ok {
		return h, nil
	}
	return nil, fmt.Errorf("type %s does not implement Hashable", tag)
}
