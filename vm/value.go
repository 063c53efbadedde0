package vm

import "strings"

// Value is the runtime value domain. Cmp returns (ordering, ok); ok is
// false when the two values are not comparable, which EQ treats as "not
// equal" and ordering operators treat as an error.
type Value interface {
	isValue()
	AsBool() bool
	Clone() Value
	Cmp(other Value) (int, bool)
}

type NoneValue struct{}

var None = NoneValue{}

func (NoneValue) isValue()     {}
func (NoneValue) AsBool() bool { return false }
func (n NoneValue) Clone() Value {
	return n
}
func (NoneValue) Cmp(other Value) (int, bool) {
	if _, ok := other.(NoneValue); ok {
		return 0, true
	}
	return 0, false
}

type BoolValue bool

var (
	BoolTrue  = BoolValue(true)
	BoolFalse = BoolValue(false)
)

func (BoolValue) isValue() {}
func (b BoolValue) AsBool() bool {
	return bool(b)
}
func (b BoolValue) Clone() Value {
	return b
}
func (b BoolValue) Cmp(other Value) (int, bool) {
	o, ok := other.(BoolValue)
	if !ok {
		return 0, false
	}
	if b == o {
		return 0, true
	}
	if !b {
		return -1, true
	}
	return 1, true
}

type IntValue int64

func (IntValue) isValue() {}
func (i IntValue) AsBool() bool {
	return i != 0
}
func (i IntValue) Clone() Value {
	return i
}
func (i IntValue) Cmp(other Value) (int, bool) {
	switch o := other.(type) {
	case IntValue:
		return cmpOrdered(int64(i), int64(o)), true
	case FloatValue:
		return cmpOrdered(float64(i), float64(o)), true
	}
	return 0, false
}

type FloatValue float64

func (FloatValue) isValue() {}
func (f FloatValue) AsBool() bool {
	return f != 0
}
func (f FloatValue) Clone() Value {
	return f
}
func (f FloatValue) Cmp(other Value) (int, bool) {
	switch o := other.(type) {
	case FloatValue:
		return cmpOrdered(float64(f), float64(o)), true
	case IntValue:
		return cmpOrdered(float64(f), float64(o)), true
	}
	return 0, false
}

type StrValue string

func (StrValue) isValue() {}
func (s StrValue) AsBool() bool {
	return s != ""
}
func (s StrValue) Clone() Value {
	return s
}
func (s StrValue) Cmp(other Value) (int, bool) {
	o, ok := other.(StrValue)
	if !ok {
		return 0, false
	}
	return strings.Compare(string(s), string(o)), true
}

type ArrayValue []Value

func (ArrayValue) isValue() {}
func (a ArrayValue) AsBool() bool {
	return len(a) > 0
}
func (a ArrayValue) Clone() Value {
	out := make(ArrayValue, len(a))
	for i, v := range a {
		out[i] = v.Clone()
	}
	return out
}

// Arrays order lexicographically, element by element. An incomparable
// element pair makes the arrays incomparable.
func (a ArrayValue) Cmp(other Value) (int, bool) {
	o, ok := other.(ArrayValue)
	if !ok {
		return 0, false
	}
	n := len(a)
	if len(o) < n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		c, ok := a[i].Cmp(o[i])
		if !ok {
			return 0, false
		}
		if c != 0 {
			return c, true
		}
	}
	return cmpOrdered(len(a), len(o)), true
}

type StructValue map[string]Value

func (StructValue) isValue() {}
func (s StructValue) AsBool() bool {
	return len(s) > 0
}
func (s StructValue) Clone() Value {
	out := make(StructValue, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Structs support equality only; unequal structs are incomparable so
// ordering operators reject them.
func (s StructValue) Cmp(other Value) (int, bool) {
	o, ok := other.(StructValue)
	if !ok {
		return 0, false
	}
	if len(s) != len(o) {
		return 0, false
	}
	for k, v := range s {
		ov, ok := o[k]
		if !ok {
			return 0, false
		}
		c, ok := v.Cmp(ov)
		if !ok || c != 0 {
			return 0, false
		}
	}
	return 0, true
}

// FnPtrValue is a first-class reference to a compiled function.
type FnPtrValue ExecPtr

func (FnPtrValue) isValue()     {}
func (FnPtrValue) AsBool() bool { return true }
func (f FnPtrValue) Clone() Value {
	return f
}
func (f FnPtrValue) Cmp(other Value) (int, bool) {
	o, ok := other.(FnPtrValue)
	if !ok {
		return 0, false
	}
	if f == o {
		return 0, true
	}
	return 0, false
}

// BuiltinValue names a host function from the builtin registry.
type BuiltinValue struct {
	Name string
}

func (BuiltinValue) isValue()     {}
func (BuiltinValue) AsBool() bool { return true }
func (b BuiltinValue) Clone() Value {
	return b
}
func (b BuiltinValue) Cmp(other Value) (int, bool) {
	o, ok := other.(BuiltinValue)
	if !ok {
		return 0, false
	}
	if b.Name == o.Name {
		return 0, true
	}
	return 0, false
}

// ArgValue wraps a call argument; Key is empty for positional arguments.
// It only ever lives on the stack between BUILD_ARG and frame construction.
type ArgValue struct {
	Key   string
	Value Value
}

func (ArgValue) isValue() {}
func (a ArgValue) AsBool() bool {
	return a.Value.AsBool()
}
func (a ArgValue) Clone() Value {
	return ArgValue{Key: a.Key, Value: a.Value.Clone()}
}
func (ArgValue) Cmp(other Value) (int, bool) {
	return 0, false
}

func cmpOrdered[T int | int64 | float64](a, b T) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}
