package scenario

import (
	"fmt"

	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/vm"
)

// BuildHandler constructs the handler for one chain link. Each kind
// binds conventional operation names; the scenario's effect declaration
// must use the same names, or Install rejects the handler.
func BuildHandler(hs HandlerSpec) (*interp.Handler, error) {
	initial, err := tomlValue(hs.Initial)
	if err != nil {
		return nil, fmt.Errorf("handler for effect %s: %w", hs.Effect, err)
	}
	switch hs.Kind {
	case "collect":
		return CollectHandler(hs.Effect), nil
	case "state":
		return StateHandler(hs.Effect, initial), nil
	case "counter":
		return CounterHandler(hs.Effect, initial), nil
	case "abort":
		return AbortHandler(hs.Effect), nil
	default:
		return nil, fmt.Errorf("unknown handler kind %q for effect %s", hs.Kind, hs.Effect)
	}
}

// CollectHandler explores every choice and gathers the outcomes.
// choice(n) resumes with n down to 1 and concatenates the arrays the
// branches produce; fail() abandons its branch. A body that completes
// normally comes back as a singleton array, so the region's result is
// one flat list of outcomes.
func CollectHandler(effectName string) *interp.Handler {
	return &interp.Handler{
		Effect: effectName,
		Return: func(cell *interp.Cell, v vm.Value) (vm.Value, error) {
			return vm.ArrayValue{v}, nil
		},
		Control: map[string]interp.ControlClause{
			"choice": func(cell *interp.Cell, args []vm.Value, k *interp.Continuation) (vm.Value, error) {
				n, ok := args[0].(vm.IntValue)
				if !ok {
					return nil, fmt.Errorf("choice takes an int, got %s", interp.FormatValue(args[0]))
				}
				out := vm.ArrayValue{}
				for i := int64(n); i >= 1; i-- {
					branch, err := k.Resume(vm.IntValue(i))
					if err != nil {
						return nil, err
					}
					arr, ok := branch.(vm.ArrayValue)
					if !ok {
						return nil, fmt.Errorf("choice branch produced %s, want an array", interp.FormatValue(branch))
					}
					out = append(out, arr...)
				}
				return out, nil
			},
			"fail": func(cell *interp.Cell, args []vm.Value, k *interp.Continuation) (vm.Value, error) {
				return vm.ArrayValue{}, nil
			},
		},
	}
}

// StateHandler threads one storage cell through the region. get() reads
// the cell, put(v) writes it and hands back the previous value, and the
// final result is paired with the final state.
func StateHandler(effectName string, initial vm.Value) *interp.Handler {
	return &interp.Handler{
		Effect:  effectName,
		Initial: initial,
		Return: func(cell *interp.Cell, v vm.Value) (vm.Value, error) {
			return vm.StructValue{"result": v, "state": cell.Get()}, nil
		},
		Direct: map[string]interp.DirectClause{
			"get": func(cell *interp.Cell, args []vm.Value) (vm.Value, error) {
				return cell.Get(), nil
			},
			"put": func(cell *interp.Cell, args []vm.Value) (vm.Value, error) {
				old := cell.Get()
				cell.Set(args[0])
				return old, nil
			},
		},
	}
}

// CounterHandler counts tick() calls. Each tick returns the count so
// far; the final result is paired with the total.
func CounterHandler(effectName string, initial vm.Value) *interp.Handler {
	if initial == nil {
		initial = vm.IntValue(0)
	}
	return &interp.Handler{
		Effect:  effectName,
		Initial: initial,
		Return: func(cell *interp.Cell, v vm.Value) (vm.Value, error) {
			return vm.StructValue{"result": v, "count": cell.Get()}, nil
		},
		Direct: map[string]interp.DirectClause{
			"tick": func(cell *interp.Cell, args []vm.Value) (vm.Value, error) {
				var out vm.Value
				cell.Update(func(v vm.Value) vm.Value {
					n, _ := v.(vm.IntValue)
					out = n + 1
					return out
				})
				return out, nil
			},
		},
	}
}

// AbortHandler escapes the region: stop(v) abandons the rest of the
// body and makes v the region's result.
func AbortHandler(effectName string) *interp.Handler {
	return &interp.Handler{
		Effect: effectName,
		Control: map[string]interp.ControlClause{
			"stop": func(cell *interp.Cell, args []vm.Value, k *interp.Continuation) (vm.Value, error) {
				return args[0], nil
			},
		},
	}
}

// tomlValue converts a decoded TOML primitive into a runtime value.
func tomlValue(v interface{}) (vm.Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		if t {
			return vm.BoolTrue, nil
		}
		return vm.BoolFalse, nil
	case int64:
		return vm.IntValue(t), nil
	case float64:
		return vm.FloatValue(t), nil
	case string:
		return vm.StrValue(t), nil
	case []interface{}:
		out := make(vm.ArrayValue, len(t))
		for i, e := range t {
			ev, err := tomlValue(e)
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported initial value of type %T", v)
	}
}
