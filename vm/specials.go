package vm

import (
	"fmt"

	"go.starlark.net/syntax"
)

// performIdent is always compiled as a dynamic operation call: the first
// argument is an expression that evaluates to the operation name at
// runtime. Statically registered operation names (CompileOptions) don't
// need it; it exists for call sites whose operation is data.
const performIdent = "perform"

// specialCall intercepts calls whose callee is an identifier with special
// meaning: `perform(...)` and any name registered in
// CompileOptions.Operations. Returns true when the call was handled.
func (cc *compileContext) specialCall(call *syntax.CallExpr) (bool, error) {
	ident, ok := call.Fn.(*syntax.Ident)
	if !ok {
		return false, nil
	}

	if ident.Name == performIdent {
		if len(call.Args) < 1 {
			return true, fmt.Errorf("perform() requires an operation name argument")
		}
		args := call.Args[1:]
		for _, a := range args {
			if err := cc.operationArg(ident.Name, a); err != nil {
				return true, err
			}
		}
		if err := cc.expr(call.Args[0]); err != nil {
			return true, err
		}
		cc.emit(PERFORM, IntValue(len(args)))
		return true, nil
	}

	if cc.opts == nil {
		return false, nil
	}
	arity, ok := cc.opts.Operations[ident.Name]
	if !ok {
		return false, nil
	}
	if len(call.Args) != arity {
		return true, fmt.Errorf("Operation %s takes %d arguments, got %d", ident.Name, arity, len(call.Args))
	}
	for _, a := range call.Args {
		if err := cc.operationArg(ident.Name, a); err != nil {
			return true, err
		}
	}
	cc.emit(PUSH, StrValue(ident.Name))
	cc.emit(PERFORM, IntValue(len(call.Args)))
	return true, nil
}

// operationArg compiles one operation argument. Operations take positional
// arguments only; a keyword argument here would otherwise silently compile
// as an equality test.
func (cc *compileContext) operationArg(op string, arg syntax.Expr) error {
	if be, ok := arg.(*syntax.BinaryExpr); ok && be.Op == syntax.EQ {
		if _, ok := be.X.(*syntax.Ident); ok {
			return fmt.Errorf("Operation %s takes positional arguments only", op)
		}
	}
	return cc.expr(arg)
}
