package vm

import (
	"io"

	"go.starlark.net/syntax"
)

func LoadFile(name string, r io.Reader) (*Program, error) {
	return LoadFileWithOptions(name, r, nil)
}

func LoadFileWithOptions(name string, r io.Reader, copts *CompileOptions) (*Program, error) {
	opts := syntax.FileOptions{}
	f, err := opts.Parse(name, r, 0)
	if err != nil {
		return nil, err
	}
	return CompileWithOptions(f, copts)
}

// CompileLiteral compiles source held in a string.
func CompileLiteral(src string) (*Program, error) {
	return CompileLiteralWithOptions(src, nil)
}

func CompileLiteralWithOptions(src string, copts *CompileOptions) (*Program, error) {
	opts := syntax.FileOptions{}
	f, err := opts.Parse("<literal>", src, 0)
	if err != nil {
		return nil, err
	}
	return CompileWithOptions(f, copts)
}

// CompileExpr compiles a single expression; the resulting program's Main
// evaluates it and leaves the value on the stack.
func CompileExpr(src string) (*Program, error) {
	return CompileExprWithOptions(src, nil)
}

func CompileExprWithOptions(src string, copts *CompileOptions) (*Program, error) {
	opts := syntax.FileOptions{}
	e, err := opts.ParseExpr("<expr>", src, 0)
	if err != nil {
		return nil, err
	}
	cc := newCompileContext()
	cc.topLevel = true
	cc.opts = copts
	if err := cc.expr(e); err != nil {
		return nil, err
	}
	return cc.intoProgram()
}
