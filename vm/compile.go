package vm

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.starlark.net/syntax"
)

type Op struct {
	Code Opcode
	Arg  Value
}

func (o Op) String() string {
	if o.Arg == nil {
		return o.Code.String()
	}
	return fmt.Sprintf("%s %v", o.Code, o.Arg)
}

// CompileOptions extend the compiler beyond the base language. Operations
// maps effect operation names to their arity; a call to one of these names
// compiles to PERFORM instead of CALL, with the argument count checked at
// compile time. Registered names take precedence over functions of the
// same name.
type CompileOptions struct {
	Operations map[string]int
}

type compileContext struct {
	ops        []Op
	lines      []int32
	curLine    int32
	topLevel   bool
	filename   string
	subContext map[string]*compileContext
	params     []FunctionParam
	opts       *CompileOptions
}

func (cc *compileContext) DebugPrint() {
	fmt.Printf("ops: %#v\n", cc.ops)
	fmt.Printf("params: %#v\n", cc.params)
	if len(cc.subContext) != 0 {
		for k, v := range cc.subContext {
			fmt.Printf("%s:\n", k)
			fmt.Printf("\tops: %#v\n", v.ops)
			fmt.Printf("\tparams: %#v\n", v.params)
		}
	}
}

func (cc *compileContext) emit(op Opcode, arg ...Value) {
	o := Op{Code: op}
	if len(arg) > 0 {
		o.Arg = arg[0]
	}
	cc.ops = append(cc.ops, o)
	cc.lines = append(cc.lines, cc.curLine)
}

func (cc *compileContext) newLabel() string {
	return uuid.NewString()
}

func (cc *compileContext) emitLabel(s string) {
	cc.emit(LABEL, StrValue(s))
}

func (cc *compileContext) setLine(n syntax.Node) {
	start, _ := n.Span()
	cc.curLine = start.Line
}

func newCompileContext() *compileContext {
	return &compileContext{
		subContext: make(map[string]*compileContext),
	}
}

func CompilePath(path string) (*Program, error) {
	return CompilePathWithOptions(path, nil)
}

func CompilePathWithOptions(path string, copts *CompileOptions) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	opts := syntax.FileOptions{}
	synFile, err := opts.Parse(path, f, 0)
	if err != nil {
		return nil, err
	}
	return CompileWithOptions(synFile, copts)
}

func Compile(file *syntax.File) (*Program, error) {
	return CompileWithOptions(file, nil)
}

func CompileWithOptions(file *syntax.File, copts *CompileOptions) (*Program, error) {
	cc, err := buildCompileContextTree(file, copts)
	if err != nil {
		return nil, err
	}
	return cc.intoProgram()
}

func (cc *compileContext) intoProgram() (*Program, error) {
	p := &Program{
		Filename:    cc.filename,
		Definitions: make(map[string]int),
	}
	if !cc.topLevel {
		return nil, errors.New("Can't make a program out of a non-top-level context")
	}
	f, err := cc.intoFunction()
	if err != nil {
		return nil, err
	}
	p.Main = f
	for k, v := range cc.subContext {
		f, err := v.intoFunction()
		if err != nil {
			return nil, err
		}
		n := len(p.Code)
		p.Code = append(p.Code, f)
		p.Definitions[k] = n + 1
	}
	// Top level context
	return p, nil
}

func (cc *compileContext) intoFunction() (*Function, error) {
	f := &Function{}
	f.Params = cc.params
	offsetmap := make(map[string]int)
	for i, b := range cc.ops {
		if b.Code == LABEL {
			offsetmap[string(b.Arg.(StrValue))] = len(f.Bytecode)
			continue
		}
		f.Bytecode = append(f.Bytecode, b)
		var line int32
		if i < len(cc.lines) {
			line = cc.lines[i]
		}
		f.Lines = append(f.Lines, line)
	}
	for i, b := range f.Bytecode {
		switch b.Code {
		case JMP, JFALSE, ITER_START, ITER_START_2:
			if v, ok := b.Arg.(StrValue); ok {
				b.Arg = IntValue(offsetmap[string(v)])
			}
		}
		f.Bytecode[i] = b // Replace after changes
	}
	return f, nil
}

func buildCompileContextTree(file *syntax.File, copts *CompileOptions) (*compileContext, error) {
	cc := newCompileContext()
	cc.topLevel = true
	cc.filename = file.Path
	cc.opts = copts
	err := cc.buildFromStatements(file.Stmts)
	if err != nil {
		return nil, err
	}
	return cc, nil
}

func (cc *compileContext) buildFromStatements(stmts []syntax.Stmt) error {
	for _, s := range stmts {
		err := cc.statement(s)
		if err != nil {
			return err
		}
	}
	return nil
}
