// Package scenario runs TOML-described effect scenarios: a program, the
// effects it performs, a chain of built-in handlers, and an expectation
// on the outcome.
package scenario

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/effigy-dev/effigy/effect"
	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/vm"
)

type Spec struct {
	Scenario ScenarioDetails `toml:"scenario"`
	Effects  []EffectSpec    `toml:"effects,omitempty"`
	Handlers []HandlerSpec   `toml:"handlers,omitempty"`
	Expect   ExpectSpec      `toml:"expect,omitempty"`
}

type ScenarioDetails struct {
	File       string `toml:",omitempty"`
	Entrypoint string `toml:",omitempty"`
	MaxSteps   int    `toml:"max_steps,omitempty"`
}

type EffectSpec struct {
	Name       string          `toml:",omitempty"`
	Operations []OperationSpec `toml:",omitempty"`
}

type OperationSpec struct {
	Name  string `toml:",omitempty"`
	Arity int    `toml:",omitempty"`
}

// HandlerSpec names one link of the handler chain, outermost first.
// Kind selects a built-in handler; Initial seeds its storage cell.
type HandlerSpec struct {
	Effect  string      `toml:",omitempty"`
	Kind    string      `toml:",omitempty"`
	Initial interface{} `toml:",omitempty"`
}

type ExpectSpec struct {
	Result string `toml:",omitempty"`
	Error  string `toml:",omitempty"`
}

func parseSpec(f io.Reader) (*Spec, error) {
	var out Spec
	_, err := toml.NewDecoder(f).Decode(&out)
	return &out, err
}

func LoadSpecFromFile(path string) (*Spec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	s, err := parseSpec(f)
	if err != nil {
		return nil, err
	}
	if s.Scenario.File == "" {
		parts := strings.Split(fi.Name(), ".")
		parts = parts[:len(parts)-1]
		parts = append(parts, "star")
		s.Scenario.File = strings.Join(parts, ".")
	}
	filedir := filepath.Dir(path)
	s.Scenario.File = filepath.Clean(filepath.Join(filedir, s.Scenario.File))
	return s, nil
}

// BuildRunner declares the spec's effects, compiles the program with
// their operations in scope, runs the top-level block to populate
// globals, and hands back a Runner ready to execute the entrypoint.
func (s *Spec) BuildRunner() (*Runner, error) {
	if s.Scenario.Entrypoint == "" {
		return nil, fmt.Errorf("scenario has no entrypoint")
	}

	reg := effect.NewRegistry()
	for _, e := range s.Effects {
		ops := make([]effect.OperationDecl, len(e.Operations))
		for i, op := range e.Operations {
			ops[i] = effect.Op(op.Name, op.Arity)
		}
		if _, err := reg.Declare(e.Name, ops...); err != nil {
			return nil, err
		}
	}

	copts := &vm.CompileOptions{Operations: reg.Arities()}
	prog, err := vm.CompilePathWithOptions(s.Scenario.File, copts)
	if err != nil {
		return nil, err
	}

	m := interp.NewMachine(prog, reg)
	m.MaxSteps = s.Scenario.MaxSteps

	boot := &interp.StackFrame{}
	if _, err := m.RunFrame(nil, boot); err != nil {
		return nil, fmt.Errorf("initializing globals: %w", err)
	}
	for k, v := range boot.Variables {
		m.Globals.StoreVar(k, v)
	}

	return &Runner{Spec: s, Machine: m}, nil
}
