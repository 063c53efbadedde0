package scenario

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/effigy-dev/effigy/interp"
	"github.com/effigy-dev/effigy/snapshot"
	"github.com/effigy-dev/effigy/vm"
)

// Runner executes one scenario: install the handler chain, run the
// entrypoint, record dispatches, judge the outcome against [expect].
type Runner struct {
	Spec    *Spec
	Machine *interp.Machine

	// Store, when set, receives a snapshot of the machine state at
	// every operation dispatch.
	Store snapshot.Store
}

// TraceStep records one operation dispatch during a run.
type TraceStep struct {
	Seq       int
	Op        string
	Effect    string
	HandlerID string
	Kind      string
	StateHash snapshot.Hash
}

// Result is the outcome of one scenario run. Err holds the evaluation
// error, if any; Failures holds expectation mismatches.
type Result struct {
	Value    vm.Value
	Rendered string
	Err      error
	Trace    []TraceStep
	Failures []string
}

func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

// Statistics summarizes a run's dispatch activity.
type Statistics struct {
	Dispatches      int
	DirectClauses   int
	ControlClauses  int
	UniqueStates    int
	RevisitedStates int
}

func (r *Result) Statistics() Statistics {
	stats := Statistics{Dispatches: len(r.Trace)}
	seen := make(map[snapshot.Hash]bool)
	for _, step := range r.Trace {
		if step.Kind == "control" {
			stats.ControlClauses++
		} else {
			stats.DirectClauses++
		}
		if step.StateHash == 0 {
			continue
		}
		if seen[step.StateHash] {
			stats.RevisitedStates++
		} else {
			seen[step.StateHash] = true
			stats.UniqueStates++
		}
	}
	return stats
}

// Run evaluates the entrypoint under the spec's handler chain,
// outermost first. Setup problems (bad entrypoint, unknown kind,
// handler/effect mismatch) return an error; evaluation errors land in
// the Result and are judged against [expect].
func (r *Runner) Run() (*Result, error) {
	frame, err := r.Machine.FrameFromExpr(r.Spec.Scenario.Entrypoint)
	if err != nil {
		return nil, fmt.Errorf("entrypoint %s: %w", r.Spec.Scenario.Entrypoint, err)
	}

	insts := make([]*interp.Installation, 0, len(r.Spec.Handlers))
	for _, hs := range r.Spec.Handlers {
		h, err := BuildHandler(hs)
		if err != nil {
			return nil, err
		}
		inst, err := r.Machine.Install(h)
		if err != nil {
			return nil, err
		}
		insts = append(insts, inst)
	}

	res := &Result{}
	if r.Store != nil {
		r.Machine.OnDispatch = func(ev interp.DispatchEvent) {
			step := TraceStep{
				Seq:       len(res.Trace),
				Op:        ev.Op,
				Effect:    ev.Effect,
				HandlerID: ev.HandlerID,
				Kind:      "direct",
			}
			if ev.Control {
				step.Kind = "control"
			}
			hash, err := r.Store.PutState(ev.State)
			if err != nil {
				log.Warn().Err(err).Str("op", ev.Op).Msg("Run: could not snapshot dispatch state")
			} else {
				step.StateHash = hash
				r.Store.RecordSeen(hash, step.Seq)
			}
			res.Trace = append(res.Trace, step)
		}
		defer func() { r.Machine.OnDispatch = nil }()
	}

	val, err := r.Machine.RunFrame(insts, frame)
	res.Value = val
	res.Err = err
	if err == nil {
		res.Rendered = interp.FormatValue(val)
	}

	r.checkExpectations(res)
	return res, nil
}

func (r *Runner) checkExpectations(res *Result) {
	want := r.Spec.Expect
	if res.Err != nil {
		if want.Error == "" {
			res.Failures = append(res.Failures, fmt.Sprintf("run failed: %s", res.Err))
		} else if !strings.Contains(res.Err.Error(), want.Error) {
			res.Failures = append(res.Failures, fmt.Sprintf("error %q does not contain %q", res.Err, want.Error))
		}
		return
	}
	if want.Error != "" {
		res.Failures = append(res.Failures, fmt.Sprintf("expected an error containing %q, got result %s", want.Error, res.Rendered))
		return
	}
	if want.Result != "" && res.Rendered != want.Result {
		res.Failures = append(res.Failures, fmt.Sprintf("result %s does not match expected %s", res.Rendered, want.Result))
	}
}

// RunFile loads, builds, and runs a scenario file in one step.
func RunFile(path string, store snapshot.Store) (*Spec, *Result, error) {
	spec, err := LoadSpecFromFile(path)
	if err != nil {
		return nil, nil, err
	}
	runner, err := spec.BuildRunner()
	if err != nil {
		return spec, nil, err
	}
	runner.Store = store
	res, err := runner.Run()
	if err != nil {
		return spec, nil, err
	}
	return spec, res, nil
}
