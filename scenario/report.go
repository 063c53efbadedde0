package scenario

import (
	"fmt"
	"strings"

	"github.com/gookit/color"

	"github.com/effigy-dev/effigy/snapshot"
	"github.com/effigy-dev/effigy/vm"
)

const (
	heavyRule = "================================================================================"
	lightRule = "--------------------------------------------------------------------------------"
)

// FormatResult renders a run outcome for display: pass/fail banner,
// result or error, and any expectation mismatches.
func FormatResult(name string, res *Result) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(heavyRule))
	b.WriteString("\n")
	if res.Passed() {
		b.WriteString(color.Green.Sprint("SCENARIO PASSED"))
	} else {
		b.WriteString(color.Red.Sprint("SCENARIO FAILED"))
	}
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(heavyRule))
	b.WriteString("\n")
	b.WriteString(color.Bold.Sprint("Scenario:   "))
	b.WriteString(color.Yellow.Sprintf("%s\n", name))
	if res.Err != nil {
		b.WriteString(color.Bold.Sprint("Error:      "))
		b.WriteString(color.Red.Sprintf("%s\n", res.Err))
	} else {
		b.WriteString(color.Bold.Sprint("Result:     "))
		b.WriteString(fmt.Sprintf("%s\n", res.Rendered))
	}
	b.WriteString(color.Bold.Sprint("Dispatches: "))
	b.WriteString(fmt.Sprintf("%d\n", len(res.Trace)))
	for _, f := range res.Failures {
		b.WriteString(color.Red.Sprintf("  ✗ %s\n", f))
	}
	b.WriteString(color.Gray.Sprint(heavyRule))
	b.WriteString("\n")
	return b.String()
}

// FormatTrace renders the dispatch trace. With details set and a store
// to read from, each step includes the machine state recorded at the
// dispatch point.
func FormatTrace(res *Result, store snapshot.Store, prog *vm.Program, details bool) string {
	var b strings.Builder
	b.WriteString(color.Gray.Sprint(lightRule))
	b.WriteString("\n")
	b.WriteString(color.Cyan.Sprint("Dispatch Trace:"))
	b.WriteString("\n")
	b.WriteString(color.Gray.Sprint(lightRule))
	b.WriteString("\n")

	if len(res.Trace) == 0 {
		b.WriteString("  (no operations dispatched)\n")
		return b.String()
	}

	for _, step := range res.Trace {
		b.WriteString(fmt.Sprintf("  %2d. %s/%s [%s] handler %s → state 0x%x\n",
			step.Seq+1, step.Effect, step.Op, step.Kind, shortID(step.HandlerID), step.StateHash))
		if !details || store == nil || step.StateHash == 0 {
			continue
		}
		state, err := snapshot.RetrieveState(store, step.StateHash)
		if err != nil {
			b.WriteString(fmt.Sprintf("      (state unavailable: %s)\n", err))
			continue
		}
		b.WriteString(indent(state.PrettyPrint(prog), "      "))
	}
	return b.String()
}

// FormatStatistics renders dispatch statistics for a run.
func FormatStatistics(stats Statistics) string {
	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(color.Cyan.Sprint("=== Scenario statistics ==="))
	b.WriteString("\n")
	b.WriteString(color.Bold.Sprint("Operations dispatched: "))
	b.WriteString(fmt.Sprintf("%d\n", stats.Dispatches))
	b.WriteString(color.Bold.Sprint("Direct clauses run: "))
	b.WriteString(fmt.Sprintf("%d\n", stats.DirectClauses))
	b.WriteString(color.Bold.Sprint("Control clauses run: "))
	b.WriteString(fmt.Sprintf("%d\n", stats.ControlClauses))
	b.WriteString(color.Bold.Sprint("Unique states recorded: "))
	b.WriteString(fmt.Sprintf("%d\n", stats.UniqueStates))
	b.WriteString(color.Bold.Sprint("States revisited: "))
	if stats.RevisitedStates > 0 {
		b.WriteString(color.Yellow.Sprintf("%d\n", stats.RevisitedStates))
	} else {
		b.WriteString(fmt.Sprintf("%d\n", stats.RevisitedStates))
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// indent prefixes every line of s, preserving the trailing newline.
func indent(s, prefix string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return ""
	}
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n") + "\n"
}
