package main

import (
	"fmt"
	"os"

	"github.com/gookit/color"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/effigy-dev/effigy/scenario"
	"github.com/effigy-dev/effigy/snapshot"
)

var (
	detailsFlag    bool
	maxStepsFlag   int
	resultOnlyFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run SCENARIO",
	Short: "Run a scenario file",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCommand,
}

func init() {
	runCmd.Flags().BoolVar(&detailsFlag, "details", false, "Show the recorded machine state at every operation dispatch")
	runCmd.Flags().IntVar(&maxStepsFlag, "max-steps", 0, "Override the scenario's step limit")
	runCmd.Flags().BoolVar(&resultOnlyFlag, "result-only", false, "Print only the result value on stdout")
}

func runCommand(cmd *cobra.Command, args []string) {
	filename := args[0]
	spec, err := scenario.LoadSpecFromFile(filename)
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't load scenario file")
	}
	if maxStepsFlag > 0 {
		spec.Scenario.MaxSteps = maxStepsFlag
	}
	runner, err := spec.BuildRunner()
	if err != nil {
		log.Fatal().Err(err).Msg("Couldn't build runner for scenario")
	}
	store := snapshot.NewLRUStore(snapshot.NewMemoryStore(), 256)
	runner.Store = store

	if !resultOnlyFlag {
		fmt.Fprintln(os.Stderr, color.Cyan.Sprint("Running scenario..."))
	}

	res, err := runner.Run()
	if err != nil {
		log.Fatal().Err(err).Msg("Error running scenario")
	}

	if resultOnlyFlag {
		if res.Err != nil {
			log.Fatal().Err(res.Err).Msg("Scenario failed")
		}
		fmt.Println(res.Rendered)
		if !res.Passed() {
			os.Exit(1)
		}
		return
	}

	fmt.Fprint(os.Stderr, scenario.FormatResult(filename, res))
	fmt.Fprint(os.Stderr, scenario.FormatTrace(res, store, runner.Machine.Program, detailsFlag))
	fmt.Fprint(os.Stderr, scenario.FormatStatistics(res.Statistics()))

	if res.Passed() {
		fmt.Fprintln(os.Stderr)
		fmt.Fprintln(os.Stderr, color.Green.Sprint("✓ Scenario completed - expectations satisfied"))
	} else {
		os.Exit(1)
	}
}
