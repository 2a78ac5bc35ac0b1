package cmd

import (
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:     "run [task...]",
	Aliases: []string{"r"},
	Short:   "Run tasks in one invocation",
	Long: `Run the named tasks and everything they depend on. Each task runs at
most once, even when several of the named tasks share it. Without
arguments the default task runs.

A failing stylesheet is reported and the previous bundle is kept; any
other failing task stops the invocation.

Examples:
  assetforge run build
  assetforge run clean build
  assetforge run --proxy "" serve   # serve the output directory directly`,
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(runCmd)
}
