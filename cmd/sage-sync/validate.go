package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-dev/sagesync/internal/engine"
	"github.com/sage-dev/sagesync/internal/store"
	"github.com/sage-dev/sagesync/internal/ui"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the canonical store without writing anything",
	Long: `Load the canonical store and report schema errors, duplicate ids,
and dangling dependency references. Nothing is modified.

Exit code 1 when fatal errors are found.`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := newEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		st := store.New(env.cfg.StorePath(), env.sink.Logger("store"))
		col, err := st.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		vrep := store.Validate(col)
		rep := &engine.Report{Validation: vrep, TicketsTotal: len(col.Tickets)}
		ui.PrintValidation(os.Stdout, rep)
		if vrep.Fatal() {
			os.Exit(1)
		}
	},
}
