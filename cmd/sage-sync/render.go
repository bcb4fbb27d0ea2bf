package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-dev/sagesync/internal/projection"
	"github.com/sage-dev/sagesync/internal/store"
)

var renderCmd = &cobra.Command{
	Use:   "render [id...]",
	Short: "Regenerate markdown projections from the canonical store",
	Long: `Regenerate text projections from canonical state without merging
edits back first. Unsaved manual edits to the listed projections are
overwritten. With no arguments, every projection is regenerated.`,
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

		proj := projection.New(env.cfg.ProjectionDir(), env.sink.Logger("projection"))

		targets := col.Tickets
		if len(args) > 0 {
			targets = targets[:0:0]
			for _, id := range args {
				t := col.Get(id)
				if t == nil {
					fmt.Fprintf(os.Stderr, "Error: unknown ticket id %q\n", id)
					os.Exit(1)
				}
				targets = append(targets, t)
			}
		}

		written := 0
		for _, t := range targets {
			changed, err := proj.Write(t)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: render %s: %v\n", t.ID, err)
				os.Exit(1)
			}
			if changed {
				written++
			}
		}
		fmt.Printf("Rendered %d projections (%d changed)\n", len(targets), written)
	},
}
