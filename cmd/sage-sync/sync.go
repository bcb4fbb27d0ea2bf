package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-dev/sagesync/internal/engine"
	"github.com/sage-dev/sagesync/internal/ui"
)

var (
	flagExternal bool
	flagPull     bool
	flagIDs      []string
	flagAll      bool
	flagDryRun   bool
	flagNoVerify bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one full synchronization cycle",
	Long: `Run one synchronization cycle:

  1. Load and validate the canonical store
  2. Fold edited markdown projections back in, resolving conflicts
  3. Regenerate all projections from the merged state
  4. Push to the external tracker (with --external), pull state (with --pull)
  5. Rebuild the query cache and commit the results

Exit codes: 0 on success, 1 on fatal validation or load errors, 2 when the
local reconciliation succeeded but external sync or the commit failed.`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(flagIDs) > 0 && flagAll {
			fmt.Fprintln(os.Stderr, "Error: --id and --all are mutually exclusive")
			os.Exit(1)
		}

		env, err := newEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		cfg, cleanup := env.engineConfig()
		defer cleanup()

		rep, err := engine.New(cfg).Run(cmd.Context(), engine.Options{
			External: flagExternal || flagPull,
			Pull:     flagPull,
			IDs:      flagIDs,
			DryRun:   flagDryRun,
			NoVerify: flagNoVerify,
		})
		if err != nil {
			if errors.Is(err, engine.ErrValidation) && rep != nil {
				ui.PrintValidation(os.Stdout, rep)
			}
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ui.PrintReport(os.Stdout, rep)
		if rep.Partial() {
			os.Exit(2)
		}
	},
}

func init() {
	syncCmd.Flags().BoolVar(&flagExternal, "external", false, "push ticket state to the external tracker")
	syncCmd.Flags().BoolVar(&flagPull, "pull", false, "also fold tracker issue state back in (implies --external)")
	syncCmd.Flags().StringSliceVar(&flagIDs, "id", nil, "restrict the run to the given ticket ids")
	syncCmd.Flags().BoolVar(&flagAll, "all", false, "sync every ticket (the default)")
	syncCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "report what would change without writing")
	syncCmd.Flags().BoolVar(&flagNoVerify, "no-verify", false, "skip commit hooks on the audit commit")
}
