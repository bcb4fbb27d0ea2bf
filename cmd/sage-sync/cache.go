package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-dev/sagesync/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Query cache management",
	Long: `Manage the SQLite query cache (.sage/cache.db). The cache is a
derived read model over the canonical store; it can always be rebuilt.`,
}

var cacheRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the query cache from the canonical store",
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

		qc, err := env.openCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening query cache: %v\n", err)
			os.Exit(1)
		}
		defer qc.Close()

		if err := qc.Rebuild(cmd.Context(), col); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Rebuilt query cache with %d tickets\n", len(col.Tickets))
	},
}

func init() {
	cacheCmd.AddCommand(cacheRebuildCmd)
}
