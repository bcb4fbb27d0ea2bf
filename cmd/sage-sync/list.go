package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-dev/sagesync/internal/cache"
	"github.com/sage-dev/sagesync/internal/ticket"
	"github.com/sage-dev/sagesync/internal/ui"
)

var (
	flagListState    string
	flagListType     string
	flagListPriority string
	flagListLimit    int
	flagReadyLimit   int
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List tickets from the query cache",
	Long: `List tickets from the query cache (.sage/cache.db), ordered by
priority then id. The cache reflects the last sync; run "sage-sync sync"
or "sage-sync cache rebuild" to refresh it.`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := newEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		qc, err := env.openCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening query cache: %v\n", err)
			os.Exit(1)
		}
		defer qc.Close()

		rows, err := qc.List(cmd.Context(), cache.Filter{
			State:    ticket.State(flagListState),
			Type:     ticket.Type(flagListType),
			Priority: ticket.Priority(flagListPriority),
			Limit:    flagListLimit,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ui.PrintRows(os.Stdout, rows)
	},
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "List tickets ready to work on",
	Long: `List tickets that can be started now: not completed, not deferred,
and with no incomplete dependency (directly or transitively).`,
	Run: func(cmd *cobra.Command, args []string) {
		env, err := newEnv()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer env.Close()

		qc, err := env.openCache()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening query cache: %v\n", err)
			os.Exit(1)
		}
		defer qc.Close()

		rows, err := qc.Ready(cmd.Context(), flagReadyLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		ui.PrintRows(os.Stdout, rows)
	},
}

func init() {
	listCmd.Flags().StringVar(&flagListState, "state", "", "filter by state (UNPROCESSED, IN_PROGRESS, DEFERRED, COMPLETED)")
	listCmd.Flags().StringVar(&flagListType, "type", "", "filter by type (epic, story, task, subtask, bugfix)")
	listCmd.Flags().StringVar(&flagListPriority, "priority", "", "filter by priority (P0..P4)")
	listCmd.Flags().IntVar(&flagListLimit, "limit", 0, "maximum rows (0 = all)")
	readyCmd.Flags().IntVar(&flagReadyLimit, "limit", 0, "maximum rows (0 = all)")
}
