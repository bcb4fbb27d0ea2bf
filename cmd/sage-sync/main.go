// Command sage-sync reconciles the canonical ticket store, its markdown
// projections, and an optional external issue tracker in a single batch
// run, then records the outcome as a report and an audit commit.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sage-dev/sagesync/internal/cache"
	"github.com/sage-dev/sagesync/internal/config"
	"github.com/sage-dev/sagesync/internal/engine"
	"github.com/sage-dev/sagesync/internal/logging"
	"github.com/sage-dev/sagesync/internal/projection"
	"github.com/sage-dev/sagesync/internal/store"
	"github.com/sage-dev/sagesync/internal/tracker"
	"github.com/sage-dev/sagesync/internal/vcs"
)

var (
	flagDir     string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "sage-sync",
	Short: "Batch ticket synchronization and conflict resolution",
	Long: `sage-sync keeps three representations of a ticket collection consistent:

  1. The canonical record store (.sage/tickets.json)
  2. Human-editable markdown projections (.sage/tickets/*.md)
  3. An optional external issue tracker (GitHub issues)

Edits made to the markdown files are folded back into the canonical store
with field-level conflict resolution, projections are regenerated, and the
result is committed to git with a structured report.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "data directory (default .sage)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "mirror the log to stderr")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(renderCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(readyCmd)
	rootCmd.AddCommand(cacheCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// runtimeEnv bundles the wired collaborators for one command invocation.
type runtimeEnv struct {
	cfg  *config.Config
	sink *logging.Sink
}

// newEnv loads configuration and opens the log sink. Callers must Close.
func newEnv() (*runtimeEnv, error) {
	cfg, err := config.Load(flagDir)
	if err != nil {
		return nil, err
	}
	sink, err := logging.New(logging.Options{
		File:       cfg.LogPath(),
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Verbose:    flagVerbose,
	})
	if err != nil {
		return nil, err
	}
	return &runtimeEnv{cfg: cfg, sink: sink}, nil
}

func (e *runtimeEnv) Close() {
	if e.sink != nil {
		e.sink.Close()
	}
}

// engineConfig wires the full pipeline. The tracker is attached only when
// configured; VCS only when the data directory sits inside a git repo.
// The returned cleanup closes the query cache.
func (e *runtimeEnv) engineConfig() (engine.Config, func()) {
	cfg := engine.Config{
		Store:       store.New(e.cfg.StorePath(), e.sink.Logger("store")),
		Projector:   projection.New(e.cfg.ProjectionDir(), e.sink.Logger("projection")),
		ReportPath:  e.cfg.ReportPath(),
		HistoryPath: e.cfg.HistoryPath(),
		Parallelism: e.cfg.Parallelism,
		Logger:      e.sink.Logger("engine"),
	}

	if e.cfg.TrackerEnabled() {
		gh := tracker.NewGitHub(tracker.GitHubOptions{
			BaseURL: e.cfg.Tracker.BaseURL,
			Owner:   e.cfg.Tracker.Owner,
			Repo:    e.cfg.Tracker.Repo,
			Token:   e.cfg.Tracker.Token,
			Timeout: e.cfg.Tracker.Timeout,
			Retries: e.cfg.Tracker.Retries,
		})
		cfg.Tracker = tracker.NewAdapter(gh, e.sink.Logger("tracker"))
	}

	if git, err := vcs.Detect(e.cfg.Dir); err == nil {
		cfg.VCS = git
	}

	cleanup := func() {}
	if qc, err := cache.Open(e.cfg.CachePath()); err == nil {
		cfg.Cache = qc
		cleanup = func() { qc.Close() }
	}

	return cfg, cleanup
}

// openCache opens the query cache for read-side commands.
func (e *runtimeEnv) openCache() (*cache.Cache, error) {
	return cache.Open(e.cfg.CachePath())
}
