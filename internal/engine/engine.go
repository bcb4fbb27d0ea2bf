// Package engine drives one full synchronization cycle:
// load and validate the canonical store, fold edited text projections back
// in through the conflict resolver, re-render projections from the merged
// state, reconcile the external tracker, and commit the results with a
// structured report.
//
// The run is a one-way pipeline over an in-memory collection; the on-disk
// store is only ever replaced atomically, never mutated incrementally.
// Failures before the first save abort with no side effects; later failures
// persist whatever succeeded and surface as a partial result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sage-dev/sagesync/internal/projection"
	"github.com/sage-dev/sagesync/internal/resolve"
	"github.com/sage-dev/sagesync/internal/store"
	"github.com/sage-dev/sagesync/internal/ticket"
	"github.com/sage-dev/sagesync/internal/tracker"
	"github.com/sage-dev/sagesync/internal/vcs"
)

// ErrValidation is returned when collection validation finds a fatal
// problem. The run aborts before any write; details are on the report.
var ErrValidation = errors.New("fatal validation error")

// Config wires the engine's collaborators. Store and Projector are
// required; Tracker, VCS, and Cache are optional and disable their phase
// when nil.
type Config struct {
	Store     *store.Store
	Projector *projection.Projector
	Tracker   *tracker.Adapter
	VCS       vcs.VCS
	Cache     CacheRefresher

	// ReportPath and HistoryPath locate the run report document and the
	// append-only journal. Empty disables report persistence.
	ReportPath  string
	HistoryPath string

	// Parallelism bounds the concurrent projection parses.
	// Defaults to GOMAXPROCS.
	Parallelism int

	Logger *log.Logger
}

// CacheRefresher is the slice of the query cache the engine needs.
type CacheRefresher interface {
	Rebuild(ctx context.Context, col *store.Collection) error
}

// Options selects the work for one run.
type Options struct {
	// External enables the tracker push phase.
	External bool

	// Pull additionally folds tracker issue state back in as deltas.
	// Implies External.
	Pull bool

	// IDs restricts the run to the given ticket ids. Empty means all.
	IDs []string

	// DryRun reports what would change without writing anything.
	DryRun bool

	// NoVerify skips commit hooks on the audit commit.
	NoVerify bool
}

// Engine orchestrates sync runs.
type Engine struct {
	cfg Config
}

// New creates an engine. If cfg.Logger is nil, a default logger writing to
// stderr is used.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[engine] ", log.LstdFlags)
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = runtime.GOMAXPROCS(0)
	}
	return &Engine{cfg: cfg}
}

// Run performs one synchronization cycle.
//
// The returned error is non-nil only for fatal conditions (unreadable or
// invalid store, unknown --id, cancellation); everything else is
// accumulated into the report. Callers map errors and Report.Partial to
// exit codes.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	rep := &Report{StartedAt: time.Now().UTC(), DryRun: opts.DryRun}
	logger := e.cfg.Logger

	// Loaded
	col, err := e.cfg.Store.Load()
	if err != nil {
		return nil, err
	}
	rep.TicketsTotal = len(col.Tickets)

	// Validated. Fatal findings abort before any write.
	vrep := store.Validate(col)
	rep.Validation = vrep
	for _, w := range vrep.Warnings {
		rep.warn(WarnDependency, w.TicketID, w.Message)
	}
	if vrep.Fatal() {
		rep.FinishedAt = time.Now().UTC()
		logger.Printf("Validation failed with %d errors, aborting", len(vrep.Errors))
		return rep, ErrValidation
	}

	targets, err := selectTickets(col, opts.IDs)
	if err != nil {
		return nil, err
	}

	// Merged: fold text deltas into the canonical collection.
	if err := e.mergeProjections(ctx, col, targets, rep); err != nil {
		return rep, err
	}

	if rep.TicketsUpdated > 0 && !opts.DryRun {
		if err := e.cfg.Store.Save(col); err != nil {
			return rep, err
		}
	}

	// Text becomes a pure function of canonical state after the merge.
	if !opts.DryRun {
		e.renderProjections(targets, rep)
	}

	// ExternallySynced (optional). An adapter failure aborts only this
	// phase; the canonical-text reconciliation above stays committed.
	if (opts.External || opts.Pull) && e.cfg.Tracker != nil {
		if err := e.syncExternal(ctx, col, targets, opts, rep); err != nil {
			if ctxErr(err) {
				return rep, err
			}
			rep.ExternalError = err.Error()
			logger.Printf("WARNING: external sync aborted: %v", err)
		}
	}

	// Committed
	rep.FinishedAt = time.Now().UTC()
	if !opts.DryRun {
		e.refreshCache(ctx, col, rep)
		e.commit(ctx, opts, rep)
		if e.cfg.ReportPath != "" {
			if err := rep.Save(e.cfg.ReportPath, e.cfg.HistoryPath); err != nil {
				logger.Printf("WARNING: failed to persist report: %v", err)
			}
		}
	}

	logger.Printf("Sync complete: %d/%d tickets updated, %d conflicts, %d warnings",
		rep.TicketsUpdated, rep.TicketsTotal, len(rep.Conflicts), len(rep.Warnings))
	return rep, nil
}

func selectTickets(col *store.Collection, ids []string) ([]*ticket.Ticket, error) {
	if len(ids) == 0 {
		return col.Tickets, nil
	}
	var targets []*ticket.Ticket
	for _, id := range ids {
		t := col.Get(id)
		if t == nil {
			return nil, fmt.Errorf("unknown ticket id %q", id)
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// mergeProjections parses edited projections in parallel, then merges the
// resulting deltas sequentially so conflict ordering is deterministic.
func (e *Engine) mergeProjections(ctx context.Context, col *store.Collection, targets []*ticket.Ticket, rep *Report) error {
	deltas := make([]*ticket.Delta, len(targets))
	parseErrs := make([]error, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for i, t := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			d, err := e.cfg.Projector.ParseFile(t.ID)
			if os.IsNotExist(err) {
				return nil // not yet rendered, nothing to fold in
			}
			if err != nil {
				parseErrs[i] = err
				return nil
			}
			deltas[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for i, t := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}

		if parseErrs[i] != nil {
			rep.warn(WarnParse, t.ID, parseErrs[i].Error())
			continue
		}
		d := deltas[i]
		if d == nil {
			continue
		}
		for _, key := range d.Ignored {
			rep.warn(WarnProjection, t.ID, fmt.Sprintf("ignored unrecognized field %q in projection", key))
		}
		if d.Empty() {
			continue
		}

		merged, conflicts := resolve.Merge(t, d, now)
		if len(conflicts) == 0 {
			continue
		}
		col.Replace(merged)
		targets[i] = merged
		rep.Conflicts = append(rep.Conflicts, conflicts...)
		rep.TicketsUpdated++
		rep.markChanged(t.ID)
	}
	return nil
}

func (e *Engine) renderProjections(targets []*ticket.Ticket, rep *Report) {
	for _, t := range targets {
		if _, err := e.cfg.Projector.Write(t); err != nil {
			rep.warn(WarnProjection, t.ID, err.Error())
		}
	}
}

// syncExternal runs the optional tracker pull, then the push. Pull goes
// first so an out-of-band issue closure is folded in before the push would
// reconcile the issue back to the stale ticket state. Pulled merges are
// persisted before the push is attempted so a push failure cannot discard
// state the report already accounts for; issue references written back by
// the push get their own save afterwards.
func (e *Engine) syncExternal(ctx context.Context, col *store.Collection, targets []*ticket.Ticket, opts Options, rep *Report) error {
	if opts.DryRun {
		e.cfg.Logger.Printf("Dry run: skipping external sync")
		return nil
	}

	if opts.Pull {
		deltas, err := e.cfg.Tracker.Pull(ctx, targets)
		if err != nil {
			return err
		}
		index := make(map[string]int, len(targets))
		for i, t := range targets {
			index[t.ID] = i
		}
		now := time.Now().UTC()
		for _, d := range deltas {
			if err := ctx.Err(); err != nil {
				return err
			}
			i, ok := index[d.TicketID]
			if !ok {
				continue
			}
			merged, conflicts := resolve.Merge(targets[i], d, now)
			if len(conflicts) == 0 {
				continue
			}
			col.Replace(merged)
			targets[i] = merged
			rep.Conflicts = append(rep.Conflicts, conflicts...)
			rep.ExternalPulls++
			rep.TicketsUpdated++
			rep.markChanged(d.TicketID)
		}
		if rep.ExternalPulls > 0 {
			if err := e.cfg.Store.Save(col); err != nil {
				return err
			}
			e.renderProjections(targets, rep)
		}
	}

	push, err := e.cfg.Tracker.Push(ctx, targets)
	if err != nil {
		return err
	}
	rep.External = push

	if push.Created > 0 {
		if err := e.cfg.Store.Save(col); err != nil {
			return err
		}
		e.renderProjections(targets, rep)
	}
	return nil
}

func (e *Engine) refreshCache(ctx context.Context, col *store.Collection, rep *Report) {
	if e.cfg.Cache == nil {
		return
	}
	if err := e.cfg.Cache.Rebuild(ctx, col); err != nil {
		rep.warn(WarnCache, "", fmt.Sprintf("query cache refresh failed: %v", err))
	}
}

// commit records the run in version control. A commit failure is surfaced
// on the report; the canonical file is already correctly persisted locally.
func (e *Engine) commit(ctx context.Context, opts Options, rep *Report) {
	if e.cfg.VCS == nil {
		return
	}

	paths := []string{e.cfg.Store.Path(), e.cfg.Projector.Dir()}
	err := e.cfg.VCS.Commit(ctx, vcs.CommitOptions{
		Message:  rep.CommitMessage(),
		Paths:    paths,
		NoVerify: opts.NoVerify,
	})
	if errors.Is(err, vcs.ErrNothingToCommit) {
		return
	}
	if err != nil {
		rep.CommitError = err.Error()
		return
	}
	if head, err := e.cfg.VCS.Head(); err == nil {
		rep.Commit = head
	}
}

func ctxErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
