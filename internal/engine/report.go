package engine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sage-dev/sagesync/internal/resolve"
	"github.com/sage-dev/sagesync/internal/store"
	"github.com/sage-dev/sagesync/internal/tracker"
)

// Warning kinds carried in the run report.
const (
	WarnParse      = "parse"
	WarnDependency = "dependency"
	WarnProjection = "projection"
	WarnCache      = "cache"
)

// Warning is a non-fatal finding from one run. Warnings carry enough detail
// (ticket id, message) to act on without re-reading logs.
type Warning struct {
	Kind     string `json:"kind"`
	TicketID string `json:"ticket_id,omitempty"`
	Message  string `json:"message"`
}

// Report is the structured outcome of one sync run.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DryRun     bool      `json:"dry_run,omitempty"`

	TicketsTotal   int      `json:"tickets_total"`
	TicketsUpdated int      `json:"tickets_updated"`
	ChangedIDs     []string `json:"changed_ids,omitempty"`

	Validation *store.ValidationReport `json:"validation,omitempty"`
	Conflicts  []resolve.ConflictEntry `json:"conflicts,omitempty"`
	Warnings   []Warning               `json:"warnings,omitempty"`

	External      *tracker.PushSummary `json:"external,omitempty"`
	ExternalPulls int                  `json:"external_pulls,omitempty"`
	ExternalError string               `json:"external_error,omitempty"`

	Commit      string `json:"commit,omitempty"`
	CommitError string `json:"commit_error,omitempty"`
}

// Partial returns true when canonical/text reconciliation succeeded but
// some external or commit work did not. Maps to exit code 2.
func (r *Report) Partial() bool {
	if r.ExternalError != "" || r.CommitError != "" {
		return true
	}
	return r.External != nil && len(r.External.Failures) > 0
}

func (r *Report) warn(kind, ticketID, message string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, TicketID: ticketID, Message: message})
}

func (r *Report) markChanged(id string) {
	for _, existing := range r.ChangedIDs {
		if existing == id {
			return
		}
	}
	r.ChangedIDs = append(r.ChangedIDs, id)
	sort.Strings(r.ChangedIDs)
}

// Save writes the report document and appends a one-line summary to the
// run journal.
func (r *Report) Save(reportPath, historyPath string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(reportPath), 0755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return r.appendHistory(historyPath)
}

// historyEntry is the compact journal line for one run.
type historyEntry struct {
	FinishedAt time.Time `json:"finished_at"`
	Updated    int       `json:"updated"`
	Conflicts  int       `json:"conflicts"`
	Warnings   int       `json:"warnings"`
	Created    int       `json:"created,omitempty"`
	Closed     int       `json:"closed,omitempty"`
	Reopened   int       `json:"reopened,omitempty"`
	Failures   int       `json:"failures,omitempty"`
	Commit     string    `json:"commit,omitempty"`
}

func (r *Report) appendHistory(path string) error {
	entry := historyEntry{
		FinishedAt: r.FinishedAt,
		Updated:    r.TicketsUpdated,
		Conflicts:  len(r.Conflicts),
		Warnings:   len(r.Warnings),
		Commit:     r.Commit,
	}
	if r.External != nil {
		entry.Created = r.External.Created
		entry.Closed = r.External.Closed
		entry.Reopened = r.External.Reopened
		entry.Failures = len(r.External.Failures)
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal history entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history journal: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(string(line) + "\n"); err != nil {
		return fmt.Errorf("failed to append history entry: %w", err)
	}
	return nil
}

// CommitMessage renders the audit commit message for this run.
func (r *Report) CommitMessage() string {
	var b strings.Builder
	b.WriteString("chore(tickets): sync ticket updates\n")

	if len(r.ChangedIDs) > 0 {
		b.WriteString("\nUpdated: ")
		b.WriteString(strings.Join(r.ChangedIDs, ", "))
		b.WriteString("\n")
	}
	if len(r.Conflicts) > 0 {
		b.WriteString("\nConflicts:\n")
		for _, c := range r.Conflicts {
			fmt.Fprintf(&b, "- %s %s: %s -> %s (winner: %s)\n",
				c.TicketID, c.Field, summarize(c.Old), summarize(c.New), c.Winner)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// summarize keeps commit messages single-line per conflict.
func summarize(v string) string {
	v = strings.ReplaceAll(v, "\n", " ")
	if len(v) > 60 {
		return v[:57] + "..."
	}
	return v
}
