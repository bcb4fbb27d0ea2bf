// Package ui renders sync reports and ticket listings for the terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"
	diffpatch "github.com/sergi/go-diff/diffmatchpatch"

	"github.com/sage-dev/sagesync/internal/cache"
	"github.com/sage-dev/sagesync/internal/engine"
	"github.com/sage-dev/sagesync/internal/resolve"
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	insertStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	deleteStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Strikethrough(true)
)

// PrintReport writes a human-readable summary of one sync run.
func PrintReport(w io.Writer, rep *engine.Report) {
	title := "Sync complete"
	if rep.DryRun {
		title = "Sync (dry run)"
	}
	fmt.Fprintln(w, headerStyle.Render(title))
	fmt.Fprintf(w, "  %d tickets, %d updated", rep.TicketsTotal, rep.TicketsUpdated)
	if len(rep.ChangedIDs) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(rep.ChangedIDs, ", "))
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  duration %s\n", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))

	if len(rep.Conflicts) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("Conflicts resolved"))
		printConflicts(w, rep.Conflicts)
	}

	if len(rep.Warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, warnStyle.Render(fmt.Sprintf("Warnings (%d)", len(rep.Warnings))))
		for _, warn := range rep.Warnings {
			if warn.TicketID != "" {
				fmt.Fprintf(w, "  [%s] %s: %s\n", warn.Kind, warn.TicketID, warn.Message)
			} else {
				fmt.Fprintf(w, "  [%s] %s\n", warn.Kind, warn.Message)
			}
		}
	}

	if rep.External != nil {
		fmt.Fprintln(w)
		fmt.Fprintln(w, headerStyle.Render("External tracker"))
		fmt.Fprintf(w, "  created %d, closed %d, reopened %d, unchanged %d\n",
			rep.External.Created, rep.External.Closed, rep.External.Reopened, rep.External.Unchanged)
		if rep.ExternalPulls > 0 {
			fmt.Fprintf(w, "  pulled %d state changes\n", rep.ExternalPulls)
		}
		for _, f := range rep.External.Failures {
			fmt.Fprintf(w, "  %s %s: %s\n", errorStyle.Render("FAILED"), f.TicketID, f.Message)
		}
	}
	if rep.ExternalError != "" {
		fmt.Fprintf(w, "%s external sync: %s\n", errorStyle.Render("ERROR"), rep.ExternalError)
	}

	switch {
	case rep.CommitError != "":
		fmt.Fprintf(w, "%s commit: %s\n", errorStyle.Render("ERROR"), rep.CommitError)
	case rep.Commit != "":
		fmt.Fprintf(w, "%s committed %s\n", successStyle.Render("OK"), short(rep.Commit))
	}
}

// PrintValidation writes the findings of a validation pass.
func PrintValidation(w io.Writer, rep *engine.Report) {
	v := rep.Validation
	if v == nil || (len(v.Errors) == 0 && len(v.Warnings) == 0) {
		fmt.Fprintln(w, successStyle.Render("OK")+" collection is valid")
		return
	}
	for _, p := range v.Errors {
		fmt.Fprintf(w, "%s %s: %s\n", errorStyle.Render("ERROR"), p.TicketID, p.Message)
	}
	for _, p := range v.Warnings {
		fmt.Fprintf(w, "%s %s: %s\n", warnStyle.Render("WARN"), p.TicketID, p.Message)
	}
}

// printConflicts renders each resolved conflict. Multiline values get an
// inline word diff; scalar values a compact old -> new line.
func printConflicts(w io.Writer, conflicts []resolve.ConflictEntry) {
	for _, c := range conflicts {
		fmt.Fprintf(w, "  %s.%s (%s wins)\n", c.TicketID, c.Field, c.Winner)
		if strings.Contains(c.Old, "\n") || strings.Contains(c.New, "\n") {
			fmt.Fprintln(w, indent(diffText(c.Old, c.New), "    "))
			continue
		}
		fmt.Fprintf(w, "    %s -> %s\n", dimStyle.Render(c.Old), c.New)
	}
}

// diffText renders a character-level diff with deletions struck through
// and insertions highlighted.
func diffText(before, after string) string {
	dmp := diffpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var b strings.Builder
	for _, d := range diffs {
		switch d.Type {
		case diffpatch.DiffDelete:
			b.WriteString(deleteStyle.Render(d.Text))
		case diffpatch.DiffInsert:
			b.WriteString(insertStyle.Render(d.Text))
		default:
			b.WriteString(d.Text)
		}
	}
	return b.String()
}

// PrintRows writes a ticket listing table from cache rows.
func PrintRows(w io.Writer, rows []cache.Row) {
	if len(rows) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no tickets"))
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"ID", "Pri", "State", "Type", "Title", "Issue", "Due"})
	for _, r := range rows {
		issue := ""
		if r.IssueNumber > 0 {
			issue = fmt.Sprintf("#%d", r.IssueNumber)
		}
		due := ""
		if r.Due != nil {
			due = r.Due.Format("2006-01-02")
		}
		title := r.Title
		if r.Blocked {
			title = dimStyle.Render(title + " (blocked)")
		}
		tw.AppendRow(table.Row{r.ID, r.Priority, r.State, r.Type, title, issue, due})
	}
	tw.Render()
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}

func short(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
