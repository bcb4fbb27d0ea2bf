// Package tracker maps tickets to and from an external issue tracker.
//
// The Client interface isolates the HTTP surface so the orchestrator can be
// tested without network access. Expected conditions ("already closed") are
// results, not errors; only transport, auth, and rate-limit problems error,
// and those are retried with backoff before being demoted to a per-ticket
// failure.
package tracker

import (
	"context"
	"fmt"
	"strings"

	"github.com/sage-dev/sagesync/internal/ticket"
)

// MarkerLabel tags every issue this engine creates so pulls can find them.
const MarkerLabel = "sage-sync"

// PriorityLabel maps a ticket priority to its tracker label.
func PriorityLabel(p ticket.Priority) string {
	return "priority:" + strings.ToLower(string(p))
}

// TypeLabel maps a ticket type to its tracker label.
func TypeLabel(t ticket.Type) string {
	return "type:" + string(t)
}

// Issue is the tracker-side view of a ticket.
type Issue struct {
	Number int
	URL    string
	State  string // "open" or "closed"
	Title  string
	Labels []string
}

// CreateRequest carries the fields for a new tracker issue.
type CreateRequest struct {
	Title  string
	Body   string
	Labels []string
}

// Client is the minimal tracker API the engine needs.
type Client interface {
	// CreateIssue opens a new issue and returns its number and URL.
	CreateIssue(ctx context.Context, req CreateRequest) (*Issue, error)

	// CloseIssue closes an issue, optionally leaving a comment.
	// Closing an already-closed issue is a no-op, not an error.
	CloseIssue(ctx context.Context, number int, comment string) error

	// ReopenIssue reopens an issue, optionally leaving a comment.
	// Reopening an already-open issue is a no-op, not an error.
	ReopenIssue(ctx context.Context, number int, comment string) error

	// ListIssues returns all issues (open and closed) carrying the label.
	ListIssues(ctx context.Context, label string) ([]Issue, error)
}

// Labels returns the label set for a ticket: the engine marker plus the
// priority and type mappings.
func Labels(t *ticket.Ticket) []string {
	return []string{MarkerLabel, PriorityLabel(t.Priority), TypeLabel(t.Type)}
}

// IssueTitle renders the tracker issue title for a ticket.
func IssueTitle(t *ticket.Ticket) string {
	return fmt.Sprintf("[%s] %s", t.ID, t.Title)
}

// IssueBody renders the tracker issue body: the ticket description followed
// by the acceptance-criteria checklist.
func IssueBody(t *ticket.Ticket) string {
	var b strings.Builder
	b.WriteString(t.Description)
	if len(t.Acceptance) > 0 {
		if t.Description != "" {
			b.WriteString("\n\n")
		}
		b.WriteString("### Acceptance Criteria\n")
		for _, c := range t.Acceptance {
			box := " "
			if c.Done {
				box = "x"
			}
			fmt.Fprintf(&b, "- [%s] %s\n", box, c.Text)
		}
	}
	return b.String()
}
