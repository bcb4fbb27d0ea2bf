package tracker

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/sage-dev/sagesync/internal/ticket"
)

// Failure records one ticket whose external sync did not complete.
// Failures are reported, not raised; one bad ticket never blocks the batch.
type Failure struct {
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
}

// PushSummary counts the external writes of one push phase.
type PushSummary struct {
	Created   int       `json:"created"`
	Closed    int       `json:"closed"`
	Reopened  int       `json:"reopened"`
	Unchanged int       `json:"unchanged"`
	Failures  []Failure `json:"failures,omitempty"`
}

// Adapter drives the push/pull mapping between tickets and tracker issues.
type Adapter struct {
	client Client
	logger *log.Logger
}

// NewAdapter wraps a tracker client.
// If logger is nil, a default logger writing to stderr is used.
func NewAdapter(client Client, logger *log.Logger) *Adapter {
	if logger == nil {
		logger = log.New(os.Stderr, "[tracker] ", log.LstdFlags)
	}
	return &Adapter{client: client, logger: logger}
}

// Push reconciles tracker issues with ticket state.
//
// Tickets without an external reference get a new issue, and the reference
// is written back onto the ticket. Tickets with an issue are closed when
// COMPLETED and reopened otherwise. The mapping is idempotent: pushing twice
// with no canonical change performs no additional writes.
//
// A non-nil error means the whole phase could not run (the initial issue
// listing failed); per-ticket problems land in the summary instead.
func (a *Adapter) Push(ctx context.Context, tickets []*ticket.Ticket) (*PushSummary, error) {
	issues, err := a.client.ListIssues(ctx, MarkerLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracker issues: %w", err)
	}
	state := make(map[int]string, len(issues))
	for _, iss := range issues {
		state[iss.Number] = iss.State
	}

	sum := &PushSummary{}
	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		if t.External == nil {
			iss, err := a.client.CreateIssue(ctx, CreateRequest{
				Title:  IssueTitle(t),
				Body:   IssueBody(t),
				Labels: Labels(t),
			})
			if err != nil {
				sum.Failures = append(sum.Failures, Failure{TicketID: t.ID, Message: err.Error()})
				a.logger.Printf("WARNING: failed to create issue for %s: %v", t.ID, err)
				continue
			}
			t.External = &ticket.ExternalRef{
				IssueNumber: iss.Number,
				IssueURL:    iss.URL,
				Labels:      Labels(t),
			}
			sum.Created++
			a.logger.Printf("Created issue #%d for %s", iss.Number, t.ID)
			continue
		}

		number := t.External.IssueNumber
		issueState, known := state[number]
		if !known {
			sum.Failures = append(sum.Failures, Failure{
				TicketID: t.ID,
				Message:  fmt.Sprintf("issue #%d not found in tracker", number),
			})
			continue
		}

		switch {
		case t.State == ticket.StateCompleted && issueState != "closed":
			comment := fmt.Sprintf("%s completed, closed by sage-sync", t.ID)
			if err := a.client.CloseIssue(ctx, number, comment); err != nil {
				sum.Failures = append(sum.Failures, Failure{TicketID: t.ID, Message: err.Error()})
				a.logger.Printf("WARNING: failed to close issue #%d for %s: %v", number, t.ID, err)
				continue
			}
			sum.Closed++
			a.logger.Printf("Closed issue #%d for %s", number, t.ID)

		case t.State != ticket.StateCompleted && issueState == "closed":
			comment := fmt.Sprintf("%s is %s, reopened by sage-sync", t.ID, t.State)
			if err := a.client.ReopenIssue(ctx, number, comment); err != nil {
				sum.Failures = append(sum.Failures, Failure{TicketID: t.ID, Message: err.Error()})
				a.logger.Printf("WARNING: failed to reopen issue #%d for %s: %v", number, t.ID, err)
				continue
			}
			sum.Reopened++
			a.logger.Printf("Reopened issue #%d for %s", number, t.ID)

		default:
			sum.Unchanged++
		}
	}

	return sum, nil
}

// Pull derives state deltas from current tracker issue state.
//
// A closed issue for a non-completed ticket proposes COMPLETED; an open
// issue for a COMPLETED ticket proposes IN_PROGRESS. The deltas flow
// through the same resolver precedence as text edits, so every resulting
// change is logged as a conflict with winner "external".
func (a *Adapter) Pull(ctx context.Context, tickets []*ticket.Ticket) ([]*ticket.Delta, error) {
	issues, err := a.client.ListIssues(ctx, MarkerLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracker issues: %w", err)
	}
	byNumber := make(map[int]Issue, len(issues))
	for _, iss := range issues {
		byNumber[iss.Number] = iss
	}

	var deltas []*ticket.Delta
	for _, t := range tickets {
		if err := ctx.Err(); err != nil {
			return deltas, err
		}
		if t.External == nil {
			continue
		}
		iss, ok := byNumber[t.External.IssueNumber]
		if !ok {
			continue
		}

		var proposed ticket.State
		switch {
		case iss.State == "closed" && t.State != ticket.StateCompleted:
			proposed = ticket.StateCompleted
		case iss.State == "open" && t.State == ticket.StateCompleted:
			// The issue was reopened out-of-band; IN_PROGRESS is the most
			// conservative non-completed state.
			proposed = ticket.StateInProgress
		default:
			continue
		}

		state := proposed
		deltas = append(deltas, &ticket.Delta{
			TicketID: t.ID,
			Source:   ticket.SourceExternal,
			State:    &state,
		})
	}

	return deltas, nil
}
