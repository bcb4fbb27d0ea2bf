package store

import (
	"fmt"
	"sort"
)

// Problem is a single finding from collection validation.
type Problem struct {
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
}

func (p Problem) String() string {
	if p.TicketID == "" {
		return p.Message
	}
	return fmt.Sprintf("%s: %s", p.TicketID, p.Message)
}

// ValidationReport accumulates validation findings.
//
// Errors are fatal: a run must abort before any write when the report has
// errors. Warnings (dangling dependency references) are carried into the run
// report but do not block the sync.
type ValidationReport struct {
	Errors   []Problem `json:"errors,omitempty"`
	Warnings []Problem `json:"warnings,omitempty"`
}

// Fatal returns true if the collection must not be synced.
func (r *ValidationReport) Fatal() bool {
	return len(r.Errors) > 0
}

// Validate checks the whole-collection invariants:
//   - every ticket passes field validation (fatal)
//   - no two tickets share an id (fatal)
//   - dependencies and children reference existing ids (warning)
func Validate(col *Collection) *ValidationReport {
	rep := &ValidationReport{}

	seen := make(map[string]bool, len(col.Tickets))
	for _, t := range col.Tickets {
		if err := t.Validate(); err != nil {
			rep.Errors = append(rep.Errors, Problem{TicketID: t.ID, Message: err.Error()})
		}
		if seen[t.ID] {
			rep.Errors = append(rep.Errors, Problem{
				TicketID: t.ID,
				Message:  "duplicate ticket id",
			})
		}
		seen[t.ID] = true
	}

	for _, t := range col.Tickets {
		for _, dep := range t.Dependencies {
			if !seen[dep] {
				rep.Warnings = append(rep.Warnings, Problem{
					TicketID: t.ID,
					Message:  fmt.Sprintf("dependency %s does not exist", dep),
				})
			}
		}
		for _, child := range t.Children {
			if !seen[child] {
				rep.Warnings = append(rep.Warnings, Problem{
					TicketID: t.ID,
					Message:  fmt.Sprintf("child %s does not exist", child),
				})
			}
		}
	}

	sortProblems(rep.Errors)
	sortProblems(rep.Warnings)
	return rep
}

func sortProblems(ps []Problem) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].TicketID != ps[j].TicketID {
			return ps[i].TicketID < ps[j].TicketID
		}
		return ps[i].Message < ps[j].Message
	})
}
