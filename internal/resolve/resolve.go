// Package resolve merges field deltas into canonical tickets under the
// field-ownership precedence policy.
//
// Resolution is whole-value: for each user-owned field present in a delta,
// a differing value wins over the canonical one and a ConflictEntry is
// logged. System-owned fields have no delta representation at all, so a
// delta can never change them. This asymmetric policy avoids three-way
// merges entirely; only canonical-vs-delta divergence is detected, not two
// concurrent edits from the same source class.
//
// The merge is table-driven by field-ownership metadata: adding a field to
// the model only requires declaring its owner and, for user-owned fields,
// one rule entry.
package resolve

import (
	"fmt"
	"strings"
	"time"

	"github.com/sage-dev/sagesync/internal/ticket"
)

// Owner classifies which party may change a field.
type Owner string

const (
	// OwnerSystem fields are written by the engine and upstream producers;
	// text edits to them are never applied.
	OwnerSystem Owner = "system"

	// OwnerUser fields belong to the projection editor; on divergence the
	// delta wins and the conflict is logged.
	OwnerUser Owner = "user"
)

// Ownership is the full field partition of the ticket model.
var Ownership = map[string]Owner{
	"id":                    OwnerSystem,
	"dependencies":          OwnerSystem,
	"children":              OwnerSystem,
	"estimated_hours":       OwnerSystem,
	"state_history":         OwnerSystem,
	"created":               OwnerSystem,
	"updated":               OwnerSystem,
	"git.commits":           OwnerSystem,
	"git.branch":            OwnerSystem,
	"external.issue_number": OwnerSystem,
	"external.issue_url":    OwnerSystem,
	"external.labels":       OwnerSystem,

	"title":               OwnerUser,
	"description":         OwnerUser,
	"type":                OwnerUser,
	"priority":            OwnerUser,
	"state":               OwnerUser,
	"acceptance_criteria": OwnerUser,
	"notes":               OwnerUser,
	"due":                 OwnerUser,
}

// FieldOwner returns the declared owner of a field, defaulting to system
// so an undeclared field can never be written from a delta.
func FieldOwner(field string) Owner {
	if o, ok := Ownership[field]; ok {
		return o
	}
	return OwnerSystem
}

// ConflictEntry records one resolved canonical/delta divergence.
type ConflictEntry struct {
	TicketID string `json:"ticket_id"`
	Field    string `json:"field"`
	Old      string `json:"old"`
	New      string `json:"new"`
	Winner   string `json:"winner"`
}

// rule describes how one user-owned field moves from a delta into a ticket.
type rule struct {
	field     string
	fromDelta func(*ticket.Delta) (any, bool)
	get       func(*ticket.Ticket) any
	set       func(*ticket.Ticket, any, time.Time)
	equal     func(a, b any) bool
	render    func(any) string
}

var rules = []rule{
	{
		field:     "title",
		fromDelta: func(d *ticket.Delta) (any, bool) { return deref(d.Title) },
		get:       func(t *ticket.Ticket) any { return t.Title },
		set:       func(t *ticket.Ticket, v any, _ time.Time) { t.Title = v.(string) },
	},
	{
		field:     "description",
		fromDelta: func(d *ticket.Delta) (any, bool) { return deref(d.Description) },
		get:       func(t *ticket.Ticket) any { return t.Description },
		set:       func(t *ticket.Ticket, v any, _ time.Time) { t.Description = v.(string) },
	},
	{
		field:     "type",
		fromDelta: func(d *ticket.Delta) (any, bool) { return deref(d.Type) },
		get:       func(t *ticket.Ticket) any { return t.Type },
		set:       func(t *ticket.Ticket, v any, _ time.Time) { t.Type = v.(ticket.Type) },
	},
	{
		field:     "priority",
		fromDelta: func(d *ticket.Delta) (any, bool) { return deref(d.Priority) },
		get:       func(t *ticket.Ticket) any { return t.Priority },
		set:       func(t *ticket.Ticket, v any, _ time.Time) { t.Priority = v.(ticket.Priority) },
	},
	{
		field:     "state",
		fromDelta: func(d *ticket.Delta) (any, bool) { return deref(d.State) },
		get:       func(t *ticket.Ticket) any { return t.State },
		set: func(t *ticket.Ticket, v any, now time.Time) {
			t.SetState(v.(ticket.State), now)
		},
	},
	{
		field:     "acceptance_criteria",
		fromDelta: func(d *ticket.Delta) (any, bool) { return deref(d.Acceptance) },
		get:       func(t *ticket.Ticket) any { return t.Acceptance },
		set: func(t *ticket.Ticket, v any, _ time.Time) {
			t.Acceptance = append([]ticket.Criterion(nil), v.([]ticket.Criterion)...)
		},
		equal: func(a, b any) bool {
			return criteriaEqual(a.([]ticket.Criterion), b.([]ticket.Criterion))
		},
		render: func(v any) string { return renderCriteria(v.([]ticket.Criterion)) },
	},
	{
		field:     "notes",
		fromDelta: func(d *ticket.Delta) (any, bool) { return deref(d.Notes) },
		get:       func(t *ticket.Ticket) any { return t.Notes },
		set:       func(t *ticket.Ticket, v any, _ time.Time) { t.Notes = v.(string) },
	},
	{
		field: "due",
		fromDelta: func(d *ticket.Delta) (any, bool) {
			if d.Due == nil {
				return nil, false
			}
			return *d.Due, true
		},
		get: func(t *ticket.Ticket) any {
			if t.Due == nil {
				return time.Time{}
			}
			return *t.Due
		},
		set: func(t *ticket.Ticket, v any, _ time.Time) {
			due := v.(time.Time)
			t.Due = &due
		},
		equal: func(a, b any) bool {
			return a.(time.Time).Equal(b.(time.Time))
		},
		render: func(v any) string {
			tm := v.(time.Time)
			if tm.IsZero() {
				return "none"
			}
			return tm.UTC().Format(time.RFC3339)
		},
	},
}

// Merge applies a delta to a canonical ticket and returns the merged result
// together with a conflict entry per changed field. The canonical ticket is
// never mutated; Updated is stamped on the result only when something
// actually changed.
func Merge(canonical *ticket.Ticket, d *ticket.Delta, now time.Time) (*ticket.Ticket, []ConflictEntry) {
	merged := canonical.Clone()
	var conflicts []ConflictEntry

	for _, r := range rules {
		v, ok := r.fromDelta(d)
		if !ok {
			continue
		}
		cur := r.get(merged)

		eq := r.equal
		if eq == nil {
			eq = func(a, b any) bool { return a == b }
		}
		if eq(cur, v) {
			continue
		}

		render := r.render
		if render == nil {
			render = func(v any) string { return fmt.Sprintf("%v", v) }
		}
		conflicts = append(conflicts, ConflictEntry{
			TicketID: canonical.ID,
			Field:    r.field,
			Old:      render(cur),
			New:      render(v),
			Winner:   string(d.Source),
		})
		r.set(merged, v, now)
	}

	if len(conflicts) > 0 {
		merged.Updated = now
	}
	return merged, conflicts
}

func deref[T any](p *T) (any, bool) {
	if p == nil {
		return nil, false
	}
	return *p, true
}

func criteriaEqual(a, b []ticket.Criterion) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func renderCriteria(cs []ticket.Criterion) string {
	if len(cs) == 0 {
		return "none"
	}
	items := make([]string, len(cs))
	for i, c := range cs {
		box := " "
		if c.Done {
			box = "x"
		}
		items[i] = fmt.Sprintf("[%s] %s", box, c.Text)
	}
	return strings.Join(items, "; ")
}
