package ticket

import "time"

// Source identifies where a delta came from. The source is recorded as the
// winner on every conflict entry it produces.
type Source string

const (
	// SourceText marks deltas parsed from an edited text projection.
	SourceText Source = "text"

	// SourceExternal marks deltas derived from external tracker state.
	SourceExternal Source = "external"
)

// Delta is a partial set of user-owned field values proposed by a
// non-canonical source. Nil pointer fields are absent from the delta and
// leave the canonical value untouched.
//
// Deltas carry user-owned fields only. System-owned fields have no slot
// here, which makes the ownership invariant hold by construction: a delta
// cannot express a system-owned change.
type Delta struct {
	TicketID string
	Source   Source

	Title       *string
	Description *string
	Type        *Type
	Priority    *Priority
	State       *State
	Acceptance  *[]Criterion
	Notes       *string
	Due         *time.Time

	// Ignored lists system-owned or unrecognized keys that appeared in the
	// source text. The projector never applies them; the engine reports each
	// as a warning since a system-owned key in a delta indicates a corrupted
	// or hand-mangled projection.
	Ignored []string
}

// Empty returns true if the delta proposes no field values.
func (d *Delta) Empty() bool {
	return d.Title == nil && d.Description == nil && d.Type == nil &&
		d.Priority == nil && d.State == nil && d.Acceptance == nil &&
		d.Notes == nil && d.Due == nil
}
