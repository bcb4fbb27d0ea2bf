// Package ticket defines the canonical ticket model shared by the store,
// the text projection layer, the conflict resolver, and the tracker adapter.
package ticket

import (
	"fmt"
	"regexp"
	"time"
)

// Type classifies a ticket in the work hierarchy.
type Type string

const (
	TypeEpic    Type = "epic"
	TypeStory   Type = "story"
	TypeTask    Type = "task"
	TypeSubtask Type = "subtask"
	TypeBugfix  Type = "bugfix"
)

// Types lists all valid ticket types.
var Types = []Type{TypeEpic, TypeStory, TypeTask, TypeSubtask, TypeBugfix}

// Valid returns true if the type is one of the known values.
func (t Type) Valid() bool {
	for _, v := range Types {
		if t == v {
			return true
		}
	}
	return false
}

// Priority is the urgency bucket, P0 (critical) through P4 (backlog).
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
	P4 Priority = "P4"
)

// Priorities lists all valid priorities, highest urgency first.
var Priorities = []Priority{P0, P1, P2, P3, P4}

// Valid returns true if the priority is one of the known values.
func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

// State is the processing state of a ticket.
//
// Any state is nominally reachable from any other; the engine appends to
// StateHistory on every change but imposes no transition guard.
type State string

const (
	StateUnprocessed State = "UNPROCESSED"
	StateInProgress  State = "IN_PROGRESS"
	StateDeferred    State = "DEFERRED"
	StateCompleted   State = "COMPLETED"
)

// States lists all valid ticket states.
var States = []State{StateUnprocessed, StateInProgress, StateDeferred, StateCompleted}

// Valid returns true if the state is one of the known values.
func (s State) Valid() bool {
	for _, v := range States {
		if s == v {
			return true
		}
	}
	return false
}

// StateChange is a single entry in a ticket's append-only state history.
type StateChange struct {
	State     State     `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

// Criterion is one acceptance-criteria checklist item.
type Criterion struct {
	Text string `json:"text"`
	Done bool   `json:"done,omitempty"`
}

// GitMeta holds system-owned version-control metadata for a ticket.
type GitMeta struct {
	Commits []string `json:"commits,omitempty"`
	Branch  string   `json:"branch,omitempty"`
}

// ExternalRef links a ticket to its issue in the external tracker.
// Nil until the first successful external push; system-owned once set.
type ExternalRef struct {
	IssueNumber int      `json:"issue_number"`
	IssueURL    string   `json:"issue_url,omitempty"`
	Labels      []string `json:"labels,omitempty"`
}

// Ticket is the unit of work in the canonical store.
//
// Every field has exactly one owner. System-owned fields (ID, Dependencies,
// Children, EstimatedHours, StateHistory, Created, Updated, Git, External)
// are immutable to text edits. User-owned fields (Title, Description, Type,
// Priority, State, Acceptance, Notes, Due) may be changed through the text
// projection and win over canonical values on merge.
type Ticket struct {
	ID string `json:"id"`

	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Type        Type     `json:"type"`
	Priority    Priority `json:"priority"`
	State       State    `json:"state"`

	Dependencies []string `json:"dependencies,omitempty"`
	Children     []string `json:"children,omitempty"`

	EstimatedHours *float64    `json:"estimated_hours,omitempty"`
	Acceptance     []Criterion `json:"acceptance_criteria,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	Due            *time.Time  `json:"due,omitempty"`

	StateHistory []StateChange `json:"state_history,omitempty"`

	Created time.Time `json:"created"`
	Updated time.Time `json:"updated"`

	Git      GitMeta      `json:"git"`
	External *ExternalRef `json:"external,omitempty"`
}

// idPattern matches ticket IDs of the form PREFIX-NNN (e.g. AUTH-001).
var idPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*-[0-9]+$`)

// ValidID returns true if id has the canonical PREFIX-NNN form.
func ValidID(id string) bool {
	return idPattern.MatchString(id)
}

// Validate checks that the ticket has valid field values.
// It does not check cross-ticket invariants such as ID uniqueness or
// dependency resolution; those belong to collection validation.
func (t *Ticket) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if !ValidID(t.ID) {
		return fmt.Errorf("id %q does not match PREFIX-NNN", t.ID)
	}
	if t.Title == "" {
		return fmt.Errorf("title is required")
	}
	if !t.Type.Valid() {
		return fmt.Errorf("invalid type %q", t.Type)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("invalid priority %q", t.Priority)
	}
	if !t.State.Valid() {
		return fmt.Errorf("invalid state %q", t.State)
	}
	if t.EstimatedHours != nil && *t.EstimatedHours < 0 {
		return fmt.Errorf("estimated_hours must be non-negative (got %v)", *t.EstimatedHours)
	}
	if t.Created.IsZero() {
		return fmt.Errorf("created is required")
	}
	for _, h := range t.StateHistory {
		if !h.State.Valid() {
			return fmt.Errorf("invalid state %q in state_history", h.State)
		}
	}
	return nil
}

// SetState changes the ticket state and appends a history entry.
// A no-op when the state is unchanged; history entries are never edited
// or removed, only appended.
func (t *Ticket) SetState(s State, now time.Time) {
	if t.State == s {
		return
	}
	t.State = s
	t.StateHistory = append(t.StateHistory, StateChange{State: s, Timestamp: now})
}

// Clone returns a deep copy of the ticket. Merges operate on clones so a
// failed run never leaves a half-mutated collection behind.
func (t *Ticket) Clone() *Ticket {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Children = append([]string(nil), t.Children...)
	c.Acceptance = append([]Criterion(nil), t.Acceptance...)
	c.StateHistory = append([]StateChange(nil), t.StateHistory...)
	c.Git.Commits = append([]string(nil), t.Git.Commits...)
	if t.EstimatedHours != nil {
		v := *t.EstimatedHours
		c.EstimatedHours = &v
	}
	if t.Due != nil {
		v := *t.Due
		c.Due = &v
	}
	if t.External != nil {
		ext := *t.External
		ext.Labels = append([]string(nil), t.External.Labels...)
		c.External = &ext
	}
	return &c
}

// Filename returns the canonical text projection filename: {id}.md
func (t *Ticket) Filename() string {
	return t.ID + ".md"
}
