package engine

import (
	"strings"
	"testing"

	"github.com/sage-dev/sagesync/internal/resolve"
	"github.com/sage-dev/sagesync/internal/tracker"
)

func TestCommitMessage(t *testing.T) {
	rep := &Report{}
	rep.markChanged("B-002")
	rep.markChanged("A-001")
	rep.markChanged("B-002") // duplicate
	rep.Conflicts = []resolve.ConflictEntry{
		{TicketID: "A-001", Field: "title", Old: "old", New: "new", Winner: "text"},
	}

	msg := rep.CommitMessage()
	lines := strings.Split(msg, "\n")
	if lines[0] != "chore(tickets): sync ticket updates" {
		t.Errorf("first line = %q", lines[0])
	}
	if !strings.Contains(msg, "Updated: A-001, B-002") {
		t.Errorf("changed ids missing or unsorted:\n%s", msg)
	}
	if !strings.Contains(msg, "A-001 title: old -> new (winner: text)") {
		t.Errorf("conflict line missing:\n%s", msg)
	}
}

func TestCommitMessageTruncatesMultiline(t *testing.T) {
	long := strings.Repeat("word ", 30)
	rep := &Report{Conflicts: []resolve.ConflictEntry{
		{TicketID: "A-001", Field: "description", Old: "a\nb\nc", New: long, Winner: "text"},
	}}

	msg := rep.CommitMessage()
	if strings.Contains(msg, "a\nb\nc") {
		t.Error("multiline value not flattened")
	}
	if !strings.Contains(msg, "...") {
		t.Error("long value not truncated")
	}
}

func TestPartial(t *testing.T) {
	if (&Report{}).Partial() {
		t.Error("empty report reported partial")
	}
	if !(&Report{ExternalError: "down"}).Partial() {
		t.Error("external error not partial")
	}
	if !(&Report{CommitError: "hook"}).Partial() {
		t.Error("commit error not partial")
	}
	withFailure := &Report{External: &tracker.PushSummary{
		Failures: []tracker.Failure{{TicketID: "A-001", Message: "boom"}},
	}}
	if !withFailure.Partial() {
		t.Error("push failure not partial")
	}
	clean := &Report{External: &tracker.PushSummary{Created: 2}}
	if clean.Partial() {
		t.Error("clean external summary reported partial")
	}
}
