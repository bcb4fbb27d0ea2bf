package cache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sage-dev/sagesync/internal/store"
	"github.com/sage-dev/sagesync/internal/ticket"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open test cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func cacheTicket(id string, pri ticket.Priority, state ticket.State, deps ...string) *ticket.Ticket {
	return &ticket.Ticket{
		ID:           id,
		Title:        "Ticket " + id,
		Type:         ticket.TypeTask,
		Priority:     pri,
		State:        state,
		Dependencies: deps,
		Created:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Updated:      time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRebuildAndList(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	col := &store.Collection{Tickets: []*ticket.Ticket{
		cacheTicket("DB-001", ticket.P3, ticket.StateUnprocessed),
		cacheTicket("DB-002", ticket.P0, ticket.StateInProgress),
		cacheTicket("DB-003", ticket.P1, ticket.StateCompleted),
	}}
	if err := c.Rebuild(ctx, col); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}

	rows, err := c.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows length = %d, want 3", len(rows))
	}
	// ordered by priority then id: P0 first
	if rows[0].ID != "DB-002" || rows[1].ID != "DB-003" || rows[2].ID != "DB-001" {
		t.Errorf("order = %s, %s, %s", rows[0].ID, rows[1].ID, rows[2].ID)
	}

	rows, err = c.List(ctx, Filter{State: ticket.StateCompleted})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "DB-003" {
		t.Errorf("state filter rows = %+v", rows)
	}
}

func TestRebuildReplacesContents(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	if err := c.Rebuild(ctx, &store.Collection{Tickets: []*ticket.Ticket{
		cacheTicket("DB-001", ticket.P2, ticket.StateUnprocessed),
	}}); err != nil {
		t.Fatal(err)
	}
	if err := c.Rebuild(ctx, &store.Collection{Tickets: []*ticket.Ticket{
		cacheTicket("DB-002", ticket.P2, ticket.StateUnprocessed),
	}}); err != nil {
		t.Fatal(err)
	}

	rows, err := c.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != "DB-002" {
		t.Errorf("rows = %+v, want only DB-002 after second rebuild", rows)
	}
}

func TestReadyExcludesBlockedTransitively(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	// DB-001 (incomplete) <- DB-002 <- DB-003: both dependents blocked.
	// DB-004 depends only on the completed DB-005, so it is ready.
	col := &store.Collection{Tickets: []*ticket.Ticket{
		cacheTicket("DB-001", ticket.P2, ticket.StateInProgress),
		cacheTicket("DB-002", ticket.P2, ticket.StateUnprocessed, "DB-001"),
		cacheTicket("DB-003", ticket.P2, ticket.StateUnprocessed, "DB-002"),
		cacheTicket("DB-004", ticket.P2, ticket.StateUnprocessed, "DB-005"),
		cacheTicket("DB-005", ticket.P2, ticket.StateCompleted),
		cacheTicket("DB-006", ticket.P2, ticket.StateDeferred),
	}}
	if err := c.Rebuild(ctx, col); err != nil {
		t.Fatal(err)
	}

	rows, err := c.Ready(ctx, 0)
	if err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	got := map[string]bool{}
	for _, r := range rows {
		got[r.ID] = true
	}
	for _, want := range []string{"DB-001", "DB-004"} {
		if !got[want] {
			t.Errorf("Ready() missing %s", want)
		}
	}
	for _, dontWant := range []string{"DB-002", "DB-003", "DB-005", "DB-006"} {
		if got[dontWant] {
			t.Errorf("Ready() includes %s", dontWant)
		}
	}
}

func TestRowCarriesExternalAndDue(t *testing.T) {
	c := testCache(t)
	ctx := context.Background()

	due := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tk := cacheTicket("DB-001", ticket.P1, ticket.StateInProgress)
	tk.Due = &due
	tk.External = &ticket.ExternalRef{IssueNumber: 17}

	if err := c.Rebuild(ctx, &store.Collection{Tickets: []*ticket.Ticket{tk}}); err != nil {
		t.Fatal(err)
	}

	rows, err := c.List(ctx, Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows length = %d", len(rows))
	}
	if rows[0].IssueNumber != 17 {
		t.Errorf("IssueNumber = %d, want 17", rows[0].IssueNumber)
	}
	if rows[0].Due == nil || !rows[0].Due.Equal(due) {
		t.Errorf("Due = %v, want %v", rows[0].Due, due)
	}
}
