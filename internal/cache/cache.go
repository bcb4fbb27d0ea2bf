// Package cache mirrors the canonical ticket collection into a local SQLite
// database for fast queries.
//
// The canonical JSON document stays the source of truth; the cache is
// rebuilt from it after each successful sync and serves list/ready queries
// without touching the store. The cache is advisory: losing it costs one
// rebuild, never data.
package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/sage-dev/sagesync/internal/store"
	"github.com/sage-dev/sagesync/internal/ticket"
)

// Cache wraps the SQLite connection backing ticket queries.
type Cache struct {
	conn *sql.DB
	path string
}

// Open creates or opens the cache database at path.
// The caller must Close when done.
func Open(path string) (*Cache, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping cache database: %w", err)
	}

	c := &Cache{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := c.conn.Exec(pragma); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := c.initSchema(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Close checkpoints and closes the cache database.
func (c *Cache) Close() error {
	if c.conn == nil {
		return nil
	}
	if _, err := c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint cache WAL: %v\n", err)
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tickets (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		type TEXT NOT NULL,
		priority TEXT NOT NULL,
		state TEXT NOT NULL,
		notes TEXT,
		acceptance TEXT,  -- JSON array
		estimated_hours REAL,
		due TEXT,
		issue_number INTEGER,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,

		-- Computed for fast ready-work queries
		is_blocked INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS deps (
		ticket_id TEXT NOT NULL,
		depends_on TEXT NOT NULL,
		PRIMARY KEY (ticket_id, depends_on),
		FOREIGN KEY (ticket_id) REFERENCES tickets(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS children (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (parent_id, child_id),
		FOREIGN KEY (parent_id) REFERENCES tickets(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_tickets_state ON tickets(state);
	CREATE INDEX IF NOT EXISTS idx_tickets_priority ON tickets(priority);
	CREATE INDEX IF NOT EXISTS idx_tickets_ready ON tickets(state, is_blocked, priority);
	CREATE INDEX IF NOT EXISTS idx_deps_on ON deps(depends_on);
	`
	if _, err := c.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}
	return nil
}

// Rebuild replaces the cache contents with the given collection and
// recomputes the blocked flags, all in one transaction.
func (c *Cache) Rebuild(ctx context.Context, col *store.Collection) error {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin cache transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"deps", "children", "tickets"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear cache table %s: %w", table, err)
		}
	}

	for _, t := range col.Tickets {
		if err := upsertTicket(ctx, tx, t); err != nil {
			return err
		}
	}

	if err := refreshBlocked(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cache rebuild: %w", err)
	}
	return nil
}

func upsertTicket(ctx context.Context, tx *sql.Tx, t *ticket.Ticket) error {
	acceptance, err := json.Marshal(t.Acceptance)
	if err != nil {
		return fmt.Errorf("failed to marshal acceptance criteria for %s: %w", t.ID, err)
	}

	var issueNumber sql.NullInt64
	if t.External != nil {
		issueNumber = sql.NullInt64{Int64: int64(t.External.IssueNumber), Valid: true}
	}
	var hours sql.NullFloat64
	if t.EstimatedHours != nil {
		hours = sql.NullFloat64{Float64: *t.EstimatedHours, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tickets (
			id, title, type, priority, state, notes, acceptance,
			estimated_hours, due, issue_number, created_at, updated_at, is_blocked
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		t.ID,
		t.Title,
		string(t.Type),
		string(t.Priority),
		string(t.State),
		t.Notes,
		string(acceptance),
		hours,
		timeToNullString(t.Due),
		issueNumber,
		t.Created.UTC().Format(time.RFC3339),
		t.Updated.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to insert ticket %s: %w", t.ID, err)
	}

	for _, dep := range t.Dependencies {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO deps (ticket_id, depends_on) VALUES (?, ?)",
			t.ID, dep); err != nil {
			return fmt.Errorf("failed to insert dependency %s -> %s: %w", t.ID, dep, err)
		}
	}
	for i, child := range t.Children {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO children (parent_id, child_id, position) VALUES (?, ?, ?)",
			t.ID, child, i); err != nil {
			return fmt.Errorf("failed to insert child %s -> %s: %w", t.ID, child, err)
		}
	}
	return nil
}

// refreshBlocked recomputes is_blocked as the transitive closure over
// dependencies on non-completed tickets.
func refreshBlocked(ctx context.Context, tx *sql.Tx) error {
	query := `
	WITH RECURSIVE blocked AS (
		SELECT d.ticket_id AS id
		FROM deps d
		JOIN tickets b ON b.id = d.depends_on
		WHERE b.state != 'COMPLETED'

		UNION

		SELECT d.ticket_id
		FROM deps d
		JOIN blocked bl ON bl.id = d.depends_on
	)
	UPDATE tickets SET is_blocked =
		CASE WHEN id IN (SELECT id FROM blocked) THEN 1 ELSE 0 END
	`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to refresh blocked flags: %w", err)
	}
	return nil
}

// Row is the cache-side summary of a ticket.
type Row struct {
	ID          string
	Title       string
	Type        ticket.Type
	Priority    ticket.Priority
	State       ticket.State
	IssueNumber int // 0 when not pushed
	Blocked     bool
	Due         *time.Time
}

// Filter configures List queries. Zero values match everything.
type Filter struct {
	State    ticket.State
	Type     ticket.Type
	Priority ticket.Priority
	Limit    int
}

// List returns cached tickets matching the filter, ordered by priority
// (P0 first) then id.
func (c *Cache) List(ctx context.Context, f Filter) ([]Row, error) {
	var conditions []string
	var args []any

	if f.State != "" {
		conditions = append(conditions, "state = ?")
		args = append(args, string(f.State))
	}
	if f.Type != "" {
		conditions = append(conditions, "type = ?")
		args = append(args, string(f.Type))
	}
	if f.Priority != "" {
		conditions = append(conditions, "priority = ?")
		args = append(args, string(f.Priority))
	}

	query := `SELECT id, title, type, priority, state, issue_number, is_blocked, due FROM tickets`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY priority ASC, id ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tickets: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

// Ready returns tickets that can be worked on now: not completed, not
// deferred, and not blocked by an incomplete dependency. The string
// ordering of priorities (P0 < P1 < ... < P4) gives urgency-first results.
func (c *Cache) Ready(ctx context.Context, limit int) ([]Row, error) {
	query := `
	SELECT id, title, type, priority, state, issue_number, is_blocked, due
	FROM tickets
	WHERE state NOT IN ('COMPLETED', 'DEFERRED') AND is_blocked = 0
	ORDER BY priority ASC, id ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ready tickets: %w", err)
	}
	defer rows.Close()

	return scanRows(rows)
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	var out []Row
	for rows.Next() {
		var r Row
		var typ, pri, state string
		var issue sql.NullInt64
		var blocked int
		var due sql.NullString

		if err := rows.Scan(&r.ID, &r.Title, &typ, &pri, &state, &issue, &blocked, &due); err != nil {
			return nil, fmt.Errorf("failed to scan ticket row: %w", err)
		}
		r.Type = ticket.Type(typ)
		r.Priority = ticket.Priority(pri)
		r.State = ticket.State(state)
		if issue.Valid {
			r.IssueNumber = int(issue.Int64)
		}
		r.Blocked = blocked != 0
		r.Due = nullStringToTime(due)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ticket rows: %w", err)
	}
	return out, nil
}

func timeToNullString(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
