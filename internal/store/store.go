// Package store loads, validates, and persists the canonical ticket
// collection. The collection lives in a single JSON document; saves go
// through a temp-file-and-rename so a crashed write never leaves a corrupt
// canonical file behind.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/sage-dev/sagesync/internal/ticket"
)

// CurrentVersion is the canonical store schema version this engine writes.
// Documents with a greater version are rejected as forward-incompatible.
const CurrentVersion = 1

// ErrSchema wraps any malformed-store condition: unreadable JSON, missing
// required fields, or an unsupported schema version. Schema errors are fatal
// and abort a run before any write.
var ErrSchema = errors.New("canonical store schema error")

// Collection is the in-memory form of the canonical store document.
type Collection struct {
	Version     int              `json:"version"`
	GeneratedAt time.Time        `json:"generated_timestamp"`
	Tickets     []*ticket.Ticket `json:"tickets"`
}

// Get returns the ticket with the given id, or nil.
func (c *Collection) Get(id string) *ticket.Ticket {
	for _, t := range c.Tickets {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// Replace swaps the ticket with the same id for the given one.
// Returns false if no ticket with that id exists.
func (c *Collection) Replace(t *ticket.Ticket) bool {
	for i, cur := range c.Tickets {
		if cur.ID == t.ID {
			c.Tickets[i] = t
			return true
		}
	}
	return false
}

// Store persists the canonical collection at a fixed path.
type Store struct {
	path   string
	logger *log.Logger
}

// New creates a store for the canonical document at path.
// If logger is nil, a default logger writing to stderr is used.
func New(path string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(os.Stderr, "[store] ", log.LstdFlags)
	}
	return &Store{path: path, logger: logger}
}

// Path returns the canonical document path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and decodes the canonical store document.
//
// A missing file yields an empty collection at the current version, so a
// fresh workspace validates cleanly. Any decode failure or an unsupported
// version is reported as a schema error.
func (s *Store) Load() (*Collection, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Collection{Version: CurrentVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read canonical store %s: %w", s.path, err)
	}

	var col Collection
	if err := json.Unmarshal(data, &col); err != nil {
		return nil, fmt.Errorf("%w: failed to parse %s: %v", ErrSchema, s.path, err)
	}
	if col.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: store version %d is newer than supported version %d",
			ErrSchema, col.Version, CurrentVersion)
	}
	if col.Version == 0 {
		col.Version = CurrentVersion
	}
	return &col, nil
}

// Save writes the collection atomically: marshal to a temp file in the same
// directory, fsync, then rename over the canonical path.
func (s *Store) Save(col *Collection) error {
	col.Version = CurrentVersion
	col.GeneratedAt = time.Now().UTC().Truncate(time.Second)

	data, err := json.MarshalIndent(col, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal canonical store: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tickets-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to replace canonical store: %w", err)
	}

	s.logger.Printf("Saved canonical store: %d tickets -> %s", len(col.Tickets), s.path)
	return nil
}
