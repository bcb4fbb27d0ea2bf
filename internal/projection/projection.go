// Package projection renders tickets into their human-editable markdown form
// and parses edited projections back into field deltas.
//
// A projection is YAML frontmatter (the editable header fields) followed by
// markdown sections for description, acceptance criteria, and notes, and a
// system footer that is regenerated on every sync. Rendering is a pure
// function of the canonical ticket: re-rendering an unchanged ticket is
// byte-for-byte identical to its previous rendering.
//
// Parsing extracts user-owned fields only. System-owned or unrecognized keys
// found in the frontmatter are never trusted; they are collected on the delta
// so the engine can surface a warning.
package projection

import (
	"log"
	"os"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// systemMarker separates the editable body from the regenerated system
// footer. The parser stops reading sections at this line.
const systemMarker = "<!-- sage-sync: system fields below are regenerated on every sync; edits are ignored -->"

// Projector renders and parses text projections rooted at a directory,
// one markdown file per ticket id.
type Projector struct {
	dir    string
	logger *log.Logger
	clock  func() time.Time
	when   *when.Parser
}

// New creates a projector for the given projection directory.
// If logger is nil, a default logger writing to stderr is used.
func New(dir string, logger *log.Logger) *Projector {
	if logger == nil {
		logger = log.New(os.Stderr, "[projection] ", log.LstdFlags)
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Projector{
		dir:    dir,
		logger: logger,
		clock:  time.Now,
		when:   w,
	}
}

// Dir returns the projection directory.
func (p *Projector) Dir() string {
	return p.dir
}

// SetClock overrides the reference time used for natural-language due
// dates. Intended for tests.
func (p *Projector) SetClock(clock func() time.Time) {
	p.clock = clock
}
