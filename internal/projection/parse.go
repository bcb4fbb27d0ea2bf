package projection

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sage-dev/sagesync/internal/ticket"
)

// ParseError reports a projection file that could not be parsed. The engine
// skips the ticket with a warning; its canonical state is left untouched for
// the cycle.
type ParseError struct {
	TicketID string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("projection for %s: %s", e.TicketID, e.Reason)
}

// userKeys are the frontmatter keys the parser extracts. The id key is part
// of the rendered format and only cross-checked against the file id; any
// other key, including a system-owned field a human added by hand, is
// collected on the delta so the engine can warn that it was not applied.
var userKeys = map[string]bool{
	"title":    true,
	"type":     true,
	"priority": true,
	"state":    true,
	"due":      true,
}

var systemKeys = map[string]bool{
	"id": true,
}

// ParseFile reads and parses the projection file for a ticket id.
func (p *Projector) ParseFile(id string) (*ticket.Delta, error) {
	data, err := os.ReadFile(p.Path(id))
	if err != nil {
		return nil, err
	}
	return p.Parse(id, data)
}

// Parse extracts a user-owned field delta from projection text.
//
// The parser tolerates human prose outside recognized fields: unknown
// headings, text before the first heading, and anything after the system
// marker are ignored without failing.
func (p *Projector) Parse(id string, data []byte) (*ticket.Delta, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	lines := strings.Split(text, "\n")

	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, &ParseError{TicketID: id, Reason: "missing frontmatter"}
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return nil, &ParseError{TicketID: id, Reason: "unclosed frontmatter"}
	}

	header := strings.Join(lines[1:end], "\n")
	var raw map[string]any
	if err := yaml.Unmarshal([]byte(header), &raw); err != nil {
		return nil, &ParseError{TicketID: id, Reason: fmt.Sprintf("invalid frontmatter: %v", err)}
	}

	delta := &ticket.Delta{TicketID: id, Source: ticket.SourceText}
	if err := p.parseHeader(id, raw, delta); err != nil {
		return nil, err
	}

	p.parseBody(lines[end+1:], delta)
	return delta, nil
}

func (p *Projector) parseHeader(id string, raw map[string]any, delta *ticket.Delta) error {
	if fmID, ok := raw["id"].(string); ok && fmID != id {
		return &ParseError{
			TicketID: id,
			Reason:   fmt.Sprintf("frontmatter id %q does not match file id", fmID),
		}
	}

	for key, val := range raw {
		if systemKeys[key] {
			continue
		}
		if !userKeys[key] {
			delta.Ignored = append(delta.Ignored, key)
			continue
		}

		switch key {
		case "title":
			s, ok := val.(string)
			if !ok || s == "" {
				return &ParseError{TicketID: id, Reason: "title must be a non-empty string"}
			}
			delta.Title = &s

		case "type":
			s, _ := val.(string)
			typ := ticket.Type(s)
			if !typ.Valid() {
				return &ParseError{TicketID: id, Reason: fmt.Sprintf("invalid type %q", s)}
			}
			delta.Type = &typ

		case "priority":
			s, _ := val.(string)
			pri := ticket.Priority(strings.ToUpper(s))
			if !pri.Valid() {
				return &ParseError{TicketID: id, Reason: fmt.Sprintf("invalid priority %q", s)}
			}
			delta.Priority = &pri

		case "state":
			s, _ := val.(string)
			st := ticket.State(strings.ToUpper(s))
			if !st.Valid() {
				return &ParseError{TicketID: id, Reason: fmt.Sprintf("invalid state %q", s)}
			}
			delta.State = &st

		case "due":
			due, err := p.parseDue(val)
			if err != nil {
				return &ParseError{TicketID: id, Reason: err.Error()}
			}
			delta.Due = due
		}
	}

	sort.Strings(delta.Ignored)
	return nil
}

// parseDue accepts RFC 3339, a bare date, or a natural-language phrase
// ("next friday") resolved against the projector clock.
func (p *Projector) parseDue(val any) (*time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		utc := v.UTC()
		return &utc, nil
	case string:
		if v == "" {
			return nil, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02"} {
			if t, err := time.Parse(layout, v); err == nil {
				utc := t.UTC()
				return &utc, nil
			}
		}
		r, err := p.when.Parse(v, p.clock())
		if err == nil && r != nil {
			utc := r.Time.UTC()
			return &utc, nil
		}
		return nil, fmt.Errorf("unrecognized due date %q", v)
	default:
		return nil, fmt.Errorf("due must be a date or phrase")
	}
}

func (p *Projector) parseBody(lines []string, delta *ticket.Delta) {
	const (
		secNone       = ""
		secDesc       = "Description"
		secAcceptance = "Acceptance Criteria"
		secNotes      = "Notes"
	)

	section := secNone
	var desc, notes []string
	var acceptance []ticket.Criterion
	seen := map[string]bool{}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == systemMarker {
			break
		}

		if strings.HasPrefix(trimmed, "## ") {
			name := strings.TrimPrefix(trimmed, "## ")
			switch name {
			case secDesc, secAcceptance, secNotes:
				section = name
				seen[name] = true
			default:
				section = secNone // unknown section, tolerated
			}
			continue
		}
		if strings.HasPrefix(trimmed, "# ") {
			continue // rendered title heading, informational only
		}

		switch section {
		case secDesc:
			desc = append(desc, line)
		case secNotes:
			notes = append(notes, line)
		case secAcceptance:
			switch {
			case strings.HasPrefix(trimmed, "- [x] "), strings.HasPrefix(trimmed, "- [X] "):
				acceptance = append(acceptance, ticket.Criterion{
					Text: strings.TrimSpace(trimmed[6:]),
					Done: true,
				})
			case strings.HasPrefix(trimmed, "- [ ] "):
				acceptance = append(acceptance, ticket.Criterion{
					Text: strings.TrimSpace(trimmed[6:]),
				})
			}
		}
	}

	if seen[secDesc] {
		s := strings.Trim(strings.Join(desc, "\n"), "\n")
		delta.Description = &s
	}
	if seen[secNotes] {
		s := strings.Trim(strings.Join(notes, "\n"), "\n")
		delta.Notes = &s
	}
	if seen[secAcceptance] {
		delta.Acceptance = &acceptance
	}
}
