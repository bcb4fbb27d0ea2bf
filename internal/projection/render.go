package projection

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sage-dev/sagesync/internal/ticket"
)

// frontmatter is the YAML header of a projection. Field order here fixes the
// rendered key order, which keeps rendering deterministic.
type frontmatter struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	Type     string `yaml:"type"`
	Priority string `yaml:"priority"`
	State    string `yaml:"state"`
	Due      string `yaml:"due,omitempty"`
}

// Render produces the text projection of a ticket.
// It is a pure function of the ticket's canonical fields.
func (p *Projector) Render(t *ticket.Ticket) []byte {
	var b bytes.Buffer

	fm := frontmatter{
		ID:       t.ID,
		Title:    t.Title,
		Type:     string(t.Type),
		Priority: string(t.Priority),
		State:    string(t.State),
	}
	if t.Due != nil {
		fm.Due = t.Due.UTC().Format(time.RFC3339)
	}

	b.WriteString("---\n")
	// yaml.Marshal of a struct preserves field order, so the header is stable.
	header, err := yaml.Marshal(&fm)
	if err == nil {
		b.Write(header)
	}
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# %s: %s\n\n", t.ID, t.Title)

	b.WriteString("## Description\n\n")
	if t.Description != "" {
		b.WriteString(t.Description)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("## Acceptance Criteria\n\n")
	for _, c := range t.Acceptance {
		box := " "
		if c.Done {
			box = "x"
		}
		fmt.Fprintf(&b, "- [%s] %s\n", box, c.Text)
	}
	b.WriteString("\n")

	b.WriteString("## Notes\n\n")
	if t.Notes != "" {
		b.WriteString(t.Notes)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(systemMarker)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "- Dependencies: %s\n", idList(t.Dependencies))
	fmt.Fprintf(&b, "- Children: %s\n", idList(t.Children))
	if t.External != nil {
		fmt.Fprintf(&b, "- External: #%d %s\n", t.External.IssueNumber, t.External.IssueURL)
	} else {
		b.WriteString("- External: none\n")
	}
	if t.EstimatedHours != nil {
		fmt.Fprintf(&b, "- Estimate: %gh\n", *t.EstimatedHours)
	}
	fmt.Fprintf(&b, "- Created: %s\n", t.Created.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "- Updated: %s\n", t.Updated.UTC().Format(time.RFC3339))

	return b.Bytes()
}

func idList(ids []string) string {
	if len(ids) == 0 {
		return "none"
	}
	return strings.Join(ids, ", ")
}

// Path returns the projection file path for a ticket id.
func (p *Projector) Path(id string) string {
	return filepath.Join(p.dir, id+".md")
}

// Write renders the ticket and writes its projection file, skipping the
// write when the on-disk content is already identical. Returns true if the
// file changed.
func (p *Projector) Write(t *ticket.Ticket) (bool, error) {
	rendered := p.Render(t)

	path := p.Path(t.ID)
	existing, err := os.ReadFile(path)
	if err == nil && bytes.Equal(existing, rendered) {
		return false, nil
	}

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return false, fmt.Errorf("failed to create projection directory: %w", err)
	}

	tmp, err := os.CreateTemp(p.dir, "."+t.ID+"-*.md.tmp")
	if err != nil {
		return false, fmt.Errorf("failed to create temp projection: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(rendered); err != nil {
		_ = tmp.Close()
		return false, fmt.Errorf("failed to write projection for %s: %w", t.ID, err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("failed to close temp projection: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return false, fmt.Errorf("failed to replace projection for %s: %w", t.ID, err)
	}
	return true, nil
}
