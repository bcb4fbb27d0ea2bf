package engine

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sage-dev/sagesync/internal/projection"
	"github.com/sage-dev/sagesync/internal/store"
	"github.com/sage-dev/sagesync/internal/ticket"
	"github.com/sage-dev/sagesync/internal/tracker"
	"github.com/sage-dev/sagesync/internal/vcs"
)

type testEnv struct {
	dir       string
	store     *store.Store
	projector *projection.Projector
	engine    *Engine
	git       *fakeVCS
}

func discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func newTestEnv(t *testing.T, tickets ...*ticket.Ticket) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st := store.New(filepath.Join(dir, "tickets.json"), discard())
	if len(tickets) > 0 {
		if err := st.Save(&store.Collection{Tickets: tickets}); err != nil {
			t.Fatalf("failed to seed store: %v", err)
		}
	}

	proj := projection.New(filepath.Join(dir, "tickets"), discard())
	git := &fakeVCS{head: "abc123def456"}

	env := &testEnv{dir: dir, store: st, projector: proj, git: git}
	env.engine = New(Config{
		Store:       st,
		Projector:   proj,
		VCS:         git,
		ReportPath:  filepath.Join(dir, "report.json"),
		HistoryPath: filepath.Join(dir, "history.jsonl"),
		Logger:      discard(),
	})
	return env
}

func (e *testEnv) run(t *testing.T, opts Options) *Report {
	t.Helper()
	rep, err := e.engine.Run(context.Background(), opts)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return rep
}

func (e *testEnv) load(t *testing.T) *store.Collection {
	t.Helper()
	col, err := e.store.Load()
	if err != nil {
		t.Fatalf("failed to reload store: %v", err)
	}
	return col
}

func engineTicket(id string) *ticket.Ticket {
	return &ticket.Ticket{
		ID:          id,
		Title:       "Ticket " + id,
		Description: "Original description.",
		Type:        ticket.TypeTask,
		Priority:    ticket.P2,
		State:       ticket.StateUnprocessed,
		Created:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Updated:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// fakeVCS records commits without a repository.
type fakeVCS struct {
	commits []vcs.CommitOptions
	head    string
	changes bool
	fail    error
}

func (f *fakeVCS) Name() string                             { return "fake" }
func (f *fakeVCS) RepoRoot() (string, error)                { return "/", nil }
func (f *fakeVCS) HasChanges(paths ...string) (bool, error) { return f.changes, nil }
func (f *fakeVCS) Head() (string, error)                    { return f.head, nil }

func (f *fakeVCS) Commit(ctx context.Context, opts vcs.CommitOptions) error {
	if f.fail != nil {
		return f.fail
	}
	if !f.changes {
		return vcs.ErrNothingToCommit
	}
	f.commits = append(f.commits, opts)
	f.changes = false
	return nil
}

func TestRunRendersProjections(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"), engineTicket("SYNC-002"))

	rep := env.run(t, Options{})
	if rep.TicketsTotal != 2 {
		t.Errorf("TicketsTotal = %d, want 2", rep.TicketsTotal)
	}
	if rep.TicketsUpdated != 0 {
		t.Errorf("TicketsUpdated = %d, want 0 for a fresh render", rep.TicketsUpdated)
	}

	for _, id := range []string{"SYNC-001", "SYNC-002"} {
		if _, err := os.Stat(env.projector.Path(id)); err != nil {
			t.Errorf("projection for %s not rendered: %v", id, err)
		}
	}
}

func TestRunFoldsTextEdits(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	env.run(t, Options{}) // initial render

	// edit the projection: new title, state moves to IN_PROGRESS
	path := env.projector.Path("SYNC-001")
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	edited := strings.Replace(string(content), "title: Ticket SYNC-001", "title: Edited title", 1)
	edited = strings.Replace(edited, "state: UNPROCESSED", "state: IN_PROGRESS", 1)
	if err := os.WriteFile(path, []byte(edited), 0644); err != nil {
		t.Fatal(err)
	}
	env.git.changes = true

	rep := env.run(t, Options{})
	if rep.TicketsUpdated != 1 {
		t.Fatalf("TicketsUpdated = %d, want 1", rep.TicketsUpdated)
	}
	if len(rep.Conflicts) != 2 {
		t.Fatalf("Conflicts = %+v, want title and state", rep.Conflicts)
	}
	for _, c := range rep.Conflicts {
		if c.Winner != "text" {
			t.Errorf("Winner = %q, want text", c.Winner)
		}
	}

	col := env.load(t)
	tk := col.Get("SYNC-001")
	if tk.Title != "Edited title" {
		t.Errorf("Title = %q, edit not folded in", tk.Title)
	}
	if tk.State != ticket.StateInProgress {
		t.Errorf("State = %s, want IN_PROGRESS", tk.State)
	}
	if len(tk.StateHistory) != 1 {
		t.Errorf("StateHistory length = %d, want 1", len(tk.StateHistory))
	}

	// projection is re-rendered from merged state
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(after), "title: Edited title") {
		t.Error("projection not re-rendered after merge")
	}

	if rep.Commit != env.git.head {
		t.Errorf("Commit = %q, want head hash", rep.Commit)
	}
	if len(env.git.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(env.git.commits))
	}
	msg := env.git.commits[0].Message
	if !strings.HasPrefix(msg, "chore(tickets): sync ticket updates") {
		t.Errorf("commit message = %q", msg)
	}
	if !strings.Contains(msg, "SYNC-001") {
		t.Errorf("commit message does not name the changed ticket: %q", msg)
	}
}

func TestRunIdempotent(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	env.run(t, Options{})

	// edit once
	path := env.projector.Path("SYNC-001")
	content, _ := os.ReadFile(path)
	edited := strings.Replace(string(content), "priority: P2", "priority: P0", 1)
	os.WriteFile(path, []byte(edited), 0644)
	env.run(t, Options{})

	storeBefore, err := os.ReadFile(env.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	projBefore, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	rep := env.run(t, Options{})
	if rep.TicketsUpdated != 0 || len(rep.Conflicts) != 0 {
		t.Errorf("second run not a no-op: updated=%d conflicts=%+v",
			rep.TicketsUpdated, rep.Conflicts)
	}

	storeAfter, err := os.ReadFile(env.store.Path())
	if err != nil {
		t.Fatal(err)
	}
	projAfter, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(storeBefore) != string(storeAfter) {
		t.Error("store rewritten by a no-op run")
	}
	if string(projBefore) != string(projAfter) {
		t.Error("projection rewritten by a no-op run")
	}
}

func TestRunValidationAborts(t *testing.T) {
	bad := engineTicket("SYNC-001")
	env := newTestEnv(t, bad, engineTicket("SYNC-001")) // duplicate id

	rep, err := env.engine.Run(context.Background(), Options{})
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("Run() error = %v, want ErrValidation", err)
	}
	if rep == nil || rep.Validation == nil || !rep.Validation.Fatal() {
		t.Fatal("report does not carry the validation findings")
	}

	// nothing rendered, nothing committed
	if _, err := os.Stat(env.projector.Path("SYNC-001")); !os.IsNotExist(err) {
		t.Error("projection rendered despite fatal validation")
	}
	if len(env.git.commits) != 0 {
		t.Error("commit made despite fatal validation")
	}
}

func TestRunParseErrorSkipsTicket(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"), engineTicket("SYNC-002"))
	env.run(t, Options{})

	// corrupt one projection, edit the other
	if err := os.WriteFile(env.projector.Path("SYNC-001"), []byte("no frontmatter here"), 0644); err != nil {
		t.Fatal(err)
	}
	p2 := env.projector.Path("SYNC-002")
	content, _ := os.ReadFile(p2)
	os.WriteFile(p2, []byte(strings.Replace(string(content), "priority: P2", "priority: P1", 1)), 0644)

	rep := env.run(t, Options{})

	if rep.TicketsUpdated != 1 {
		t.Errorf("TicketsUpdated = %d, want 1 (good ticket still synced)", rep.TicketsUpdated)
	}
	var parseWarn bool
	for _, w := range rep.Warnings {
		if w.Kind == WarnParse && w.TicketID == "SYNC-001" {
			parseWarn = true
		}
	}
	if !parseWarn {
		t.Errorf("Warnings = %+v, want a parse warning for SYNC-001", rep.Warnings)
	}

	// the corrupt projection is regenerated from canonical state
	restored, err := os.ReadFile(env.projector.Path("SYNC-001"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(restored), "id: SYNC-001") {
		t.Error("corrupt projection not regenerated")
	}
	if env.load(t).Get("SYNC-001").Title != "Ticket SYNC-001" {
		t.Error("canonical state changed for the unparseable ticket")
	}
}

func TestRunDryRun(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	env.run(t, Options{}) // render first

	path := env.projector.Path("SYNC-001")
	content, _ := os.ReadFile(path)
	edited := strings.Replace(string(content), "priority: P2", "priority: P0", 1)
	os.WriteFile(path, []byte(edited), 0644)

	reportBefore, err := os.ReadFile(filepath.Join(env.dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}

	rep := env.run(t, Options{DryRun: true})
	if !rep.DryRun {
		t.Error("report does not flag dry run")
	}
	if rep.TicketsUpdated != 1 || len(rep.Conflicts) != 1 {
		t.Errorf("dry run did not report the pending change: %+v", rep)
	}

	// nothing persisted
	if env.load(t).Get("SYNC-001").Priority != ticket.P2 {
		t.Error("dry run wrote to the canonical store")
	}
	if len(env.git.commits) != 0 {
		t.Error("dry run committed")
	}
	reportAfter, err := os.ReadFile(filepath.Join(env.dir, "report.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(reportBefore) != string(reportAfter) {
		t.Error("dry run overwrote the persisted report")
	}
}

func TestRunUnknownID(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	_, err := env.engine.Run(context.Background(), Options{IDs: []string{"NOPE-001"}})
	if err == nil || !strings.Contains(err.Error(), "NOPE-001") {
		t.Errorf("Run() error = %v, want unknown id", err)
	}
}

func TestRunScopedToIDs(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"), engineTicket("SYNC-002"))
	env.run(t, Options{})

	for _, id := range []string{"SYNC-001", "SYNC-002"} {
		p := env.projector.Path(id)
		content, _ := os.ReadFile(p)
		os.WriteFile(p, []byte(strings.Replace(string(content), "priority: P2", "priority: P0", 1)), 0644)
	}

	rep := env.run(t, Options{IDs: []string{"SYNC-001"}})
	if rep.TicketsUpdated != 1 {
		t.Errorf("TicketsUpdated = %d, want only the selected ticket", rep.TicketsUpdated)
	}
	col := env.load(t)
	if col.Get("SYNC-001").Priority != ticket.P0 {
		t.Error("selected ticket not updated")
	}
	if col.Get("SYNC-002").Priority != ticket.P2 {
		t.Error("unselected ticket was updated")
	}
}

func TestRunReportPersisted(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	env.run(t, Options{})

	if _, err := os.Stat(filepath.Join(env.dir, "report.json")); err != nil {
		t.Errorf("report.json not written: %v", err)
	}
	history, err := os.ReadFile(filepath.Join(env.dir, "history.jsonl"))
	if err != nil {
		t.Fatalf("history.jsonl not written: %v", err)
	}
	if !strings.HasSuffix(string(history), "\n") {
		t.Error("history entry not newline-terminated")
	}

	env.run(t, Options{})
	history, _ = os.ReadFile(filepath.Join(env.dir, "history.jsonl"))
	if n := strings.Count(string(history), "\n"); n != 2 {
		t.Errorf("history lines = %d, want 2 after two runs", n)
	}
}

func TestRunCommitFailureIsPartial(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	env.run(t, Options{})

	path := env.projector.Path("SYNC-001")
	content, _ := os.ReadFile(path)
	os.WriteFile(path, []byte(strings.Replace(string(content), "priority: P2", "priority: P0", 1)), 0644)

	env.git.changes = true
	env.git.fail = errors.New("hook rejected commit")

	rep := env.run(t, Options{})
	if rep.CommitError == "" {
		t.Error("CommitError not set")
	}
	if !rep.Partial() {
		t.Error("Partial() = false, want true on commit failure")
	}
	// canonical state is still persisted
	if env.load(t).Get("SYNC-001").Priority != ticket.P0 {
		t.Error("canonical change lost on commit failure")
	}
}

// stubClient implements tracker.Client in memory for external-phase tests.
type stubClient struct {
	next      int
	issues    map[int]*tracker.Issue
	listCalls int
	listErr   error
	listErrAt int // fail ListIssues from this call on; 0 fails every call
}

func newStubClient() *stubClient {
	return &stubClient{next: 1, issues: map[int]*tracker.Issue{}}
}

func (s *stubClient) CreateIssue(ctx context.Context, req tracker.CreateRequest) (*tracker.Issue, error) {
	iss := &tracker.Issue{
		Number: s.next,
		URL:    "https://tracker.example/" + req.Title,
		State:  "open",
		Title:  req.Title,
		Labels: req.Labels,
	}
	s.issues[s.next] = iss
	s.next++
	return iss, nil
}

func (s *stubClient) CloseIssue(ctx context.Context, number int, comment string) error {
	s.issues[number].State = "closed"
	return nil
}

func (s *stubClient) ReopenIssue(ctx context.Context, number int, comment string) error {
	s.issues[number].State = "open"
	return nil
}

func (s *stubClient) ListIssues(ctx context.Context, label string) ([]tracker.Issue, error) {
	s.listCalls++
	if s.listErr != nil && s.listCalls >= s.listErrAt {
		return nil, s.listErr
	}
	var out []tracker.Issue
	for n := 1; n < s.next; n++ {
		out = append(out, *s.issues[n])
	}
	return out, nil
}

func TestRunExternalPush(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	client := newStubClient()
	env.engine.cfg.Tracker = tracker.NewAdapter(client, discard())

	rep := env.run(t, Options{External: true})
	if rep.External == nil || rep.External.Created != 1 {
		t.Fatalf("External = %+v, want one created issue", rep.External)
	}

	// the issue reference is persisted
	tk := env.load(t).Get("SYNC-001")
	if tk.External == nil || tk.External.IssueNumber != 1 {
		t.Fatalf("External ref not persisted: %+v", tk.External)
	}

	// and visible in the re-rendered projection footer
	content, _ := os.ReadFile(env.projector.Path("SYNC-001"))
	if !strings.Contains(string(content), "- External: #1") {
		t.Error("projection footer missing issue reference")
	}
}

func TestRunExternalPull(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	client := newStubClient()
	env.engine.cfg.Tracker = tracker.NewAdapter(client, discard())

	env.run(t, Options{External: true})
	client.issues[1].State = "closed" // closed out-of-band

	rep := env.run(t, Options{Pull: true})
	if rep.ExternalPulls != 1 {
		t.Fatalf("ExternalPulls = %d, want 1", rep.ExternalPulls)
	}
	if len(rep.Conflicts) != 1 || rep.Conflicts[0].Winner != "external" {
		t.Fatalf("Conflicts = %+v, want one external-won state change", rep.Conflicts)
	}

	tk := env.load(t).Get("SYNC-001")
	if tk.State != ticket.StateCompleted {
		t.Errorf("State = %s, want COMPLETED after pull", tk.State)
	}
	if len(tk.StateHistory) != 1 {
		t.Errorf("StateHistory length = %d, want 1", len(tk.StateHistory))
	}
}

func TestRunPulledMergeSurvivesPushFailure(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	client := newStubClient()
	env.engine.cfg.Tracker = tracker.NewAdapter(client, discard())

	env.run(t, Options{External: true})
	client.issues[1].State = "closed" // closed out-of-band

	// the pull listing succeeds, the push listing fails
	client.listErr = errors.New("tracker unreachable")
	client.listErrAt = client.listCalls + 2

	rep := env.run(t, Options{Pull: true})
	if rep.ExternalError == "" {
		t.Error("ExternalError not set")
	}
	if !rep.Partial() {
		t.Error("Partial() = false, want true on push failure")
	}
	if rep.ExternalPulls != 1 {
		t.Fatalf("ExternalPulls = %d, want 1", rep.ExternalPulls)
	}

	// everything the report counts must be on disk
	tk := env.load(t).Get("SYNC-001")
	if tk.State != ticket.StateCompleted {
		t.Errorf("State = %s, want COMPLETED persisted despite push failure", tk.State)
	}
	content, _ := os.ReadFile(env.projector.Path("SYNC-001"))
	if !strings.Contains(string(content), "state: COMPLETED") {
		t.Error("projection not re-rendered with the pulled state")
	}
}

func TestRunExternalFailureIsPartial(t *testing.T) {
	env := newTestEnv(t, engineTicket("SYNC-001"))
	client := newStubClient()
	client.listErr = errors.New("tracker unreachable")
	env.engine.cfg.Tracker = tracker.NewAdapter(client, discard())

	rep := env.run(t, Options{External: true})
	if rep.ExternalError == "" {
		t.Error("ExternalError not set")
	}
	if !rep.Partial() {
		t.Error("Partial() = false, want true on external failure")
	}
	// local reconciliation still happened
	if _, err := os.Stat(env.projector.Path("SYNC-001")); err != nil {
		t.Errorf("projection missing after external failure: %v", err)
	}
}
