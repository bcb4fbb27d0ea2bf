package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"
)

// GitHubOptions configures the GitHub-backed Client.
type GitHubOptions struct {
	// BaseURL overrides the API endpoint (https://api.github.com by default).
	// Tests point this at an httptest server.
	BaseURL string

	// Owner and Repo identify the target repository.
	Owner string
	Repo  string

	// Token is the bearer token for authentication.
	Token string

	// Timeout bounds each individual API call. Defaults to 10s.
	Timeout time.Duration

	// Retries is the attempt budget per call. Defaults to 3.
	Retries int

	// Backoff is the base delay between attempts, doubled per attempt.
	// Defaults to 500ms.
	Backoff time.Duration

	// Logger receives request warnings. Defaults to stderr.
	Logger *log.Logger
}

// GitHub implements Client against the GitHub REST v3 issues API.
type GitHub struct {
	opts GitHubOptions
	http *http.Client
}

// NewGitHub creates a GitHub tracker client.
func NewGitHub(opts GitHubOptions) *GitHub {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.github.com"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Retries <= 0 {
		opts.Retries = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[tracker] ", log.LstdFlags)
	}
	return &GitHub{
		opts: opts,
		http: &http.Client{Timeout: opts.Timeout},
	}
}

type ghIssue struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
	State   string `json:"state"`
	Title   string `json:"title"`
	Labels  []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct{} `json:"pull_request,omitempty"`
}

func (g *GitHub) issuePath(parts ...string) string {
	p := fmt.Sprintf("/repos/%s/%s/issues", g.opts.Owner, g.opts.Repo)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// CreateIssue implements Client.
func (g *GitHub) CreateIssue(ctx context.Context, req CreateRequest) (*Issue, error) {
	payload := map[string]any{
		"title":  req.Title,
		"body":   req.Body,
		"labels": req.Labels,
	}

	var out ghIssue
	if err := g.doJSON(ctx, http.MethodPost, g.issuePath(), payload, &out); err != nil {
		return nil, fmt.Errorf("create issue: %w", err)
	}
	return issueFromGH(out), nil
}

// CloseIssue implements Client. Closing a closed issue succeeds silently.
func (g *GitHub) CloseIssue(ctx context.Context, number int, comment string) error {
	return g.setState(ctx, number, "closed", comment)
}

// ReopenIssue implements Client. Reopening an open issue succeeds silently.
func (g *GitHub) ReopenIssue(ctx context.Context, number int, comment string) error {
	return g.setState(ctx, number, "open", comment)
}

func (g *GitHub) setState(ctx context.Context, number int, state, comment string) error {
	if comment != "" {
		payload := map[string]any{"body": comment}
		path := g.issuePath(fmt.Sprint(number), "comments")
		if err := g.doJSON(ctx, http.MethodPost, path, payload, nil); err != nil {
			// The comment is best-effort audit trail; the state change matters.
			g.opts.Logger.Printf("WARNING: failed to comment on issue #%d: %v", number, err)
		}
	}

	payload := map[string]any{"state": state}
	if err := g.doJSON(ctx, http.MethodPatch, g.issuePath(fmt.Sprint(number)), payload, nil); err != nil {
		return fmt.Errorf("set issue #%d state=%s: %w", number, state, err)
	}
	return nil
}

// ListIssues implements Client. Pages through all issues (open and closed)
// carrying the label; pull requests are filtered out.
func (g *GitHub) ListIssues(ctx context.Context, label string) ([]Issue, error) {
	const perPage = 100

	var issues []Issue
	for page := 1; ; page++ {
		q := url.Values{}
		q.Set("labels", label)
		q.Set("state", "all")
		q.Set("per_page", fmt.Sprint(perPage))
		q.Set("page", fmt.Sprint(page))

		var out []ghIssue
		if err := g.doJSON(ctx, http.MethodGet, g.issuePath()+"?"+q.Encode(), nil, &out); err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}

		for _, gi := range out {
			if gi.PullRequest != nil {
				continue
			}
			issues = append(issues, *issueFromGH(gi))
		}

		if len(out) < perPage {
			return issues, nil
		}
	}
}

// doJSON performs one API call with bounded retries. 5xx responses, 429
// rate limits, and transport errors are retried with doubling backoff;
// everything else fails immediately.
func (g *GitHub) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt < g.opts.Retries; attempt++ {
		if attempt > 0 {
			delay := g.opts.Backoff << (attempt - 1)
			g.opts.Logger.Printf("retrying %s %s in %s (attempt %d/%d): %v",
				method, path, delay, attempt+1, g.opts.Retries, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		retryable, err := g.attempt(ctx, method, path, body, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable {
			return err
		}
	}
	return fmt.Errorf("retry budget exhausted: %w", lastErr)
}

func (g *GitHub) attempt(ctx context.Context, method, path string, body []byte, out any) (retryable bool, err error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.opts.BaseURL+path, reader)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+g.opts.Token)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		return true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return true, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, data)
	case resp.StatusCode >= 400:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("%s %s: HTTP %d: %s", method, path, resp.StatusCode, data)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return false, nil
}

func issueFromGH(gi ghIssue) *Issue {
	iss := &Issue{
		Number: gi.Number,
		URL:    gi.HTMLURL,
		State:  gi.State,
		Title:  gi.Title,
	}
	for _, l := range gi.Labels {
		iss.Labels = append(iss.Labels, l.Name)
	}
	return iss
}
