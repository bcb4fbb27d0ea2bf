package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Dir != dir {
		t.Errorf("Dir = %q, want %q", cfg.Dir, dir)
	}
	if cfg.Tracker.Timeout != 10*time.Second {
		t.Errorf("Tracker.Timeout = %v", cfg.Tracker.Timeout)
	}
	if cfg.Tracker.Retries != 3 {
		t.Errorf("Tracker.Retries = %d", cfg.Tracker.Retries)
	}
	if cfg.TrackerEnabled() {
		t.Error("TrackerEnabled() = true without owner/repo")
	}
	if cfg.StorePath() != filepath.Join(dir, "tickets.json") {
		t.Errorf("StorePath() = %q", cfg.StorePath())
	}
	if cfg.ProjectionDir() != filepath.Join(dir, "tickets") {
		t.Errorf("ProjectionDir() = %q", cfg.ProjectionDir())
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	doc := `
parallelism: 4
tracker:
  owner: acme
  repo: widgets
  token: shhh
  timeout: 30s
log:
  max_size_mb: 50
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Parallelism != 4 {
		t.Errorf("Parallelism = %d", cfg.Parallelism)
	}
	if cfg.Tracker.Owner != "acme" || cfg.Tracker.Repo != "widgets" || cfg.Tracker.Token != "shhh" {
		t.Errorf("Tracker = %+v", cfg.Tracker)
	}
	if cfg.Tracker.Timeout != 30*time.Second {
		t.Errorf("Tracker.Timeout = %v", cfg.Tracker.Timeout)
	}
	if cfg.Log.MaxSizeMB != 50 {
		t.Errorf("Log.MaxSizeMB = %d", cfg.Log.MaxSizeMB)
	}
	if !cfg.TrackerEnabled() {
		t.Error("TrackerEnabled() = false with owner/repo set")
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	doc := "tracker:\n  owner: acme\n  repo: widgets\n"
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SAGE_TRACKER_TOKEN", "from-env")
	t.Setenv("SAGE_TRACKER_OWNER", "override")

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Tracker.Token != "from-env" {
		t.Errorf("Tracker.Token = %q, env override not applied", cfg.Tracker.Token)
	}
	if cfg.Tracker.Owner != "override" {
		t.Errorf("Tracker.Owner = %q, env override not applied", cfg.Tracker.Owner)
	}
}

func TestLogPath(t *testing.T) {
	cfg := Default()
	cfg.Dir = "/data/.sage"
	if got := cfg.LogPath(); got != "/data/.sage/logs/sync.log" {
		t.Errorf("LogPath() = %q", got)
	}

	cfg.Log.File = "/var/log/sage.log"
	if got := cfg.LogPath(); got != "/var/log/sage.log" {
		t.Errorf("LogPath() with absolute file = %q", got)
	}
}
