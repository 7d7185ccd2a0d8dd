package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Queue.ConcurrencyCap != 4 {
		t.Errorf("ConcurrencyCap = %d, want 4", cfg.Queue.ConcurrencyCap)
	}
	if cfg.Revision.BatchSize != 18 {
		t.Errorf("BatchSize = %d, want 18", cfg.Revision.BatchSize)
	}
	if cfg.Revision.PollInterval() != 1500*time.Millisecond {
		t.Errorf("PollInterval = %s, want 1.5s", cfg.Revision.PollInterval())
	}
	if cfg.Bridge.ListenAddr == "" {
		t.Error("ListenAddr not defaulted")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Queue.ConcurrencyCap != 4 {
		t.Errorf("ConcurrencyCap = %d, want default 4", cfg.Queue.ConcurrencyCap)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[general]
project_id = "proj-1"
library_dir = "/tmp/library"

[queue]
concurrency_cap = 8

[revision]
batch_size = 10

[executor]
command = "enrich"
args = ["--model", "large"]

[notifications]
slack_webhook = "https://hooks.example.com/x"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.General.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q", cfg.General.ProjectID)
	}
	if cfg.Queue.ConcurrencyCap != 8 {
		t.Errorf("ConcurrencyCap = %d, want 8", cfg.Queue.ConcurrencyCap)
	}
	if cfg.Revision.BatchSize != 10 {
		t.Errorf("BatchSize = %d, want 10", cfg.Revision.BatchSize)
	}
	// Unset fields keep their defaults.
	if cfg.Revision.PollInterval() != 1500*time.Millisecond {
		t.Errorf("PollInterval = %s, want default 1.5s", cfg.Revision.PollInterval())
	}
	if cfg.Executor.Command != "enrich" || len(cfg.Executor.Args) != 2 {
		t.Errorf("executor = %+v", cfg.Executor)
	}
	if cfg.Notifications.SlackWebhook == "" {
		t.Error("slack webhook not loaded")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	got := ExpandPath("~/canonry/library")
	want := filepath.Join(home, "canonry", "library")
	if got != want {
		t.Errorf("ExpandPath = %q, want %q", got, want)
	}

	if got := ExpandPath("/absolute/path"); got != "/absolute/path" {
		t.Errorf("absolute path changed: %q", got)
	}
}
