package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Queue         QueueConfig         `toml:"queue"`
	Revision      RevisionConfig      `toml:"revision"`
	Executor      ExecutorConfig      `toml:"executor"`
	Bridge        BridgeConfig        `toml:"bridge"`
	Notifications NotificationsConfig `toml:"notifications"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	ProjectID    string `toml:"project_id"`
	LibraryDir   string `toml:"library_dir"`
	DatabasePath string `toml:"database_path"`
	SweepsPath   string `toml:"sweeps_path"`
}

// QueueConfig holds task queue settings
type QueueConfig struct {
	ConcurrencyCap int `toml:"concurrency_cap"`
}

// RevisionConfig holds revision run settings
type RevisionConfig struct {
	BatchSize      int `toml:"batch_size"`
	PollIntervalMS int `toml:"poll_interval_ms"`
}

// PollInterval returns the configured poll interval as a duration
func (c RevisionConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// ExecutorConfig describes the enrichment subprocess. The command
// receives the batch payload on stdin and prints patches as JSON.
type ExecutorConfig struct {
	Command string   `toml:"command"`
	Args    []string `toml:"args"`
}

// BridgeConfig holds worker bridge settings
type BridgeConfig struct {
	ListenAddr string `toml:"listen_addr"`
	WorkerURL  string `toml:"worker_url"`
	MaxJobs    int    `toml:"max_jobs"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			LibraryDir:   "",
			DatabasePath: filepath.Join(home, ".canonry", "canonry.db"),
			SweepsPath:   filepath.Join(home, ".config", "canonry", "sweeps.toml"),
		},
		Queue: QueueConfig{
			ConcurrencyCap: 4,
		},
		Revision: RevisionConfig{
			BatchSize:      18,
			PollIntervalMS: 1500,
		},
		Bridge: BridgeConfig{
			ListenAddr: "127.0.0.1:7420",
			WorkerURL:  "ws://127.0.0.1:7420/ws",
			MaxJobs:    2,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.General.LibraryDir = ExpandPath(cfg.General.LibraryDir)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.SweepsPath = ExpandPath(cfg.General.SweepsPath)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "canonry", "config.toml")
}
