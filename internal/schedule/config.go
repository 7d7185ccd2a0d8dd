package schedule

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/chris-arsenault/the-canonry-sub014/internal/domain"
)

// SweepConfig describes one scheduled enrichment sweep: an automatic
// revision run started on a cron schedule, typically off-hours bulk
// rewrites with auto-continue enabled
type SweepConfig struct {
	Name         string              `toml:"name"`
	Cron         string              `toml:"cron"`
	Workflow     domain.WorkflowKind `toml:"workflow"`
	MaxEntities  int                 `toml:"max_entities"`
	AutoContinue bool                `toml:"auto_continue"`
	Notify       bool                `toml:"notify"`
}

// SweepsConfig holds all sweep configurations
type SweepsConfig struct {
	Sweeps []SweepConfig `toml:"sweep"`
}

// Validate checks the config is usable and fills defaults
func (c *SweepConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("sweep name is required")
	}
	if c.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(c.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if c.Workflow == "" {
		c.Workflow = domain.KindRewrite
	}
	if c.MaxEntities <= 0 {
		c.MaxEntities = 100
	}
	return nil
}

// LoadSweepsConfig loads sweep configuration from a TOML file. A
// missing file yields an empty config.
func LoadSweepsConfig(path string) (*SweepsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SweepsConfig{}, nil
		}
		return nil, err
	}

	var cfg SweepsConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Sweeps {
		if err := cfg.Sweeps[i].Validate(); err != nil {
			return nil, fmt.Errorf("sweep %d: %w", i, err)
		}
	}
	return &cfg, nil
}
