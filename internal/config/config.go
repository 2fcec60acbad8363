package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SchedulerConfig holds configuration for a blocksched run.
type SchedulerConfig struct {
	StepTime    time.Duration `yaml:"step_time"`   // Tick length (default 1000/60 ms)
	WarpBudget  time.Duration `yaml:"warp_budget"` // Max batching time of a warped thread (default 500ms)
	Turbo       bool          `yaml:"turbo"`       // Keep stepping after a redraw request
	Breakpoints bool          `yaml:"breakpoints"` // Breakpoint blocks pause into single-step mode
	SingleStep  bool          `yaml:"single_step"` // Start paused in single-step mode
	MaxTicks    int           `yaml:"max_ticks"`   // Stop the run after this many ticks (0 = until idle)
	Profile     bool          `yaml:"profile"`     // Collect profiler frames
	LogLevel    string        `yaml:"log_level"`   // Log level: trace, debug, info, warn, error
	LogFormat   string        `yaml:"log_format"`  // Log format: text, json
	DBPath      string        `yaml:"db"`          // SQLite run log path (empty disables, ":memory:" for testing)
	Addr        string        `yaml:"addr"`        // Debugger API listen address (default ":8090")
}

// DefaultSchedulerConfig returns sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		StepTime:   time.Second / 60,
		WarpBudget: 500 * time.Millisecond,
		LogLevel:   "info",
		LogFormat:  "text",
		Addr:       ":8090",
	}
}

// LoadFile overlays the YAML file at path onto cfg. Keys absent from the
// file keep their current value.
func LoadFile(path string, cfg *SchedulerConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg.Validate()
}

// Validate rejects values the scheduler cannot run with.
func (c SchedulerConfig) Validate() error {
	if c.StepTime <= 0 {
		return fmt.Errorf("step_time must be positive, got %s", c.StepTime)
	}
	if c.WarpBudget < 0 {
		return fmt.Errorf("warp_budget must not be negative, got %s", c.WarpBudget)
	}
	if c.MaxTicks < 0 {
		return fmt.Errorf("max_ticks must not be negative, got %d", c.MaxTicks)
	}
	return nil
}
