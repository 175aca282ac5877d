// Package config defines the core's configuration surface (spec §6's
// configuration table), loaded from YAML via gopkg.in/yaml.v3, validated
// with go-playground/validator/v10 struct tags (grounded on the teacher's
// datatypes.ChatRequest validate-tag usage), and optionally hot-reloaded
// by an fsnotify watcher grounded on the teacher's graph.FileWatcher
// debounced watch loop (trace/graph/file_watcher.go), simplified here to
// a single file instead of a whole directory tree.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config mirrors spec §6's configuration table one field per row.
type Config struct {
	MaxBufferBytes             int     `yaml:"max_buffer_bytes" validate:"gt=0"`
	SessionTTLSeconds          int     `yaml:"session_ttl_seconds" validate:"gt=0"`
	MaxSessions                int     `yaml:"max_sessions" validate:"gt=0"`
	DefaultStrategy            string  `yaml:"default_strategy" validate:"oneof=Smart Conservative Aggressive"`
	AdaptiveEnabled            bool    `yaml:"adaptive_enabled"`
	ConsecutiveFailureThreshold int    `yaml:"consecutive_failure_threshold" validate:"gt=0"`
	MinSwitchIntervalSeconds   int     `yaml:"min_switch_interval_seconds" validate:"gte=0"`
	DiffMode                   string  `yaml:"diff_mode" validate:"oneof=Smart Conservative"`
	CoalesceEnabled            bool    `yaml:"coalesce_enabled"`
	CoalesceWindowMs           int     `yaml:"coalesce_window_ms" validate:"gt=0"`
	CoalesceStability          int     `yaml:"coalesce_stability" validate:"gt=0"`
	CoalesceMaxBuffered        int     `yaml:"coalesce_max_buffered" validate:"gt=0"`
	SubscriberQueueCap         int     `yaml:"subscriber_queue_cap" validate:"gt=0"`
	PathStyle                  string  `yaml:"path_style" validate:"oneof=dot slash bracket"`
	CleanupPeriodSeconds       int     `yaml:"cleanup_period_seconds" validate:"gt=0"`
	CallbackBudgetMs           int     `yaml:"callback_budget_ms" validate:"gt=0"`
}

// Default returns the spec-documented default configuration.
func Default() Config {
	return Config{
		MaxBufferBytes:              1048576,
		SessionTTLSeconds:           3600,
		MaxSessions:                 1000,
		DefaultStrategy:             "Smart",
		AdaptiveEnabled:             true,
		ConsecutiveFailureThreshold: 3,
		MinSwitchIntervalSeconds:    60,
		DiffMode:                    "Smart",
		CoalesceEnabled:             true,
		CoalesceWindowMs:            100,
		CoalesceStability:           3,
		CoalesceMaxBuffered:         10,
		SubscriberQueueCap:          1024,
		PathStyle:                  "dot",
		CleanupPeriodSeconds:        60,
		CallbackBudgetMs:            50,
	}
}

var validate = validator.New()

// Validate checks every struct tag constraint above.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load reads path (YAML) over the defaults and validates the result. A
// missing file is not an error — the defaults are returned as-is,
// matching the teacher's loadConfigFile "file doesn't exist, use
// defaults" behavior.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, cfg.Validate()
		}
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// CleanupPeriod is a convenience accessor mirroring the session package's
// time.Duration fields.
func (c Config) CleanupPeriod() time.Duration {
	return time.Duration(c.CleanupPeriodSeconds) * time.Second
}

// SessionTTL is a convenience accessor mirroring the session package's
// time.Duration fields.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// MinSwitchInterval is a convenience accessor for the strategy selector's
// cooldown.
func (c Config) MinSwitchInterval() time.Duration {
	return time.Duration(c.MinSwitchIntervalSeconds) * time.Second
}

// CoalesceWindow is a convenience accessor for the coalescer's time
// window.
func (c Config) CoalesceWindow() time.Duration {
	return time.Duration(c.CoalesceWindowMs) * time.Millisecond
}

// CallbackBudget is a convenience accessor for the event bus's per-
// callback time budget.
func (c Config) CallbackBudget() time.Duration {
	return time.Duration(c.CallbackBudgetMs) * time.Millisecond
}
