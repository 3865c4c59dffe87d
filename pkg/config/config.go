// Package config handles configuration loading and validation for trlock.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/MatthiasKunnen/trlock/pkg/audit"
	"github.com/MatthiasKunnen/trlock/pkg/grab"
	"github.com/MatthiasKunnen/trlock/pkg/throttle"
)

// Config is the file configuration. Command line flags override it.
type Config struct {
	// Display is the X display to lock. Empty uses $DISPLAY.
	Display string `toml:"display" yaml:"display"`

	// Blank keeps the screen black while locked.
	Blank bool `toml:"blank" yaml:"blank"`

	// BlinkDelayMs is how long the screen blinks after locking. Zero disables the blink.
	BlinkDelayMs int `toml:"blink_delay_ms" yaml:"blink_delay_ms"`

	// Notify sends desktop notifications on lock and unlock.
	Notify       bool   `toml:"notify" yaml:"notify"`
	LockedIcon   string `toml:"locked_icon" yaml:"locked_icon"`
	UnlockedIcon string `toml:"unlocked_icon" yaml:"unlocked_icon"`

	// LockKeyring locks all Secret Service collections when the screen locks.
	LockKeyring bool `toml:"lock_keyring" yaml:"lock_keyring"`

	// LockedHint publishes the lock state to systemd-logind.
	LockedHint bool `toml:"locked_hint" yaml:"locked_hint"`

	// AuditDB is the path of the attempt journal. Empty disables the journal.
	AuditDB string `toml:"audit_db" yaml:"audit_db"`

	// IdleTimeoutMs makes trlock wait until the user has been idle this long before locking.
	// Zero locks immediately.
	IdleTimeoutMs int `toml:"idle_timeout_ms" yaml:"idle_timeout_ms"`

	Grab     GrabConfig     `toml:"grab" yaml:"grab"`
	Throttle ThrottleConfig `toml:"throttle" yaml:"throttle"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

type GrabConfig struct {
	Attempts   int `toml:"attempts" yaml:"attempts"`
	IntervalMs int `toml:"interval_ms" yaml:"interval_ms"`
}

type ThrottleConfig struct {
	BaseTimeoutMs int     `toml:"base_timeout_ms" yaml:"base_timeout_ms"`
	MaxGoodwillMs int     `toml:"max_goodwill_ms" yaml:"max_goodwill_ms"`
	Portion       float64 `toml:"portion" yaml:"portion"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	t := throttle.DefaultConfig()
	journal, err := audit.DefaultPath()
	if err != nil {
		journal = ""
	}

	return &Config{
		BlinkDelayMs: int(grab.DefaultBlink.Milliseconds()),
		LockedHint:   true,
		AuditDB:      journal,
		Grab: GrabConfig{
			Attempts:   grab.DefaultAttempts,
			IntervalMs: int(grab.DefaultInterval.Milliseconds()),
		},
		Throttle: ThrottleConfig{
			BaseTimeoutMs: int(t.Base.Milliseconds()),
			MaxGoodwillMs: int(t.MaxGoodwill.Milliseconds()),
			Portion:       t.Portion,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns $XDG_CONFIG_HOME/trlock/config.toml.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find config directory: %w", err)
	}
	return filepath.Join(dir, "trlock", "config.toml"), nil
}

// Load reads the configuration at path on top of the defaults and validates it.
// An empty path loads DefaultPath, which may not exist.
func Load(path string) (*Config, error) {
	optional := path == ""
	if optional {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Default(), nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML %s: %w", path, err)
		}
	default:
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return nil, fmt.Errorf("decode TOML %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("decode TOML %s: unknown keys %v", path, undecoded)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return cfg, nil
}

// GrabSettings returns the grab manager configuration.
func (c *Config) GrabSettings() grab.Config {
	return grab.Config{
		Attempts: c.Grab.Attempts,
		Interval: ms(c.Grab.IntervalMs),
		Blank:    c.Blank,
		Blink:    ms(c.BlinkDelayMs),
	}
}

// ThrottleSettings returns the backoff configuration.
func (c *Config) ThrottleSettings() throttle.Config {
	return throttle.Config{
		Base:        ms(c.Throttle.BaseTimeoutMs),
		MaxGoodwill: ms(c.Throttle.MaxGoodwillMs),
		Portion:     c.Throttle.Portion,
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
