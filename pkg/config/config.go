// Package config loads autonext settings from defaults, an optional YAML
// file, AUTONEXT_* environment variables and command-line flags, in that
// order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the complete autonext configuration
type Config struct {
	// Match lists URL glob patterns a session is attached to.
	Match       []string          `mapstructure:"match" yaml:"match"`
	Detection   DetectionConfig   `mapstructure:"detection" yaml:"detection"`
	Activation  ActivationConfig  `mapstructure:"activation" yaml:"activation"`
	Observation ObservationConfig `mapstructure:"observation" yaml:"observation"`
	Polling     PollingConfig     `mapstructure:"polling" yaml:"polling"`
	Browser     BrowserConfig     `mapstructure:"browser" yaml:"browser"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// DetectionConfig holds the completion criteria. An empty value disables
// that strategy.
type DetectionConfig struct {
	MarkerSelector        string `mapstructure:"marker_selector" yaml:"marker_selector"`
	StructuralSelector    string `mapstructure:"structural_selector" yaml:"structural_selector"`
	CompletedText         string `mapstructure:"completed_text" yaml:"completed_text"`
	ClassFragmentSelector string `mapstructure:"class_fragment_selector" yaml:"class_fragment_selector"`
	IconSelector          string `mapstructure:"icon_selector" yaml:"icon_selector"`
	// ContainerSelector resolves a visible icon to its enclosing block.
	ContainerSelector string `mapstructure:"container_selector" yaml:"container_selector"`
}

// ActivationConfig controls how the navigation control is found and
// activated.
type ActivationConfig struct {
	// Locators are tried in order; the first match is the control.
	Locators []string `mapstructure:"locators" yaml:"locators"`
	// Techniques are fired in order, StaggerMs apart.
	Techniques []string `mapstructure:"techniques" yaml:"techniques"`
	StaggerMs  int      `mapstructure:"stagger_ms" yaml:"stagger_ms"`
}

// ObservationConfig controls the mutation-driven re-check.
type ObservationConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	Root       string   `mapstructure:"root" yaml:"root"`
	Attributes []string `mapstructure:"attributes" yaml:"attributes"`
	DebounceMs int      `mapstructure:"debounce_ms" yaml:"debounce_ms"`
}

// PollingConfig controls the periodic check.
type PollingConfig struct {
	// Policy is "pause-resume" or "bounded".
	Policy     string `mapstructure:"policy" yaml:"policy"`
	IntervalMs int    `mapstructure:"interval_ms" yaml:"interval_ms"`
	CooldownMs int    `mapstructure:"cooldown_ms" yaml:"cooldown_ms"`
	// MaxTicks bounds the bounded policy; 0 means unlimited and is only
	// valid with pause-resume.
	MaxTicks int `mapstructure:"max_ticks" yaml:"max_ticks"`
}

// BrowserConfig selects and configures the browser driver.
type BrowserConfig struct {
	// Driver is "playwright" or "rod".
	Driver   string `mapstructure:"driver" yaml:"driver"`
	Headless bool   `mapstructure:"headless" yaml:"headless"`
	// ControlURL attaches rod to a running browser instead of launching one.
	ControlURL          string `mapstructure:"control_url" yaml:"control_url"`
	NavigationTimeoutMs int    `mapstructure:"navigation_timeout_ms" yaml:"navigation_timeout_ms"`
}

// LoggingConfig controls the diagnostic channel.
type LoggingConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	// Dir overrides ~/.autonext/logs.
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Stderr bool   `mapstructure:"stderr" yaml:"stderr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Match: []string{"https://mooc1.chaoxing.com/mycourse/*"},
		Detection: DetectionConfig{
			MarkerSelector:        `[aria-label="任务点已完成"]`,
			StructuralSelector:    ".ans-job-icon.ans-job-icon-clear",
			CompletedText:         "任务点已完成",
			ClassFragmentSelector: `[class*="ans-job-finished"]`,
			IconSelector:          `[class*="icon-finish"]`,
			ContainerSelector:     ".ans-attach-ct",
		},
		Activation: ActivationConfig{
			Locators:   []string{"#prevNextFocusNext", ".prevNextFocusNext", `[onclick*="PCount.next"]`},
			Techniques: []string{"primary-handler", "click-event", "legacy-handler", "enter-key"},
			StaggerMs:  100,
		},
		Observation: ObservationConfig{
			Enabled:    true,
			Root:       "body",
			Attributes: []string{"class", "aria-label"},
			DebounceMs: 500,
		},
		Polling: PollingConfig{
			Policy:     "pause-resume",
			IntervalMs: 3000,
			CooldownMs: 10000,
			MaxTicks:   0,
		},
		Browser: BrowserConfig{
			Driver:              "playwright",
			Headless:            false,
			NavigationTimeoutMs: 30000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers default values with v
func SetDefaults(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("match", defaults.Match)

	v.SetDefault("detection.marker_selector", defaults.Detection.MarkerSelector)
	v.SetDefault("detection.structural_selector", defaults.Detection.StructuralSelector)
	v.SetDefault("detection.completed_text", defaults.Detection.CompletedText)
	v.SetDefault("detection.class_fragment_selector", defaults.Detection.ClassFragmentSelector)
	v.SetDefault("detection.icon_selector", defaults.Detection.IconSelector)
	v.SetDefault("detection.container_selector", defaults.Detection.ContainerSelector)

	v.SetDefault("activation.locators", defaults.Activation.Locators)
	v.SetDefault("activation.techniques", defaults.Activation.Techniques)
	v.SetDefault("activation.stagger_ms", defaults.Activation.StaggerMs)

	v.SetDefault("observation.enabled", defaults.Observation.Enabled)
	v.SetDefault("observation.root", defaults.Observation.Root)
	v.SetDefault("observation.attributes", defaults.Observation.Attributes)
	v.SetDefault("observation.debounce_ms", defaults.Observation.DebounceMs)

	v.SetDefault("polling.policy", defaults.Polling.Policy)
	v.SetDefault("polling.interval_ms", defaults.Polling.IntervalMs)
	v.SetDefault("polling.cooldown_ms", defaults.Polling.CooldownMs)
	v.SetDefault("polling.max_ticks", defaults.Polling.MaxTicks)

	v.SetDefault("browser.driver", defaults.Browser.Driver)
	v.SetDefault("browser.headless", defaults.Browser.Headless)
	v.SetDefault("browser.control_url", defaults.Browser.ControlURL)
	v.SetDefault("browser.navigation_timeout_ms", defaults.Browser.NavigationTimeoutMs)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.stderr", defaults.Logging.Stderr)
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"driver":      "browser.driver",
	"headless":    "browser.headless",
	"control-url": "browser.control_url",
	"policy":      "polling.policy",
	"max-ticks":   "polling.max_ticks",
	"log-level":   "logging.level",
	"log-stderr":  "logging.stderr",
	"match":       "match",
}

// Load builds the configuration. path names a YAML file; when empty,
// ConfigFile() is read if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("AUTONEXT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if _, err := os.Stat(ConfigFile()); err == nil {
		v.SetConfigFile(ConfigFile())
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", ConfigFile(), err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return &cfg, nil
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

// ParseYAML decodes a YAML document over the defaults, without the
// environment or flags.
func ParseYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, errs
	}
	return cfg, nil
}

// Stagger returns the technique stagger as a time.Duration
func (c *ActivationConfig) Stagger() time.Duration {
	return time.Duration(c.StaggerMs) * time.Millisecond
}

// Debounce returns the observer debounce as a time.Duration
func (c *ObservationConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// Interval returns the poll interval as a time.Duration
func (c *PollingConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

// Cooldown returns the post-activation pause as a time.Duration
func (c *PollingConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// NavigationTimeout returns the navigation timeout as a time.Duration
func (c *BrowserConfig) NavigationTimeout() time.Duration {
	return time.Duration(c.NavigationTimeoutMs) * time.Millisecond
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "autonext")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".autonext"
	}
	return filepath.Join(home, ".config", "autonext")
}

// ConfigFile returns the path to the default config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// IsValidationError reports whether err came from Validate.
func IsValidationError(err error) bool {
	var verrs ValidationErrors
	return errors.As(err, &verrs)
}
