package config

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"github.com/gobwas/glob"

	"github.com/entrhq/autonext/pkg/activate"
	"github.com/entrhq/autonext/pkg/poll"
)

// ValidationError represents a single configuration problem
type ValidationError struct {
	Field   string // The config field path (e.g., "polling.interval_ms")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

var validLevels = []string{"debug", "info", "warn", "error"}

var validDrivers = []string{"playwright", "rod"}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	add := func(field string, value any, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
	}
	selector := func(field, s string) {
		if _, err := cascadia.Compile(s); err != nil {
			add(field, s, "invalid selector: %v", err)
		}
	}

	if len(c.Match) == 0 {
		add("match", c.Match, "at least one URL pattern is required")
	}
	for i, pattern := range c.Match {
		if _, err := glob.Compile(pattern); err != nil {
			add(fmt.Sprintf("match[%d]", i), pattern, "invalid pattern: %v", err)
		}
	}

	d := c.Detection
	if d.MarkerSelector == "" && d.StructuralSelector == "" && d.CompletedText == "" &&
		d.ClassFragmentSelector == "" && d.IconSelector == "" {
		add("detection", "", "at least one detection strategy must be enabled")
	}
	for _, f := range []struct{ field, value string }{
		{"detection.marker_selector", d.MarkerSelector},
		{"detection.structural_selector", d.StructuralSelector},
		{"detection.class_fragment_selector", d.ClassFragmentSelector},
		{"detection.icon_selector", d.IconSelector},
		{"detection.container_selector", d.ContainerSelector},
	} {
		if f.value != "" {
			selector(f.field, f.value)
		}
	}

	if len(c.Activation.Locators) == 0 {
		add("activation.locators", c.Activation.Locators, "at least one locator is required")
	}
	for i, s := range c.Activation.Locators {
		field := fmt.Sprintf("activation.locators[%d]", i)
		if strings.TrimSpace(s) == "" {
			add(field, s, "locator cannot be empty")
			continue
		}
		selector(field, s)
	}
	if len(c.Activation.Techniques) == 0 {
		add("activation.techniques", c.Activation.Techniques, "at least one technique is required")
	} else if _, err := activate.TechniquesByName(c.Activation.Techniques...); err != nil {
		add("activation.techniques", c.Activation.Techniques, "%v", err)
	}
	if c.Activation.StaggerMs < 0 {
		add("activation.stagger_ms", c.Activation.StaggerMs, "must be non-negative")
	}

	if c.Observation.Enabled {
		if c.Observation.Root == "" {
			add("observation.root", c.Observation.Root, "root selector is required when observation is enabled")
		} else {
			selector("observation.root", c.Observation.Root)
		}
		if c.Observation.DebounceMs <= 0 {
			add("observation.debounce_ms", c.Observation.DebounceMs, "must be positive")
		}
	}

	policy, err := poll.ParsePolicy(c.Polling.Policy)
	if err != nil {
		add("polling.policy", c.Polling.Policy, "must be %q or %q", poll.PolicyPauseResume, poll.PolicyBounded)
	}
	if c.Polling.IntervalMs <= 0 {
		add("polling.interval_ms", c.Polling.IntervalMs, "must be positive")
	}
	if c.Polling.CooldownMs <= 0 {
		add("polling.cooldown_ms", c.Polling.CooldownMs, "must be positive")
	}
	switch {
	case c.Polling.MaxTicks < 0:
		add("polling.max_ticks", c.Polling.MaxTicks, "must be non-negative")
	case policy == poll.PolicyBounded && c.Polling.MaxTicks == 0:
		add("polling.max_ticks", c.Polling.MaxTicks, "bounded polling needs a positive limit")
	}

	if !contains(validDrivers, c.Browser.Driver) {
		add("browser.driver", c.Browser.Driver, "must be one of: %s", strings.Join(validDrivers, ", "))
	}
	if c.Browser.ControlURL != "" && c.Browser.Driver != "rod" {
		add("browser.control_url", c.Browser.ControlURL, "only supported by the rod driver")
	}
	if c.Browser.NavigationTimeoutMs <= 0 {
		add("browser.navigation_timeout_ms", c.Browser.NavigationTimeoutMs, "must be positive")
	}

	if !contains(validLevels, c.Logging.Level) {
		add("logging.level", c.Logging.Level, "must be one of: %s", strings.Join(validLevels, ", "))
	}

	return errs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
