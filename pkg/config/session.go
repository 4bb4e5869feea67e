package config

import (
	"fmt"

	"github.com/entrhq/autonext/pkg/activate"
	"github.com/entrhq/autonext/pkg/detect"
	"github.com/entrhq/autonext/pkg/logging"
	"github.com/entrhq/autonext/pkg/poll"
	"github.com/entrhq/autonext/pkg/session"
)

// Strategies builds the enabled detection strategies in priority order.
func (c *DetectionConfig) Strategies() []detect.Strategy {
	var out []detect.Strategy
	if c.MarkerSelector != "" {
		out = append(out, detect.BySelector("marker-attribute", c.MarkerSelector))
	}
	if c.StructuralSelector != "" {
		out = append(out, detect.BySelector("structural-class", c.StructuralSelector))
	}
	if c.CompletedText != "" {
		out = append(out, detect.ByText("text-scan", c.CompletedText))
	}
	if c.ClassFragmentSelector != "" {
		out = append(out, detect.BySelector("class-fragment", c.ClassFragmentSelector))
	}
	if c.IconSelector != "" {
		out = append(out, detect.ByVisibleIcon("visible-icon", c.IconSelector, c.ContainerSelector))
	}
	return out
}

// SessionOptions translates the configuration into session options.
func (c *Config) SessionOptions() (session.Options, error) {
	techniques, err := activate.TechniquesByName(c.Activation.Techniques...)
	if err != nil {
		return session.Options{}, fmt.Errorf("activation.techniques: %w", err)
	}
	locators := make([]activate.Locator, len(c.Activation.Locators))
	for i, sel := range c.Activation.Locators {
		locators[i] = activate.Locator{Name: sel, Selector: sel}
	}
	policy, err := poll.ParsePolicy(c.Polling.Policy)
	if err != nil {
		return session.Options{}, fmt.Errorf("polling.policy: %w", err)
	}

	return session.Options{
		Strategies: c.Detection.Strategies(),
		Activation: activate.Options{
			Locators:   locators,
			Techniques: techniques,
			Stagger:    c.Activation.Stagger(),
		},
		ObserverRoot:    c.Observation.Root,
		AttributeFilter: c.Observation.Attributes,
		Debounce:        c.Observation.Debounce(),
		DisableObserver: !c.Observation.Enabled,
		Polling: poll.Options{
			Policy:   policy,
			Interval: c.Polling.Interval(),
			Cooldown: c.Polling.Cooldown(),
			MaxTicks: c.Polling.MaxTicks,
		},
	}, nil
}

// LoggingOptions translates the logging section.
func (c *LoggingConfig) LoggingOptions() logging.Options {
	return logging.Options{Level: c.Level, Dir: c.Dir, Stderr: c.Stderr}
}
