package config

import (
	"errors"
	"fmt"

	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/internal/resolve"
)

// Validate checks settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.StatePath == "" {
		errs = append(errs, errors.New("state_path is required"))
	}
	if _, err := output.ParseMode(c.OutputFormat); err != nil {
		errs = append(errs, fmt.Errorf("output: %w", err))
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, src := range c.Sources {
		switch {
		case src.Name == "":
			errs = append(errs, fmt.Errorf("sources[%d]: name is required", i))
		case seen[src.Name]:
			errs = append(errs, fmt.Errorf("sources[%d]: duplicate source name %q", i, src.Name))
		}
		seen[src.Name] = true
		if !src.Kind.Valid() {
			errs = append(errs, fmt.Errorf("sources[%d]: unknown kind %q (expected districts, yield, weather, soil or inputs)", i, src.Kind))
		}
		if src.Path == "" {
			errs = append(errs, fmt.Errorf("sources[%d]: path is required", i))
		}
	}

	if err := c.Features.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("features: %w", err))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache.size must be positive, got %d", c.Cache.Size))
	}
	if c.Model.Timeout < 0 {
		errs = append(errs, fmt.Errorf("model.timeout must not be negative, got %s", c.Model.Timeout))
	}
	if c.Model.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("model.rate_limit must not be negative, got %g", c.Model.RateLimit))
	}
	return errors.Join(errs...)
}

// ValidateResolver checks the settings needed to resolve district names.
// The threshold has no default and must be configured.
func (c *Config) ValidateResolver() error {
	var errs []error
	if c.Resolver.Threshold <= 0 || c.Resolver.Threshold > 1 {
		errs = append(errs, fmt.Errorf("resolver.threshold must be in (0, 1], got %g\nHint: set resolver.threshold in agrisim.yaml or pass --threshold", c.Resolver.Threshold))
	}
	if c.Resolver.TieMargin < 0 || c.Resolver.TieMargin >= 1 {
		errs = append(errs, fmt.Errorf("resolver.tie_margin must be in [0, 1), got %g", c.Resolver.TieMargin))
	}
	if _, err := resolve.ParseMetric(c.Resolver.Metric); err != nil {
		errs = append(errs, fmt.Errorf("resolver.metric: %w", err))
	}
	return errors.Join(errs...)
}

// ResolveConfig converts the resolver settings. Call ValidateResolver first.
func (c *Config) ResolveConfig() resolve.Config {
	metric, _ := resolve.ParseMetric(c.Resolver.Metric)
	return resolve.Config{
		Threshold:    c.Resolver.Threshold,
		TieMargin:    c.Resolver.TieMargin,
		Metric:       metric,
		ScopeByState: c.Resolver.ScopeByState,
	}
}

// SourcePaths returns the configured source file paths.
func (c *Config) SourcePaths() []string {
	paths := make([]string, 0, len(c.Sources))
	for _, src := range c.Sources {
		paths = append(paths, src.Path)
	}
	return paths
}
