package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/agrisim/internal/abt"
	"github.com/leapstack-labs/agrisim/internal/cli/config"
	"github.com/leapstack-labs/agrisim/internal/cli/output"
	"github.com/leapstack-labs/agrisim/internal/etl"
	"github.com/leapstack-labs/agrisim/internal/feature"
	"github.com/leapstack-labs/agrisim/internal/loader"
	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/internal/scenario"
	"github.com/leapstack-labs/agrisim/internal/store"
	"github.com/leapstack-labs/agrisim/pkg/model"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Store    *store.Store
	Metrics  *metrics.Metrics
	Renderer *output.Renderer
}

// NewCommandContext opens the normalized store and creates a renderer.
// Returns the context and a cleanup function that must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command) (*CommandContext, func(), error) {
	cc := NewCommandContextWithoutStore(cmd)
	if err := cc.Cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}

	stateDir := filepath.Dir(cc.Cfg.StatePath)
	if stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	st := store.New(cc.Logger)
	if err := st.Open(cc.Cfg.StatePath); err != nil {
		return nil, nil, err
	}
	cc.Store = st

	cleanup := func() {
		_ = st.Close()
	}
	return cc, cleanup, nil
}

// NewCommandContextWithoutStore creates a CommandContext without opening the
// store. Useful for commands that don't need database access.
func NewCommandContextWithoutStore(cmd *cobra.Command) *CommandContext {
	cfg := getConfig()
	mode, err := output.ParseMode(cfg.OutputFormat)
	if err != nil {
		mode = output.ModeAuto
	}
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Metrics:  metrics.New(),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), mode),
	}
}

// getConfig returns the loaded configuration, or one built from defaults
// when the root command's pre-run did not load any.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	cfg, err := config.LoadConfig("", nil)
	if err != nil {
		return &config.Config{
			StatePath:    config.DefaultStateFile,
			OutputFormat: config.DefaultOutput,
			Cache:        config.CacheConfig{Size: config.DefaultCacheSize},
		}
	}
	return cfg
}

// Rebuilder wires the loader and resolver configuration onto the store.
func (cc *CommandContext) Rebuilder() (*etl.Rebuilder, error) {
	if err := cc.Cfg.ValidateResolver(); err != nil {
		return nil, err
	}
	return etl.NewRebuilder(cc.Store, loader.New(cc.Logger), cc.Cfg.ResolveConfig(), cc.Metrics, cc.Logger), nil
}

// Pipeline builds the ABT builder and the feature pipeline over it.
func (cc *CommandContext) Pipeline() (*abt.Builder, *feature.Pipeline, error) {
	builder := abt.New(cc.Store.DB(), cc.Logger)
	p, err := feature.NewPipeline(builder, cc.Cfg.Features, cc.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid feature configuration: %w", err)
	}
	return builder, p, nil
}

// Scorer returns the configured remote model, or nil when none is set.
func (cc *CommandContext) Scorer() model.Scorer {
	if cc.Cfg.Model.URL == "" {
		return nil
	}
	var opts []model.HTTPOption
	if cc.Cfg.Model.RateLimit > 0 {
		opts = append(opts, model.WithRateLimit(cc.Cfg.Model.RateLimit, 1))
	}
	return model.NewHTTPScorer(cc.Cfg.Model.URL, cc.Cfg.Model.Timeout, opts...)
}

// Service builds the scenario service with its vector cache.
func (cc *CommandContext) Service() (*abt.Builder, *scenario.Service, *scenario.Cache, error) {
	builder, p, err := cc.Pipeline()
	if err != nil {
		return nil, nil, nil, err
	}
	cache, err := scenario.NewCache(cc.Cfg.Cache.Size, p.Vector, cc.Store.Generation, cc.Metrics)
	if err != nil {
		return nil, nil, nil, err
	}
	return builder, scenario.NewService(p, cache, cc.Scorer(), cc.Metrics, cc.Logger), cache, nil
}
