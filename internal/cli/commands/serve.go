package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/agrisim/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ABT, feature vectors and scenarios over HTTP",
		Long: `Start the HTTP API:

  GET  /healthz
  GET  /metrics
  GET  /v1/abt?district=&state=&crop=&from=&to=
  GET  /v1/features/{district}/{year}/{crop}
  POST /v1/scenarios            (JSON or YAML body)
  GET  /v1/resolve?name=&state=

With --watch the store is rebuilt whenever a configured source file changes.`,
		Example: `  agrisim serve
  agrisim serve --addr 127.0.0.1:9090 --watch`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides serve.addr)")
	cmd.Flags().Bool("watch", false, "Rebuild when source files change")
	cmd.Flags().String("model-url", "", "Remote scorer base URL (overrides model.url)")
	cmd.Flags().Int("cache-size", 0, "Feature vector cache entries (overrides cache.size)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cc, cleanup, err := NewCommandContext(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	builder, svc, _, err := cc.Service()
	if err != nil {
		return err
	}
	cfg := server.Config{
		Addr:      cc.Cfg.Serve.Addr,
		ABT:       builder,
		Scenarios: svc,
		Metrics:   cc.Metrics,
		Logger:    cc.Logger,
	}

	rb, rbErr := cc.Rebuilder()
	switch {
	case rbErr == nil:
		cfg.Explainer = rb
	case cc.Cfg.Serve.Watch:
		return rbErr
	default:
		cc.Logger.Warn("name resolution endpoint disabled", "error", rbErr)
	}

	if cc.Cfg.Serve.Watch {
		if len(cc.Cfg.Sources) == 0 {
			return fmt.Errorf("--watch needs configured sources")
		}
		w, err := server.NewWatcher(cc.Cfg.SourcePaths(), server.DefaultDebounce, func(ctx context.Context) error {
			report, err := rb.Rebuild(ctx, cc.Cfg.Sources)
			if err != nil {
				return err
			}
			cc.Logger.Info("rebuild finished", "run_id", report.RunID, "status", report.Status, "issues", report.TotalIssues())
			return nil
		}, cc.Logger)
		if err != nil {
			return err
		}
		cfg.Watcher = w
	}

	cc.Renderer.Printf("Serving on %s\n", cfg.Addr)
	cc.Renderer.Muted("Press Ctrl+C to stop")
	return server.New(cfg).Serve(cmd.Context())
}
