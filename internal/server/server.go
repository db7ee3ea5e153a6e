// Package server exposes the ABT, feature vectors, name resolution and
// scenario simulation over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/agrisim/internal/abt"
	"github.com/leapstack-labs/agrisim/internal/metrics"
	"github.com/leapstack-labs/agrisim/internal/resolve"
	"github.com/leapstack-labs/agrisim/internal/scenario"
	"github.com/leapstack-labs/agrisim/pkg/core"
)

// DefaultRequestTimeout bounds every request.
const DefaultRequestTimeout = 30 * time.Second

// ABT streams ABT rows. *abt.Builder implements it.
type ABT interface {
	Build(ctx context.Context, f abt.Filter) iter.Seq2[abt.Row, error]
}

// Scenarios serves base vectors and simulations. *scenario.Service
// implements it.
type Scenarios interface {
	Base(ctx context.Context, key core.Key) (core.FeatureVector, error)
	Run(ctx context.Context, req scenario.Request) (*scenario.Response, error)
}

// Explainer dry-runs district name resolution. *etl.Rebuilder implements it.
type Explainer interface {
	Explain(ctx context.Context, raw string, origin resolve.Origin) (resolve.Resolution, error)
}

// Config holds the server's dependencies.
type Config struct {
	Addr           string
	ABT            ABT
	Scenarios      Scenarios
	Explainer      Explainer
	Metrics        *metrics.Metrics
	Logger         *slog.Logger
	RequestTimeout time.Duration

	// Watcher, when set, rebuilds the store as source files change.
	Watcher *Watcher
}

// Server is the agrisim HTTP API.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	handler http.Handler
}

// New creates a server and builds its routes.
func New(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.handler = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

func (s *Server) routes() http.Handler {
	r := chi.NewMux()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.instrument,
		middleware.Recoverer,
		middleware.Timeout(s.cfg.RequestTimeout),
	)

	h := &handlers{cfg: s.cfg, logger: s.logger}
	r.Get("/healthz", h.health)
	r.Handle("/metrics", s.cfg.Metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/abt", h.abt)
		r.Get("/features/{district}/{year}/{crop}", h.features)
		r.Post("/scenarios", h.scenarios)
		r.Get("/resolve", h.resolve)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorBody{Error: string(core.KindNotFound), Message: "no such route"})
	})
	return r
}

// instrument logs each request and counts it by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		d := time.Since(start)
		s.cfg.Metrics.HTTPRequest(route, fmt.Sprint(status), d)
		s.logger.Debug("http request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", d,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Serve listens on Config.Addr until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener serves on ln until ctx is canceled, then shuts down
// gracefully. A configured watcher runs alongside.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.logger.Info("starting server", "addr", ln.Addr().String())
	eg, egctx := errgroup.WithContext(ctx)

	srv := &http.Server{
		Handler: s.handler,
		BaseContext: func(_ net.Listener) context.Context {
			return egctx
		},
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.cfg.Watcher != nil {
		eg.Go(func() error {
			return s.cfg.Watcher.Run(egctx)
		})
	}

	eg.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Debug("shutting down server...")
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
