package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/florianilch/mcpcreds/internal/observability/middleware"
	"github.com/florianilch/mcpcreds/internal/tokenstore"
	"github.com/florianilch/mcpcreds/internal/trust"
)

// maxRequestBody bounds request bodies accepted by the companion endpoint.
const maxRequestBody = 4 << 10

// TrustPublisher receives workspace trust changes pushed by the IDE.
type TrustPublisher interface {
	Publish(trusted bool)
	Current() trust.Verdict
}

// StorageReporter reports the credential storage backend in use.
type StorageReporter interface {
	Kind() tokenstore.Kind
}

// Option configures a Server.
type Option func(*config)

type config struct {
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// WithGatherer exposes the gatherer's metrics on GET /metrics.
// Without it the route is not registered.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *config) {
		c.gatherer = g
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Server is the local HTTP endpoint an IDE extension talks to.
type Server struct {
	mux      *http.ServeMux
	server   *http.Server
	listener net.Listener
}

// Compile-time check that Server implements http.Handler
var _ http.Handler = (*Server)(nil)

// New creates a companion server publishing trust changes to publisher and
// reporting the storage backend from storage.
func New(publisher TrustPublisher, storage StorageReporter, opts ...Option) (*Server, error) {
	if publisher == nil {
		return nil, fmt.Errorf("missing trust publisher")
	}
	if storage == nil {
		return nil, fmt.Errorf("missing storage reporter")
	}

	cfg := &config{logger: slog.Default()}
	for _, opt := range opts {
		opt(cfg)
	}

	h := &handlers{publisher: publisher, storage: storage}
	middlewares := []func(http.Handler) http.Handler{
		middleware.TraceContext,
		middleware.Logging(cfg.logger),
		Recovery,
		LocalOnly,
	}

	mux := http.NewServeMux()
	mux.Handle("GET /healthz", applyMiddlewares(http.HandlerFunc(h.health), Recovery))
	mux.Handle("GET /trust", applyMiddlewares(http.HandlerFunc(h.getTrust), middlewares...))
	mux.Handle("POST /trust", applyMiddlewares(http.HandlerFunc(h.postTrust), middlewares...))
	mux.Handle("GET /storage", applyMiddlewares(http.HandlerFunc(h.getStorage), middlewares...))
	if cfg.gatherer != nil {
		mux.Handle("GET /metrics", applyMiddlewares(
			promhttp.HandlerFor(cfg.gatherer, promhttp.HandlerOpts{}),
			Recovery,
			LocalOnly,
		))
	}

	return &Server{mux: mux}, nil
}

// ServeHTTP implements http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start starts the HTTP server in the background and returns immediately.
// Returns a channel for runtime errors and a startup error if any.
//
// Startup errors (port in use, permission denied) are returned immediately.
// Runtime errors (network failures during operation) are sent to the error channel.
//
// The caller is responsible for calling Shutdown() to stop the server.
func (s *Server) Start(ctx context.Context, address string) (<-chan error, error) {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", address, err)
	}
	return s.serve(ctx, listener), nil
}

// Addr returns the address the server listens on, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) serve(ctx context.Context, listener net.Listener) <-chan error {
	s.listener = listener
	s.server = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       90 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)

	go func() {
		err := s.server.Serve(listener)
		// Only report error if not from graceful shutdown
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	return errCh
}

// Shutdown performs graceful shutdown of the HTTP server.
// Returns error if shutdown fails or times out.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	if err := s.server.Shutdown(ctx); err != nil {
		// Graceful shutdown failed - force close
		_ = s.server.Close()
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	return nil
}
