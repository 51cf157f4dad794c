// Package admin serves the operational endpoints of a worker process:
// health, readiness, liveness and prometheus metrics.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

var (
	ErrAlreadyStarted = errors.New("admin: server already started")
	errCheckTimeout   = errors.New("timeout")
)

type Server struct {
	config     Config
	logger     observability.Logger
	router     chi.Router
	httpServer *http.Server
	registry   *prometheus.Registry
	checks     map[string]HealthCheckFunc
	readiness  map[string]HealthCheckFunc
	collectors []prometheus.Collector

	mu       sync.Mutex
	listener net.Listener
	started  bool
	stopped  bool
	serveErr chan error
}

type Option func(*Server)

func WithConfig(cfg Config) Option {
	return func(s *Server) { s.config = cfg }
}

// WithHealthCheck adds a check to /health.
func WithHealthCheck(name string, check HealthCheckFunc) Option {
	return func(s *Server) { s.checks[name] = check }
}

// WithReadinessCheck adds a check to /ready. With none registered /ready
// always answers 200.
func WithReadinessCheck(name string, check HealthCheckFunc) Option {
	return func(s *Server) { s.readiness[name] = check }
}

// WithCollector registers extra collectors on the /metrics registry.
func WithCollector(c ...prometheus.Collector) Option {
	return func(s *Server) { s.collectors = append(s.collectors, c...) }
}

// New builds the router. Nothing listens until Start.
func New(o11y observability.Observability, opts ...Option) (*Server, error) {
	s := &Server{
		config:    DefaultConfig(),
		logger:    o11y.Logger().With(observability.String("component", "admin")),
		checks:    make(map[string]HealthCheckFunc),
		readiness: make(map[string]HealthCheckFunc),
		registry:  prometheus.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid admin server configuration: %w", err)
	}

	cs := append([]prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}, s.collectors...)
	for _, c := range cs {
		if err := s.registry.Register(c); err != nil {
			return nil, fmt.Errorf("admin: register collector: %w", err)
		}
	}

	s.router = chi.NewRouter()
	s.router.Use(middleware.RequestID)
	s.router.Use(s.recoverer)
	s.router.Get("/health", s.healthHandler)
	s.router.Get("/ready", s.readyHandler)
	s.router.Get("/live", liveHandler)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds the address and serves in the background. Calling it again
// returns ErrAlreadyStarted.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("admin: listen on %s: %w", s.config.Address, err)
	}
	s.listener = ln
	s.started = true
	s.serveErr = make(chan error, 1)

	go func() {
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), "admin server stopped unexpectedly", observability.Error(err))
			s.serveErr <- err
		}
		close(s.serveErr)
	}()

	s.logger.Info(ctx, "admin server started",
		observability.String("address", ln.Addr().String()),
		observability.String("service", s.config.ServiceName),
		observability.String("version", s.config.ServiceVersion),
	)
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests and waits for active ones up to ctx.
// Only the first call does any work.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	serveErr := s.serveErr
	s.mu.Unlock()

	s.logger.Info(ctx, "shutting down admin server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin: shutdown: %w", err)
	}
	return <-serveErr
}

func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			recovered := recover()
			if recovered == nil {
				return
			}
			if recovered == http.ErrAbortHandler {
				panic(recovered)
			}

			s.logger.Error(r.Context(), "panic recovered",
				observability.String("path", r.URL.Path),
				observability.String("method", r.Method),
				observability.String("request_id", middleware.GetReqID(r.Context())),
				observability.Any("panic", recovered),
				observability.String("stack", string(debug.Stack())),
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		}()
		next.ServeHTTP(w, r)
	})
}
