// Package api serves the support bot's operational HTTP endpoints: health,
// Prometheus metrics, active inactivity timers, the message log, the Twilio
// inbound webhook, and a JSON inbound endpoint for the mock transport.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/messaging"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultShutdownTimeout bounds graceful shutdown.
const DefaultShutdownTimeout = 10 * time.Second

// TimerLister is the read side of the timeout manager.
type TimerLister interface {
	List() []models.TimerInfo
	ActiveCount() int
}

// Injector accepts inbound events posted over HTTP.
type Injector interface {
	Inject(ev messaging.Inbound) error
}

// Opts holds the optional collaborators of the server.
type Opts struct {
	Timers   TimerLister
	Messages store.MessageRepo
	Gatherer prometheus.Gatherer
	Webhook  http.HandlerFunc
	Injector Injector
}

// Option configures Opts.
type Option func(*Opts)

// WithTimers exposes GET /timeouts.
func WithTimers(t TimerLister) Option {
	return func(o *Opts) { o.Timers = t }
}

// WithMessages exposes GET /users/{userID}/messages.
func WithMessages(m store.MessageRepo) Option {
	return func(o *Opts) { o.Messages = m }
}

// WithGatherer exposes GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(o *Opts) { o.Gatherer = g }
}

// WithTwilioWebhook mounts POST /webhooks/twilio.
func WithTwilioWebhook(h http.HandlerFunc) Option {
	return func(o *Opts) { o.Webhook = h }
}

// WithInjector mounts POST /inbound.
func WithInjector(i Injector) Option {
	return func(o *Opts) { o.Injector = i }
}

// Server is the operational HTTP server.
type Server struct {
	opts    Opts
	started time.Time
	srv     *http.Server
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, opts ...Option) *Server {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{opts: cfg, started: time.Now()}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	if s.opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if s.opts.Timers != nil {
		r.Get("/timeouts", s.timeoutsHandler)
	}
	if s.opts.Messages != nil {
		r.Get("/users/{userID}/messages", s.messagesHandler)
	}
	if s.opts.Webhook != nil {
		r.Post("/webhooks/twilio", s.opts.Webhook)
	}
	if s.opts.Injector != nil {
		r.Post("/inbound", s.inboundHandler)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to serve on %s: %w", s.srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer cancel()
	slog.Info("Server.Run: shutting down")
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}
