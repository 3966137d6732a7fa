package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"accountant/internal/core"
	applog "accountant/internal/log"
	"accountant/internal/middleware/ratelimit"
	"accountant/internal/middleware/trace"
	"accountant/internal/telegram"
)

const dispatchTimeout = 30 * time.Second

type (
	// EventSink accepts a decoded channel event, either processing it or
	// queueing it.
	EventSink interface {
		HandleEvent(ctx context.Context, ev core.ChannelEvent) error
	}

	// UpdateDecoder turns a webhook body into a channel event.
	UpdateDecoder interface {
		Decode(r *http.Request) (core.ChannelEvent, error)
	}

	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// ReadinessCheck is one dependency checked by /readyz.
type ReadinessCheck struct {
	Name   string
	Pinger Pinger
}

// Options wires the server. WebhookPath empty means polling mode: no
// webhook route is mounted.
type Options struct {
	WebhookPath string
	Decoder     UpdateDecoder
	Sink        EventSink
	Checks      []ReadinessCheck
	Logger      *applog.Logger
	// RequestsPerMinute caps webhook calls per client; 0 uses the limiter default.
	RequestsPerMinute int
}

type Server struct {
	http.Server
	decoder UpdateDecoder
	sink    EventSink
	checks  []ReadinessCheck
	logger  *applog.Logger
	tracer  *trace.Middleware
	limiter *ratelimit.Limiter

	shutdownOnce sync.Once
}

// NewServer configures routes, returning a ready-to-run http.Server.
func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	logger = logger.WithComponent(applog.ComponentHTTP)

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		decoder: opts.Decoder,
		sink:    opts.Sink,
		checks:  opts.Checks,
		logger:  logger,
		tracer:  trace.NewMiddleware(logger),
	}

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	if opts.WebhookPath != "" && opts.Decoder != nil && opts.Sink != nil {
		s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RequestsPerMinute})
		webhook := s.limiter.Middleware(trace.ClientIP)(http.HandlerFunc(s.handleWebhook))
		mux.Handle(opts.WebhookPath, webhook)
	}

	s.Handler = s.tracer.Middleware(mux)
	return s
}

// Metrics exposes request counters from the trace middleware.
func (s *Server) Metrics() trace.Metrics { return s.tracer.GetMetrics() }

// Shutdown gracefully shuts down the server and the limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.limiter != nil {
			s.limiter.Stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Bot is running"))
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	var failed []string
	for _, c := range s.checks {
		if err := c.Pinger.Ping(ctx); err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Readiness check failed", "check", c.Name, applog.FieldError, err)
			failed = append(failed, c.Name)
		}
	}
	if len(failed) > 0 {
		http.Error(w, "not ready: "+strings.Join(failed, ", "), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// handleWebhook answers 200 once the event is handled or queued, 400 for
// bodies that are not updates, and 500 when the sink fails so the update
// is delivered again.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logger := applog.FromContext(r.Context())

	ev, err := s.decoder.Decode(r)
	switch {
	case errors.Is(err, telegram.ErrIgnored):
		_, _ = w.Write([]byte("OK"))
		return
	case err != nil:
		logger.WarnContext(r.Context(), "Malformed webhook update", applog.FieldError, err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}

	// the client may hang up; the event is still processed to completion
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), dispatchTimeout)
	defer cancel()
	if err := s.sink.HandleEvent(ctx, ev); err != nil {
		logger.ErrorContext(ctx, "Webhook dispatch failed",
			applog.NewFields().WithMessage(ev.MessageID).WithError(err).With(applog.FieldEventKind, string(ev.Kind)).ToSlice()...)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte("OK"))
}
