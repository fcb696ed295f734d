// Package api exposes the admin HTTP surface: recipient management,
// manual triggers, stats, and health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/gateway"
	"github.com/basket/nudge/internal/otel"
	"github.com/basket/nudge/internal/reminder"
)

// stateChecker is implemented by gateways that can report upstream
// session state.
type stateChecker interface {
	State(ctx context.Context) (string, error)
}

// Config wires a Server to its collaborators.
type Config struct {
	BindAddr   string
	AdminToken string
	Service    *reminder.Service
	Gateway    gateway.Gateway
	Bus        *bus.Bus      // may be nil
	Metrics    *otel.Metrics // may be nil
	Logger     *slog.Logger
	Version    string

	// GeneratorEnabled reports whether AI text generation is live.
	GeneratorEnabled func() bool
	// DBCheck pings the store.
	DBCheck func(ctx context.Context) error

	RateLimitPerMinute int
	RateLimitBurst     int
}

// Server is the admin HTTP server.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	httpSrv   *http.Server
	limiter   *RateLimitMiddleware
	startedAt time.Time
}

// New creates a Server. Call Start to begin serving.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		limiter:   NewRateLimitMiddleware(cfg.RateLimitPerMinute, cfg.RateLimitBurst, cfg.Metrics),
		startedAt: time.Now(),
	}
}

// Handler builds the routed, authenticated, rate-limited handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/recipients", s.handleRecipients)
	mux.HandleFunc("/api/recipients/", s.handleRecipientByID)
	mux.HandleFunc("/api/reminders", s.handleReminders)
	mux.HandleFunc("/api/reminder/trigger", s.handleTriggerReminder)
	mux.HandleFunc("/api/escalation/check", s.handleTriggerEscalation)
	mux.HandleFunc("/api/escalations/pending", s.handlePendingEscalations)
	mux.HandleFunc("/api/escalations/stats", s.handleEscalationStats)
	mux.HandleFunc("/api/confirmations/stats", s.handleConfirmationStats)
	mux.HandleFunc("/api/messages", s.handleMessages)

	auth := NewAuthMiddleware(s.cfg.AdminToken)
	return auth.Wrap(s.limiter.Wrap(mux))
}

// Start begins serving on BindAddr. It returns once the listener is
// bound; serving continues in the background until Shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.BindAddr)
	if err != nil {
		return err
	}
	s.limiter.StartEviction(ctx, 10*time.Minute, time.Hour)
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", err)
		}
	}()
	s.logger.Info("api server listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
