package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"instaweb/internal/config"
	"instaweb/internal/logging"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
	"instaweb/internal/ratelimit"
)

// Server is the HTTP front end for the daemon.
type Server struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	store   *queue.Store
	hub     *progress.Hub
	limiter *ratelimit.Limiter
	cfg     *config.Config

	listener net.Listener
	server   *http.Server
}

// NewServer wires the HTTP routes for the daemon.
func NewServer(cfg *config.Config, d *Daemon, store *queue.Store, hub *progress.Hub, logger *slog.Logger) (*Server, error) {
	if cfg == nil || d == nil || store == nil {
		return nil, errors.New("server requires config, daemon, and store")
	}
	bind := strings.TrimSpace(cfg.Server.Bind)
	if bind == "" {
		return nil, errors.New("server bind address is empty")
	}

	srv := &Server{
		bind:    bind,
		logger:  logger,
		daemon:  d,
		store:   store,
		hub:     hub,
		limiter: ratelimit.New(cfg.RateLimit.Requests, time.Duration(cfg.RateLimit.WindowSeconds)*time.Second),
		cfg:     cfg,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", srv.handleIndex)
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/start", srv.handleStart)
	mux.HandleFunc("/events/", srv.handleEvents)
	mux.HandleFunc("/download/", srv.handleDownload)
	mux.HandleFunc("/api/status", authMiddleware(cfg.Server.APIKey, srv.handleStatus))
	mux.HandleFunc("/api/jobs", authMiddleware(cfg.Server.APIKey, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(cfg.Server.APIKey, srv.handleJob))

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// Start begins serving until the context ends.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("http server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	go s.pruneClients(ctx)

	s.log().Info("http server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// pruneClients periodically drops idle client histories from the rate
// limiter so long-running daemons do not accumulate one entry per IP seen.
func (s *Server) pruneClients(ctx context.Context) {
	interval := s.limiter.Window()
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Prune()
		}
	}
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s == nil {
		return
	}
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
}

// Addr returns the bound listener address, useful when binding to port 0.
func (s *Server) Addr() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Handler exposes the route mux for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log().Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) log() *slog.Logger {
	if s.logger != nil {
		return s.logger.With(logging.String(logging.FieldComponent, "http-server"))
	}
	return logging.NewNop()
}
