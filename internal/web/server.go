// Package web serves the bridge over HTTP: listings, executions, run
// history, agent health and a websocket relay of bus events.
package web

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mtzanidakis/crewbridge/internal/bridge"
	"github.com/mtzanidakis/crewbridge/internal/config"
	"github.com/mtzanidakis/crewbridge/internal/natsbus"
	"github.com/mtzanidakis/crewbridge/internal/store"
	"github.com/mtzanidakis/crewbridge/internal/vault"
)

type Server struct {
	bridge    *bridge.Bridge
	store     *store.Store
	secrets   *vault.Secrets
	events    *natsbus.Client
	hub       *Hub
	cfg       config.WebConfig
	version   string
	startedAt time.Time
}

// NewServer wires the HTTP API. secrets and events may be nil; the secret
// endpoints and the websocket relay are then inert.
func NewServer(b *bridge.Bridge, s *store.Store, secrets *vault.Secrets, events *natsbus.Client, cfg config.WebConfig, version string) *Server {
	return &Server{
		bridge:    b,
		store:     s,
		secrets:   secrets,
		events:    events,
		hub:       NewHub(),
		cfg:       cfg,
		version:   version,
		startedAt: time.Now(),
	}
}

// Handler returns the API with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPI(mux)
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
	return s.withMiddleware(mux)
}

func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)

	if err := s.subscribeEvents(); err != nil {
		return err
	}

	addr := fmt.Sprintf(":%d", s.cfg.Port)
	server := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	slog.Info("web server listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		if strings.HasPrefix(r.URL.Path, "/api/") && s.cfg.Auth != "" && !s.checkAuth(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="crewbridge"`)
			jsonError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkAuth accepts Basic auth with any user name and the configured
// password.
func (s *Server) checkAuth(r *http.Request) bool {
	_, pass, ok := r.BasicAuth()
	return ok && subtle.ConstantTimeCompare([]byte(pass), []byte(s.cfg.Auth)) == 1
}

func (s *Server) subscribeEvents() error {
	if s.events == nil {
		return nil
	}
	_, err := s.events.SubscribeEvents(natsbus.TopicEventsAll, s.hub.Broadcast)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	return nil
}
