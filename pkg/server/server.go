// Package server exposes the chat over HTTP and a websocket.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/shuymn-sandbox/firechat/pkg/auth"
	"github.com/shuymn-sandbox/firechat/pkg/view"
)

// WebConfig is handed to the page so it can run the provider's sign-in popup.
type WebConfig struct {
	APIKey     string `json:"apiKey"`
	AuthDomain string `json:"authDomain"`
	ProjectID  string `json:"projectId"`
}

type Config struct {
	StaticDir        string
	MaxMessageLength int
	RevokeOnSignOut  bool
	Web              WebConfig
}

type Server struct {
	cfg      Config
	provider auth.Provider
	messages view.Messages
	feed     view.Feed
	upgrader websocket.Upgrader
}

func New(cfg Config, provider auth.Provider, messages view.Messages, feed view.Feed) *Server {
	return &Server{
		cfg:      cfg,
		provider: provider,
		messages: messages,
		feed:     feed,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/firebase-config", s.firebaseConfig).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.serveWs)

	if s.cfg.StaticDir != "" {
		r.PathPrefix("/").Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, ".js") || strings.HasSuffix(r.URL.Path, ".css") || r.URL.Path == "/" {
				w.Header().Set("Cache-Control", "no-cache")
			}
			http.FileServer(http.Dir(s.cfg.StaticDir)).ServeHTTP(w, r)
		}))
	}
	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) firebaseConfig(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.cfg.Web); err != nil {
		slog.Error("failed to encode firebase config", "error", err)
	}
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}

	gateway := auth.NewGateway(s.provider, auth.WithRevokeOnSignOut(s.cfg.RevokeOnSignOut))
	controller := view.NewController(gateway, s.messages, s.feed,
		view.WithMaxMessageLength(s.cfg.MaxMessageLength),
		view.WithLogger(slog.Default().With("request_id", requestID(r.Context()))),
	)

	c, err := newClient(conn, controller)
	if err != nil {
		slog.Error("failed to start client", "error", err)
		_ = conn.Close()
		return
	}
	c.serve()
}

type contextKey string

const requestIDKey contextKey = "request_id"

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := withRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"request_id", requestID(r.Context()),
		)
	})
}
