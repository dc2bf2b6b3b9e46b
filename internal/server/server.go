// Package server exposes the read-only ops surface: job status, cursors,
// recent notifications, and the delivery backlog. Nothing here mutates
// pipeline state.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/AudiusProject/apps-sub003/internal/cursor"
	"github.com/AudiusProject/apps-sub003/internal/store"
)

// Server is the ops HTTP server.
type Server struct {
	store      *store.Store
	cursors    cursor.Store
	httpServer *http.Server
	router     chi.Router
}

// New creates a Server bound to addr.
func New(s *store.Store, cursors cursor.Store, bindAddr string) *Server {
	srv := &Server{store: s, cursors: cursors}
	srv.router = srv.buildRouter()
	srv.httpServer = &http.Server{
		Addr:    bindAddr,
		Handler: srv.router,
	}
	return srv
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(structuredLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/cursors", s.handleCursors)
		r.Get("/notifications/recent", s.handleRecentNotifications)
		r.Get("/deliveries/pending", s.handlePendingDeliveries)
	})

	r.Get("/healthz", s.handleHealthz)

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	slog.Info("HTTP server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("HTTP server shutting down")
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.JobRuns()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "status_failed")
		return
	}
	if runs == nil {
		runs = []store.JobRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"families": runs})
}

func (s *Server) handleCursors(w http.ResponseWriter, r *http.Request) {
	out := map[string]string{}
	for _, key := range []string{
		cursor.KeyLastBlock,
		cursor.KeyLastSlot,
		cursor.KeyLastMessageTS,
		cursor.KeyLastReactionTS,
		cursor.KeyLastBlastID,
		cursor.KeyLastBlastUserID,
		cursor.KeyLastEmailDigest,
	} {
		v, err := s.cursors.GetString(r.Context(), key)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error(), "cursors_failed")
			return
		}
		out[key] = v
	}
	writeJSON(w, http.StatusOK, map[string]any{"cursors": out})
}

func (s *Server) handleRecentNotifications(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be 1-1000", "bad_limit")
			return
		}
		limit = n
	}
	recent, err := s.store.RecentNotifications(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "recent_failed")
		return
	}
	if recent == nil {
		recent = []store.NotificationRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": recent})
}

func (s *Server) handlePendingDeliveries(w http.ResponseWriter, r *http.Request) {
	pending, err := s.store.PendingDeliveries()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error(), "pending_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// JSON response helpers

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, code string) {
	writeJSON(w, status, map[string]string{"error": msg, "code": code})
}

// Middleware

func structuredLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
