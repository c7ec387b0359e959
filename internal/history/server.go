// Package history serves the recommendation history over a read-only JSON
// API: lifecycle state, full snapshot sequences and execution matches.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/eddiefleurent/wheel_watcher/internal/models"
	"github.com/eddiefleurent/wheel_watcher/internal/storage"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Config holds the server's listen and auth settings.
type Config struct {
	Port      int
	AuthToken string
}

// Server is the history API server.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	store     storage.Store
	logger    *logrus.Logger
	port      int
	authToken string
}

// NewServer builds the server and its routes.
func NewServer(cfg Config, store storage.Store, logger *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		store:     store,
		logger:    logger,
		port:      cfg.Port,
		authToken: cfg.AuthToken,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	if s.authToken != "" {
		s.router.Use(s.authMiddleware)
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/recommendations", s.handleListRecommendations)
	s.router.Get("/api/recommendations/{key}", s.handleGetRecommendation)
	s.router.Get("/api/recommendations/{key}/snapshots", s.handleSnapshots)
	s.router.Get("/api/recommendations/{key}/matches", s.handleMatches)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		token := r.Header.Get("X-Auth-Token")
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token != s.authToken {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start blocks serving HTTP until the listener closes.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	s.logger.Infof("starting history API on port %d", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleListRecommendations(w http.ResponseWriter, r *http.Request) {
	status := models.StatusActive
	if q := r.URL.Query().Get("status"); q != "" {
		status = models.RecommendationStatus(q)
		if !status.Valid() {
			http.Error(w, fmt.Sprintf("unknown status %q", q), http.StatusBadRequest)
			return
		}
	}

	recs, err := s.store.ListRecommendations(r.Context(), status)
	if err != nil {
		s.logger.WithError(err).Error("listing recommendations")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []models.Recommendation{}
	}
	s.writeJSON(w, recs)
}

func (s *Server) handleGetRecommendation(w http.ResponseWriter, r *http.Request) {
	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}

	rec, err := s.store.GetRecommendation(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("loading recommendation")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, rec)
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}

	snaps, err := s.store.Snapshots(r.Context(), key)
	if err != nil {
		s.logger.WithError(err).Error("loading snapshots")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if len(snaps) == 0 {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, snaps)
}

func (s *Server) handleMatches(w http.ResponseWriter, r *http.Request) {
	key, ok := s.pathKey(w, r)
	if !ok {
		return
	}

	matches, err := s.store.Matches(r.Context(), key)
	if err != nil {
		s.logger.WithError(err).Error("loading matches")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if matches == nil {
		matches = []models.ExecutionMatch{}
	}
	s.writeJSON(w, matches)
}

// pathKey decodes the {key} path segment. A malformed key is a client error.
func (s *Server) pathKey(w http.ResponseWriter, r *http.Request) (models.RecommendationKey, bool) {
	raw := chi.URLParam(r, "key")
	key, err := models.DecodeKey(raw)
	if err != nil {
		http.Error(w, fmt.Sprintf("bad key %q: %v", raw, err), http.StatusBadRequest)
		return models.RecommendationKey{}, false
	}
	return key, true
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("encoding response")
	}
}
