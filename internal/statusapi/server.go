// Package statusapi exposes read-only group status and a few operator
// actions over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/keshon/heartflow/internal/mind"
)

// Engine is the part of mind.Engine the API uses.
type Engine interface {
	Status(groupID string) mind.GroupStatus
	Statistics() mind.Statistics
	Registry() *mind.Registry
}

type Server struct {
	engine  Engine
	log     zerolog.Logger
	origins []string
	router  chi.Router
}

func New(engine Engine, origins []string, log zerolog.Logger) *Server {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := &Server{engine: engine, log: log, origins: origins}
	s.setupRouter()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", s.handleStats)
	r.Route("/groups", func(r chi.Router) {
		r.Get("/", s.handleGroups)
		r.Get("/{groupID}/status", s.handleStatus)
		r.Post("/{groupID}/trigger", s.handleTrigger)
		r.Put("/{groupID}/threshold", s.handleThreshold)
	})

	s.router = r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Statistics())
}

func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.engine.Registry().Groups()
	if groups == nil {
		groups = []string{}
	}
	respondJSON(w, http.StatusOK, map[string][]string{"groups": groups})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.engine.Status(chi.URLParam(r, "groupID")))
}

func (s *Server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	sent, err := s.engine.Registry().TriggerNow(r.Context(), groupID)
	if err != nil {
		respondError(w, errorStatus(err), err)
		return
	}
	s.log.Info().Str("action", "trigger").Str("group", groupID).Bool("sent", sent).Msg("heartbeat triggered over http")
	respondJSON(w, http.StatusOK, map[string]bool{"sent": sent})
}

type thresholdRequest struct {
	Threshold *float64 `json:"threshold"`
}

func (s *Server) handleThreshold(w http.ResponseWriter, r *http.Request) {
	groupID := chi.URLParam(r, "groupID")
	var req thresholdRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, errors.New("invalid json body"))
		return
	}
	if req.Threshold == nil {
		respondError(w, http.StatusBadRequest, errors.New("threshold is required"))
		return
	}
	if err := s.engine.Registry().SetThreshold(groupID, *req.Threshold); err != nil {
		respondError(w, errorStatus(err), err)
		return
	}
	s.log.Info().Str("action", "set_threshold").Str("group", groupID).Float64("threshold", *req.Threshold).Msg("threshold changed over http")
	respondJSON(w, http.StatusOK, s.engine.Status(groupID))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, mind.ErrGroupDenied):
		return http.StatusForbidden
	case errors.Is(err, mind.ErrThresholdRange):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("action", "listen").Str("addr", addr).Msg("status api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
