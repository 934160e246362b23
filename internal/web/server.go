// Package web serves the JSON schedule API.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/noahxzhu/timetable-notify/internal/lookup"
	"github.com/noahxzhu/timetable-notify/internal/sheet"
	"github.com/noahxzhu/timetable-notify/internal/worker"
)

const (
	detailNoLinks      = "Не удалось найти файлы расписания"
	detailUnreadable   = "Файл расписания пуст или не распознан"
	detailNoDay        = "Для выбранного дня расписание не найдено"
	detailFailed       = "Не удалось получить расписание"
	detailGroupMissing = "group is required"
	detailBadOffset    = "offset must be an integer"
)

type Lookup interface {
	Current(ctx context.Context, group string) (lookup.Result, error)
	ForOffset(ctx context.Context, group string, offset int) (lookup.Result, error)
}

// Watcher is the part of the notification loop the API can poke.
type Watcher interface {
	Refresh()
	LastResult() (worker.Result, bool)
}

type Server struct {
	lookup  Lookup
	watcher Watcher
	router  chi.Router
	logger  *slog.Logger
}

// NewServer builds the router. watcher may be nil when notifications are
// disabled; the refresh and status endpoints then answer 503.
func NewServer(l Lookup, w Watcher) *Server {
	s := &Server{
		lookup:  l,
		watcher: w,
		logger:  slog.Default(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schedule", s.handleSchedule)
		r.Get("/schedule/by-offset", s.handleScheduleByOffset)
		r.Post("/refresh", s.handleRefresh)
		r.Get("/status", s.handleStatus)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestID tags every response with a fresh X-Request-Id unless the caller
// sent one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	if group == "" {
		s.writeError(w, http.StatusBadRequest, detailGroupMissing)
		return
	}

	result, err := s.lookup.Current(r.Context(), group)
	if err != nil {
		s.lookupFailed(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleScheduleByOffset(w http.ResponseWriter, r *http.Request) {
	group := strings.TrimSpace(r.URL.Query().Get("group"))
	if group == "" {
		s.writeError(w, http.StatusBadRequest, detailGroupMissing)
		return
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, detailBadOffset)
		return
	}

	result, err := s.lookup.ForOffset(r.Context(), group, offset)
	if err != nil {
		s.lookupFailed(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "watcher disabled")
		return
	}
	s.watcher.Refresh()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "scheduled"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.watcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "watcher disabled")
		return
	}
	last, ok := s.watcher.LastResult()
	if !ok {
		s.writeJSON(w, http.StatusOK, map[string]any{"last_cycle": nil})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"last_cycle": last})
}

func (s *Server) lookupFailed(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("Schedule lookup failed",
		"request_id", w.Header().Get("X-Request-Id"), "path", r.URL.Path, "error", err)

	switch {
	case errors.Is(err, lookup.ErrNoScheduleForDay):
		s.writeError(w, http.StatusNotFound, detailNoDay)
	case errors.Is(err, lookup.ErrNoLinks):
		s.writeError(w, http.StatusInternalServerError, detailNoLinks)
	case errors.Is(err, sheet.ErrUnreadable):
		s.writeError(w, http.StatusInternalServerError, detailUnreadable)
	default:
		s.writeError(w, http.StatusInternalServerError, detailFailed)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response",
			"request_id", w.Header().Get("X-Request-Id"), "status", status, "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}
