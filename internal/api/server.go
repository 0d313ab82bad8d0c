// Package api exposes the provisioner, the backup orchestrator, the site
// service and the scheduler over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/polarfoxDev/wharf/internal/auth"
	"github.com/polarfoxDev/wharf/internal/backup"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/model"
	"github.com/polarfoxDev/wharf/internal/provision"
	"github.com/polarfoxDev/wharf/internal/wpsite"
)

type Instances interface {
	Create(ctx context.Context, req provision.Request) (*model.Instance, error)
	Adopt(ctx context.Context, req provision.AdoptRequest) (*model.Instance, error)
	Delete(ctx context.Context, id int64) error
	Get(ctx context.Context, id int64) (*model.Instance, error)
	List(ctx context.Context) ([]*model.Instance, error)
}

type Site interface {
	Sync(ctx context.Context, id int64) (*wpsite.Inventory, error)
	Maintenance(ctx context.Context, id int64, on bool) error
	SearchReplace(ctx context.Context, id int64, from, to string, dryRun bool) (int, error)
	Plugin(ctx context.Context, id int64, action, name string) ([]*model.Plugin, error)
}

type Backups interface {
	CreatePodBackup(ctx context.Context, instanceID int64, t model.BackupType, note string) (*model.Backup, error)
	CreateLimitedBackup(ctx context.Context, instanceID int64, note string) (*backup.LimitedResult, error)
	CreateArchiveBackup(ctx context.Context, instanceID int64, note string) (*backup.ArchiveResult, error)
	RestoreArchiveBackup(ctx context.Context, backupID int64) (string, error)
	RestorePodBackup(ctx context.Context, backupID int64) (string, error)
	DeleteBackup(ctx context.Context, backupID int64) error
	ListByType(ctx context.Context, t model.BackupType) ([]*model.Backup, error)
	ListDownloadable(ctx context.Context) ([]*model.Backup, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*model.Backup, error)
	Get(ctx context.Context, backupID int64) (*model.Backup, error)
	Percent(ctx context.Context, instanceID int64) (int, error)
}

type Schedules interface {
	Schedule(ctx context.Context, instanceID int64, t model.BackupType) error
	Unschedule(ctx context.Context, instanceID int64, t model.BackupType) error
	Armed() []string
}

type Logs interface {
	Query(opts logging.QueryOptions) ([]logging.LogEntry, error)
}

// Server holds the handlers' dependencies
type Server struct {
	Instances Instances
	Site      Site
	Backups   Backups
	Schedules Schedules
	Logs      Logs
	Auth      *auth.Auth
	Log       *logging.Logger

	CORSOrigins []string

	// Timeout bounds a request; provisioning and restores take minutes
	Timeout time.Duration
}

// Handler builds the chi router
func (s *Server) Handler() http.Handler {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	// Localhost origins for development, plus the configured ones
	corsOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://localhost:8080",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
		"http://127.0.0.1:8080",
	}
	corsOrigins = append(corsOrigins, s.CORSOrigins...)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", auth.HeaderName},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handleHealth())

		r.Group(func(r chi.Router) {
			r.Use(s.Auth.Middleware)

			r.Route("/instances", func(r chi.Router) {
				r.Get("/", s.handleListInstances)
				r.Post("/", s.handleCreateInstance)
				r.Post("/adopt", s.handleAdoptInstance)

				r.Route("/{instanceID}", func(r chi.Router) {
					r.Get("/", s.handleGetInstance)
					r.Delete("/", s.handleDeleteInstance)

					r.Post("/sync", s.handleSync)
					r.Put("/maintenance", s.handleMaintenance)
					r.Post("/search-replace", s.handleSearchReplace)
					r.Post("/plugins/{name}/{action}", s.handlePlugin)

					r.Get("/backups", s.handleListInstanceBackups)
					r.Post("/backups", s.handleCreateBackup)
					r.Get("/backups/percent", s.handlePercent)

					r.Post("/schedules", s.handleSchedule)
					r.Delete("/schedules/{type}", s.handleUnschedule)
				})
			})

			r.Route("/backups", func(r chi.Router) {
				r.Get("/", s.handleListBackups)
				r.Get("/{backupID}", s.handleGetBackup)
				r.Delete("/{backupID}", s.handleDeleteBackup)
				r.Post("/{backupID}/restore", s.handleRestore)
			})

			r.Get("/schedules", s.handleListSchedules)
			r.Get("/logs", s.handleQueryLogs)
		})
	})

	return r
}

// NewHTTPServer wraps a handler with the server-side timeouts
func NewHTTPServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Health check endpoint
func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"time":   time.Now().UTC(),
		})
	}
}

// statusFor maps the error taxonomy to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalidRequest), errors.Is(err, model.ErrInvalidBackup):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrCorruptArchive):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrResourceExhausted):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError && s.Log != nil {
		s.Log.Error("%s %s: %v", r.Method, r.URL.Path, err)
	}
	respondJSON(w, status, map[string]string{"error": err.Error()})
}

// Helper to respond with JSON
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("Failed to encode JSON: %v", err)
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: decode body: %v", model.ErrInvalidRequest, err)
	}
	return nil
}

func idParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s %q", model.ErrInvalidRequest, name, chi.URLParam(r, name))
	}
	return id, nil
}
