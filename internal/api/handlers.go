package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/polarfoxDev/wharf/internal/helpers"
	"github.com/polarfoxDev/wharf/internal/logging"
	"github.com/polarfoxDev/wharf/internal/model"
	"github.com/polarfoxDev/wharf/internal/provision"
)

// GET /api/instances
func (s *Server) handleListInstances(w http.ResponseWriter, r *http.Request) {
	list, err := s.Instances.List(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// POST /api/instances
func (s *Server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var req provision.Request
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	inst, err := s.Instances.Create(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, inst)
}

// POST /api/instances/adopt
func (s *Server) handleAdoptInstance(w http.ResponseWriter, r *http.Request) {
	var req provision.AdoptRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	inst, err := s.Instances.Adopt(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, inst)
}

// GET /api/instances/{instanceID}
func (s *Server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	inst, err := s.Instances.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inst)
}

// DELETE /api/instances/{instanceID}
func (s *Server) handleDeleteInstance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.Instances.Delete(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/instances/{instanceID}/sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	inv, err := s.Site.Sync(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, inv)
}

// PUT /api/instances/{instanceID}/maintenance
func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.Site.Maintenance(r.Context(), id, body.Enabled); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

// POST /api/instances/{instanceID}/search-replace
func (s *Server) handleSearchReplace(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body struct {
		From   string `json:"from"`
		To     string `json:"to"`
		DryRun bool   `json:"dryRun"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	n, err := s.Site.SearchReplace(r.Context(), id, body.From, body.To, body.DryRun)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"replacements": n, "dryRun": body.DryRun})
}

// POST /api/instances/{instanceID}/plugins/{name}/{action}
func (s *Server) handlePlugin(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	plugins, err := s.Site.Plugin(r.Context(), id, chi.URLParam(r, "action"), chi.URLParam(r, "name"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, plugins)
}

type createBackupRequest struct {
	Type        model.BackupType  `json:"type"`
	Destination model.Destination `json:"destination"`
	Note        string            `json:"note"`
}

// POST /api/instances/{instanceID}/backups
//
// destination "archive" uploads to the archive store; type "manual-limited"
// goes through the per-instance quota and answers 409 when it is full.
func (s *Server) handleCreateBackup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var req createBackupRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}
	if req.Type == "" {
		req.Type = model.BackupManual
	}

	switch {
	case req.Destination == model.DestinationArchive:
		if req.Type != model.BackupManual {
			s.respondError(w, r, fmt.Errorf("%w: archive backups are always %q", model.ErrInvalidRequest, model.BackupManual))
			return
		}
		res, err := s.Backups.CreateArchiveBackup(r.Context(), id, req.Note)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, res)

	case req.Destination != "" && req.Destination != model.DestinationPod:
		s.respondError(w, r, fmt.Errorf("%w: unknown destination %q", model.ErrInvalidRequest, req.Destination))

	case req.Type == model.BackupManualLimited:
		res, err := s.Backups.CreateLimitedBackup(r.Context(), id, req.Note)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		status := http.StatusCreated
		if !res.Accepted {
			status = http.StatusConflict
		}
		respondJSON(w, status, res)

	default:
		b, err := s.Backups.CreatePodBackup(r.Context(), id, req.Type, req.Note)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusCreated, b)
	}
}

// GET /api/instances/{instanceID}/backups
func (s *Server) handleListInstanceBackups(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	list, err := s.Backups.ListByInstance(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// GET /api/instances/{instanceID}/backups/percent
func (s *Server) handlePercent(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	pct, err := s.Backups.Percent(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"percent": pct})
}

// GET /api/backups?type=hourly or ?downloadable=true
func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if helpers.ParseBool(q.Get("downloadable")) {
		list, err := s.Backups.ListDownloadable(r.Context())
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		respondJSON(w, http.StatusOK, list)
		return
	}

	t := model.BackupType(q.Get("type"))
	if t == "" {
		s.respondError(w, r, fmt.Errorf("%w: type or downloadable is required", model.ErrInvalidRequest))
		return
	}
	list, err := s.Backups.ListByType(r.Context(), t)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, list)
}

// GET /api/backups/{backupID}
func (s *Server) handleGetBackup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "backupID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := s.Backups.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, b)
}

// DELETE /api/backups/{backupID}
func (s *Server) handleDeleteBackup(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "backupID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.Backups.DeleteBackup(r.Context(), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/backups/{backupID}/restore
func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "backupID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	b, err := s.Backups.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var msg string
	if b.Destination == model.DestinationArchive {
		msg, err = s.Backups.RestoreArchiveBackup(r.Context(), id)
	} else {
		msg, err = s.Backups.RestorePodBackup(r.Context(), id)
	}
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": msg})
}

// POST /api/instances/{instanceID}/schedules
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var body struct {
		Type model.BackupType `json:"type"`
	}
	if err := decodeJSON(r, &body); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.Schedules.Schedule(r.Context(), id, body.Type); err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, model.Recurrence{InstanceID: id, Type: body.Type, CreatedAt: time.Now().UTC()})
}

// DELETE /api/instances/{instanceID}/schedules/{type}
func (s *Server) handleUnschedule(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "instanceID")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.Schedules.Unschedule(r.Context(), id, model.BackupType(chi.URLParam(r, "type"))); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GET /api/schedules
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.Schedules.Armed())
}

// GET /api/logs?flow=&instance=&backup=&level=&since=&limit=
func (s *Server) handleQueryLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := logging.QueryOptions{
		Flow:  q.Get("flow"),
		Level: logging.LogLevel(strings.ToUpper(q.Get("level"))),
		Limit: 1000,
	}

	var err error
	if v := q.Get("instance"); v != "" {
		if opts.InstanceID, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.respondError(w, r, fmt.Errorf("%w: invalid instance %q", model.ErrInvalidRequest, v))
			return
		}
	}
	if v := q.Get("backup"); v != "" {
		if opts.BackupID, err = strconv.ParseInt(v, 10, 64); err != nil {
			s.respondError(w, r, fmt.Errorf("%w: invalid backup %q", model.ErrInvalidRequest, v))
			return
		}
	}
	if v := q.Get("since"); v != "" {
		d, err := helpers.ParseDuration(v)
		if err != nil {
			s.respondError(w, r, fmt.Errorf("%w: invalid since %q", model.ErrInvalidRequest, v))
			return
		}
		opts.Since = time.Now().Add(-d)
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			opts.Limit = n
		}
	}

	entries, err := s.Logs.Query(opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, entries)
}
