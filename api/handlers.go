package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"zoopla_fetcher/identity"
	"zoopla_fetcher/logging"
	"zoopla_fetcher/models"
	"zoopla_fetcher/scheduler"
)

// RunStore is the read side of the run database.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]models.QueryRun, error)
	GetRun(ctx context.Context, id uuid.UUID) (*models.QueryRun, error)
	GetRecords(ctx context.Context, runID uuid.UUID) ([]models.StoredRecord, error)
	GetHistory(ctx context.Context, runID uuid.UUID) ([]models.PriceHistoryEntry, error)
	GetLogs(ctx context.Context, runID uuid.UUID) ([]models.RunLog, error)
	PreviousFingerprints(ctx context.Context, run *models.QueryRun) (map[string]string, error)
}

// ListingStore looks up the latest mirrored record of a listing.
type ListingStore interface {
	GetListing(ctx context.Context, listingID string) (models.Record, error)
}

type Controller interface {
	Pause()
	Resume()
	IsPaused() bool
	QueryNames() []string
}

type Triggerer interface {
	Trigger(query string) error
}

// Handlers contains HTTP handlers and their dependencies
type Handlers struct {
	runs     RunStore
	listings ListingStore
	control  Controller
	triggers Triggerer
}

// NewHandlers creates a new Handlers instance. listings may be nil when no
// Postgres mirror is configured.
func NewHandlers(runs RunStore, listings ListingStore, control Controller, triggers Triggerer) *Handlers {
	return &Handlers{runs: runs, listings: listings, control: control, triggers: triggers}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"paused":  h.control.IsPaused(),
		"queries": h.control.QueryNames(),
	})
}

// Pause handles POST /api/pause
func (h *Handlers) Pause(w http.ResponseWriter, r *http.Request) {
	h.control.Pause()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": true})
}

// Resume handles POST /api/resume
func (h *Handlers) Resume(w http.ResponseWriter, r *http.Request) {
	h.control.Resume()
	writeJSON(w, http.StatusOK, map[string]bool{"paused": false})
}

func (h *Handlers) ListQueries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"queries": h.control.QueryNames(),
	})
}

// TriggerQuery handles POST /api/queries/{name}/run
func (h *Handlers) TriggerQuery(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if !h.knownQuery(name) {
		http.Error(w, "unknown query", http.StatusNotFound)
		return
	}
	if h.control.IsPaused() {
		http.Error(w, "fetcher is paused", http.StatusConflict)
		return
	}

	if err := h.triggers.Trigger(name); err != nil {
		if errors.Is(err, scheduler.ErrQueueFull) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "queued",
		"query":  name,
	})
}

// ListRuns handles GET /api/runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if val, err := strconv.Atoi(v); err == nil && val > 0 && val <= 500 {
			limit = val
		}
	}

	runs, err := h.runs.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.QueryRun{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun handles GET /api/runs/{id}
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) GetRecords(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	records, err := h.runs.GetRecords(r.Context(), run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []models.StoredRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	entries, err := h.runs.GetHistory(r.Context(), run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []models.PriceHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"history": entries,
		"count":   len(entries),
	})
}

func (h *Handlers) GetLogs(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	logs, err := h.runs.GetLogs(r.Context(), run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if logs == nil {
		logs = []models.RunLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"logs":  logs,
		"count": len(logs),
	})
}

// GetChanges handles GET /api/runs/{id}/changes. History runs store no
// records, so their diff is always empty.
func (h *Handlers) GetChanges(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	records, err := h.runs.GetRecords(r.Context(), run.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	prev, err := h.runs.PreviousFingerprints(r.Context(), run)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, identity.Diff(records, prev))
}

// GetListing handles GET /api/listings/{id}
func (h *Handlers) GetListing(w http.ResponseWriter, r *http.Request) {
	if h.listings == nil {
		http.Error(w, "listing mirror not configured", http.StatusNotImplemented)
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		http.Error(w, "invalid listing ID", http.StatusBadRequest)
		return
	}

	rec, err := h.listings.GetListing(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "listing not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) loadRun(w http.ResponseWriter, r *http.Request) (*models.QueryRun, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return nil, false
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, sql.ErrNoRows) {
		http.Error(w, "run not found", http.StatusNotFound)
		return nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return nil, false
	}
	return run, true
}

func (h *Handlers) knownQuery(name string) bool {
	for _, q := range h.control.QueryNames() {
		if q == name {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func logInfo(format string, args ...any) {
	logging.Infof("api", format, args...)
}
