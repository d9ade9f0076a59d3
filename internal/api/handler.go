package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/subwatch/internal/config"
	"github.com/gyaneshwarpardhi/subwatch/internal/dispatch"
	"github.com/gyaneshwarpardhi/subwatch/internal/engine"
	"github.com/gyaneshwarpardhi/subwatch/internal/event"
	"github.com/gyaneshwarpardhi/subwatch/internal/metrics"
	"github.com/gyaneshwarpardhi/subwatch/internal/record"
)

const maxBatchSize = 100

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	store  record.Store
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(eng *engine.Engine, loader *config.Loader, store record.Store) http.Handler {
	h := &Handler{eng: eng, loader: loader, store: store, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/subscriptions", h.listSubscriptions)
	h.mux.HandleFunc("POST /v1/subscriptions", h.createSubscription)
	h.mux.HandleFunc("DELETE /v1/subscriptions/{id}", h.deleteSubscription)
	h.mux.HandleFunc("GET /v1/notifications", h.listNotifications)
	h.mux.HandleFunc("DELETE /v1/notifications/{id}", h.deleteNotification)
	h.mux.HandleFunc("GET /v1/config", h.showConfig)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /v1/events — synchronous single-event dispatch.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if ev.Operation == "" {
		writeError(w, http.StatusBadRequest, "operation is required")
		return
	}
	if ev.Record == nil && ev.RecordRef == nil {
		writeError(w, http.StatusBadRequest, "one of record or record_ref is required")
		return
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	ev.ReceivedAt = time.Now()

	res, err := h.eng.ProcessSync(r.Context(), &ev)
	if err != nil {
		if res == nil {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		// Partial dispatch: some notifications may already exist.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /v1/events/batch — async batch ingestion (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []*event.Event
	if err := json.NewDecoder(r.Body).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	now := time.Now()
	jobID := uuid.New().String()
	queued := 0
	for _, ev := range events {
		if ev.Operation == "" || (ev.Record == nil && ev.RecordRef == nil) {
			continue
		}
		if ev.ID == "" {
			ev.ID = uuid.New().String()
		}
		ev.ReceivedAt = now
		if h.eng.ProcessAsync(ev) {
			queued++
		}
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   jobID,
		"total":    len(events),
		"queued":   queued,
		"rejected": len(events) - queued,
	})
}

// GET /v1/subscriptions?owner=<uuid> — list subscriptions, optionally
// filtered by owner.
func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	filter := record.Filter{}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, "owner must be a UUID")
			return
		}
		filter = filter.Eq(dispatch.FieldOwner, id)
	}
	subs, err := h.store.Query(r.Context(), dispatch.EntitySubscription, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
}

type createSubscriptionRequest struct {
	OwnerID uuid.UUID        `json:"owner_id"`
	Target  record.Reference `json:"target"`
}

// POST /v1/subscriptions — register interest of an owner in a target.
func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if req.OwnerID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	if req.Target.IsZero() {
		writeError(w, http.StatusBadRequest, "target is required")
		return
	}

	cfg := h.eng.DispatchConfig()
	id, err := h.store.Create(r.Context(), dispatch.EntitySubscription, map[string]any{
		cfg.SubscriptionLookup: req.Target,
		dispatch.FieldState:    dispatch.StateActive,
		dispatch.FieldOwner:    record.Reference{Entity: dispatch.EntityUser, ID: req.OwnerID},
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": id})
}

// DELETE /v1/subscriptions/{id}
func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	h.deleteRecord(w, r, dispatch.EntitySubscription)
}

// GET /v1/notifications?owner=<uuid>
func (h *Handler) listNotifications(w http.ResponseWriter, r *http.Request) {
	filter := record.Filter{}
	if owner := r.URL.Query().Get("owner"); owner != "" {
		id, err := uuid.Parse(owner)
		if err != nil {
			writeError(w, http.StatusBadRequest, "owner must be a UUID")
			return
		}
		filter = filter.Eq(dispatch.FieldOwner, id)
	}
	ns, err := h.store.Query(r.Context(), dispatch.EntityNotification, filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": ns})
}

// DELETE /v1/notifications/{id} — dismiss a notification.
func (h *Handler) deleteNotification(w http.ResponseWriter, r *http.Request) {
	h.deleteRecord(w, r, dispatch.EntityNotification)
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request, entity string) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a UUID")
		return
	}
	if err := h.store.Delete(r.Context(), entity, id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

// GET /v1/config — show the active dispatch config.
func (h *Handler) showConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.loader.Config()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  cfg.Version,
		"dispatch": h.eng.DispatchConfig(),
	})
}

// POST /v1/config/reload — hot-reload the config from disk.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := config.Validate(cfg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.eng.SwapConfig(&cfg.Dispatch)
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true})
}

// GET /healthz — always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz — 503 if event queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"queue_utilization": util,
	})
}
