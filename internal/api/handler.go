package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/openaudit/kestrel/internal/alerts"
	"github.com/openaudit/kestrel/internal/domain"
	"github.com/openaudit/kestrel/internal/graph"
	"github.com/openaudit/kestrel/internal/match"
	"github.com/openaudit/kestrel/internal/rules"
	"github.com/openaudit/kestrel/internal/store"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store     domain.Store
	cache     domain.Cache
	bus       domain.EventBus
	detection domain.DetectionConfig
	version   string
	logger    *slog.Logger
}

// NewHandler creates a new API handler. Cache and bus may be nil.
func NewHandler(st domain.Store, cache domain.Cache, bus domain.EventBus, detection domain.DetectionConfig, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:     st,
		cache:     cache,
		bus:       bus,
		detection: detection,
		version:   version,
		logger:    logger,
	}
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK

	if err := h.store.Ping(r.Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, code, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// ListAlerts handles GET /api/v1/alerts.
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		AlertType: q.Get("type"),
		Status:    domain.AlertStatus(q.Get("status")),
		Severity:  domain.AlertSeverity(q.Get("severity")),
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		filter.Limit = limit
	}

	found, err := h.store.ListAlerts(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list alerts",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": found,
		"count":  len(found),
	})
}

// UpdateAlertStatus handles PATCH /api/v1/alerts/{id}.
func (h *Handler) UpdateAlertStatus(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "id")

	var req struct {
		Status domain.AlertStatus `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	err := h.store.UpdateAlertStatus(r.Context(), alertID, req.Status)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "alert not found",
		})
	case errors.Is(err, store.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid alert status",
		})
	case err != nil:
		h.logger.Error("failed to update alert", "alert_id", alertID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to update alert",
		})
	default:
		writeJSON(w, http.StatusOK, map[string]string{
			"id":     alertID,
			"status": string(req.Status),
		})
	}
}

// GetRelationships handles GET /api/v1/relationships/{kind}/{id}.
func (h *Handler) GetRelationships(w http.ResponseWriter, r *http.Request) {
	kind := domain.EntityKind(chi.URLParam(r, "kind"))
	switch kind {
	case domain.KindVendor, domain.KindEmployee, domain.KindContributor, domain.KindAgency, domain.KindDebarred:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "unknown entity kind",
		})
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "entity id must be an integer",
		})
		return
	}

	edges, err := h.store.QueryRelated(r.Context(), kind, id)
	if err != nil {
		h.logger.Error("failed to query relationships", "kind", kind, "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to query relationships",
		})
		return
	}

	resp := map[string]any{
		"kind":  kind,
		"id":    id,
		"edges": edges,
		"count": len(edges),
	}
	if entity, err := h.store.GetEntity(r.Context(), kind, id); err == nil {
		resp["entity"] = entity
	}
	writeJSON(w, http.StatusOK, resp)
}

// GraphStats handles GET /api/v1/graph/stats.
func (h *Handler) GraphStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	aggregates, err := h.store.ListPairAggregates(ctx)
	if err != nil {
		h.logger.Error("failed to load aggregates", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build graph",
		})
		return
	}
	edges, err := h.store.QueryEdgesAbove(ctx, 0.7)
	if err != nil {
		h.logger.Error("failed to load edges", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build graph",
		})
		return
	}

	g := graph.Build(aggregates, edges)
	writeJSON(w, http.StatusOK, g.Stats())
}

// RunRequest is the optional body for POST /api/v1/runs.
type RunRequest struct {
	Rule string `json:"rule,omitempty"`
}

// RunDetection handles POST /api/v1/runs. It runs the detection rules
// synchronously and returns the run summary.
func (h *Handler) RunDetection(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	ruleSet, err := rules.Builtin(h.detection)
	if err != nil {
		h.logger.Error("failed to build rule set", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to build rule set",
		})
		return
	}

	alertEngine := alerts.NewEngine(h.store, h.bus, h.logger)
	matcher := match.NewEngine(h.detection.MatchBatchSize, h.detection.MatchWorkers)
	deps := rules.NewDeps(h.store, alertEngine, matcher, h.detection.Thresholds, h.cache, h.logger)
	o := rules.NewOrchestrator(deps, ruleSet, h.detection.MaxWorkers, h.bus, h.logger)

	if req.Rule != "" {
		summary, err := o.RunOne(r.Context(), req.Rule)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		writeJSON(w, http.StatusOK, summary)
		return
	}

	writeJSON(w, http.StatusOK, o.RunAll(r.Context()))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
