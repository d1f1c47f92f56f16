package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/redress/internal/cache"
	"github.com/opensource-finance/redress/internal/compensation"
	"github.com/opensource-finance/redress/internal/domain"
	"github.com/opensource-finance/redress/internal/legacy"
	"github.com/opensource-finance/redress/internal/repository"
	"github.com/opensource-finance/redress/internal/scenario"
)

const (
	// MaxBodyBytes caps request bodies.
	MaxBodyBytes = 1 << 20

	// MaxBatchSize caps the number of requests in one batch.
	MaxBatchSize = 1000

	// FormatDisplay selects the string-valued response shape.
	FormatDisplay = "display"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	service *compensation.Service
	engine  *legacy.Engine
	repo    domain.Repository
	results domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(service *compensation.Service, engine *legacy.Engine, repo domain.Repository, results domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		service: service,
		engine:  engine,
		repo:    repo,
		results: results,
		bus:     bus,
		version: version,
	}
}

// BatchRequest is the request body for POST /compensation/batch.
type BatchRequest struct {
	Requests []*domain.CalculationRequest `json:"requests"`
}

// BatchResponse is the response for POST /compensation/batch.
type BatchResponse struct {
	Items []compensation.BatchItem `json:"items"`
	Count int                      `json:"count"`
}

// Calculate handles POST /compensation/calculate.
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req domain.CalculationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	result, err := h.service.Calculate(ctx, tenantID, &req)
	if err != nil {
		status := calculateStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("calculation failed",
				"tenant_id", tenantID,
				"trace_id", GetTraceID(ctx),
				"error", err,
			)
			writeError(w, status, "calculation failed")
			return
		}
		writeError(w, status, err.Error())
		return
	}

	if r.URL.Query().Get("format") == FormatDisplay {
		writeJSON(w, http.StatusOK, result.ToResponse())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CalculateBatch handles POST /compensation/batch.
func (h *Handler) CalculateBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req BatchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if len(req.Requests) == 0 {
		writeError(w, http.StatusBadRequest, "requests must not be empty")
		return
	}
	if len(req.Requests) > MaxBatchSize {
		writeError(w, http.StatusBadRequest, "too many requests in batch")
		return
	}

	items, err := h.service.CalculateBatch(ctx, tenantID, req.Requests)
	if err != nil {
		slog.Error("batch calculation failed", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "batch calculation failed")
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{Items: items, Count: len(items)})
}

// GetCalculation retrieves a stored calculation by ID.
func (h *Handler) GetCalculation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	id := chi.URLParam(r, "id")

	if id == "" {
		writeError(w, http.StatusBadRequest, "calculation id is required")
		return
	}

	rec, err := h.service.Get(ctx, tenantID, id)
	switch {
	case errors.Is(err, compensation.ErrNoRepository):
		writeError(w, http.StatusServiceUnavailable, "repository not available")
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "calculation not found")
	case err != nil:
		slog.Error("failed to get calculation", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get calculation")
	default:
		writeJSON(w, http.StatusOK, rec)
	}
}

// ListCalculations returns the tenant's most recent calculations.
func (h *Handler) ListCalculations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.service.List(ctx, tenantID, limit)
	switch {
	case errors.Is(err, compensation.ErrNoRepository):
		writeError(w, http.StatusServiceUnavailable, "repository not available")
	case err != nil:
		slog.Error("failed to list calculations", "tenant_id", tenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list calculations")
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"calculations": records,
			"count":        len(records),
		})
	}
}

// ListRules returns the legacy rule table.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "legacy engine not available")
		return
	}

	rules := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// GetRule returns one legacy rule by scenario id.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusServiceUnavailable, "legacy engine not available")
		return
	}

	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "rule id must be an integer")
		return
	}

	rule, ok := h.engine.Rule(id)
	if !ok {
		writeError(w, http.StatusNotFound, "rule not found")
		return
	}
	writeJSON(w, http.StatusOK, legacy.Rule{ID: id, RuleDescriptor: rule})
}

// ListScenarios returns the named scenarios and their fields.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := scenario.Scenarios()
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": scenarios,
		"count":     len(scenarios),
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.results != nil {
		if err := h.results.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	body := map[string]any{
		"status":     status,
		"version":    h.version,
		"strategies": h.service.Strategies(),
	}
	if s, ok := h.results.(interface{ Stats() cache.LRUStats }); ok {
		body["cache"] = s.Stats()
	}
	writeJSON(w, http.StatusOK, body)
}

// Ready reports whether the backends needed to serve traffic respond.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo != nil {
		if err := h.repo.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false", "reason": "repository"})
			return
		}
	}
	if h.bus != nil {
		if err := h.bus.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"ready": "false", "reason": "eventbus"})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// calculateStatus maps a service error to an HTTP status.
func calculateStatus(err error) int {
	switch {
	case errors.Is(err, compensation.ErrUnknownStrategy),
		errors.Is(err, compensation.ErrTenantRequired),
		errors.Is(err, legacy.ErrInvalidDate):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
