package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/rollhost/internal/core/domain"
	"github.com/artpar/rollhost/internal/engine"
)

// =============================================================================
// Request / Response Types
// =============================================================================

type createRollupRequest struct {
	ServiceID uint64              `json:"service_id"`
	Config    domain.RollupConfig `json:"config"`
}

type createRollupResponse struct {
	RollupID string `json:"rollup_id"`
	VMID     string `json:"vm_id"`
	Status   string `json:"status"`
}

type statusResponse struct {
	RollupID string `json:"rollup_id"`
	Status   string `json:"status"`
}

type logsResponse struct {
	Service string `json:"service"`
	Logs    string `json:"logs"`
}

type execRequest struct {
	Cmd []string `json:"cmd"`
}

type execResponse struct {
	Service string `json:"service"`
	Output  string `json:"output"`
}

type listResponse struct {
	Rollups []domain.RollupRecord `json:"rollups"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// Handler
// =============================================================================

type handler struct {
	manager Manager
	logger  *slog.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// Rollup Lifecycle Handlers
// =============================================================================

func (h *handler) createRollup(w http.ResponseWriter, r *http.Request) {
	var req createRollupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	rollupID, err := h.manager.Create(r.Context(), req.ServiceID, req.Config)
	if err != nil {
		// A failed creation may still have registered the rollup; surface
		// its id alongside the error so callers can query or delete it.
		h.writeManagerError(w, err)
		return
	}

	record, err := h.manager.Get(rollupID)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createRollupResponse{
		RollupID: record.RollupID,
		VMID:     record.VMID,
		Status:   record.StatusText(),
	})
}

func (h *handler) listRollups(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, listResponse{Rollups: h.manager.List()})
}

func (h *handler) getRollup(w http.ResponseWriter, r *http.Request) {
	record, err := h.manager.Get(chi.URLParam(r, "rollupID"))
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) deleteRollup(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(r.Context(), chi.URLParam(r, "rollupID")); err != nil {
		h.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) rollupStatus(w http.ResponseWriter, r *http.Request) {
	rollupID := chi.URLParam(r, "rollupID")
	status, err := h.manager.Status(rollupID)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{RollupID: rollupID, Status: status})
}

func (h *handler) startRollup(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.manager.Start)
}

func (h *handler) stopRollup(w http.ResponseWriter, r *http.Request) {
	h.lifecycleOp(w, r, h.manager.Stop)
}

func (h *handler) lifecycleOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, rollupID string) error) {
	rollupID := chi.URLParam(r, "rollupID")
	if err := op(r.Context(), rollupID); err != nil {
		h.writeManagerError(w, err)
		return
	}
	status, err := h.manager.Status(rollupID)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{RollupID: rollupID, Status: status})
}

// =============================================================================
// Service Stack Handlers
// =============================================================================

func (h *handler) serviceLogs(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	logs, err := h.manager.ServiceLogs(r.Context(), chi.URLParam(r, "rollupID"), service)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logsResponse{Service: service, Logs: logs})
}

func (h *handler) serviceExec(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Cmd) == 0 {
		writeError(w, http.StatusBadRequest, "cmd must not be empty")
		return
	}

	service := chi.URLParam(r, "service")
	out, err := h.manager.ExecInService(r.Context(), chi.URLParam(r, "rollupID"), service, req.Cmd)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, execResponse{Service: service, Output: out})
}

// =============================================================================
// Service-Scoped Handlers
// =============================================================================

func (h *handler) getServiceRollup(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := h.parseServiceID(w, r)
	if !ok {
		return
	}
	record, err := h.manager.GetByServiceID(serviceID)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *handler) serviceRollupStatus(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := h.parseServiceID(w, r)
	if !ok {
		return
	}
	record, err := h.manager.GetByServiceID(serviceID)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{RollupID: record.RollupID, Status: record.StatusText()})
}

func (h *handler) startServiceRollup(w http.ResponseWriter, r *http.Request) {
	h.serviceLifecycleOp(w, r, h.manager.StartByServiceID)
}

func (h *handler) stopServiceRollup(w http.ResponseWriter, r *http.Request) {
	h.serviceLifecycleOp(w, r, h.manager.StopByServiceID)
}

func (h *handler) deleteServiceRollup(w http.ResponseWriter, r *http.Request) {
	serviceID, ok := h.parseServiceID(w, r)
	if !ok {
		return
	}
	if err := h.manager.DeleteByServiceID(r.Context(), serviceID); err != nil {
		h.writeManagerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) serviceLifecycleOp(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, serviceID uint64) error) {
	serviceID, ok := h.parseServiceID(w, r)
	if !ok {
		return
	}
	if err := op(r.Context(), serviceID); err != nil {
		h.writeManagerError(w, err)
		return
	}
	record, err := h.manager.GetByServiceID(serviceID)
	if err != nil {
		h.writeManagerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{RollupID: record.RollupID, Status: record.StatusText()})
}

func (h *handler) parseServiceID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	serviceID, err := strconv.ParseUint(chi.URLParam(r, "serviceID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid service id")
		return 0, false
	}
	return serviceID, true
}

// =============================================================================
// Response Helpers
// =============================================================================

// writeManagerError maps engine errors to HTTP status codes.
func (h *handler) writeManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidState), errors.Is(err, engine.ErrDuplicateID):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrMissingSecret):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrMissingChainID),
		errors.Is(err, domain.ErrMissingOwner),
		errors.Is(err, domain.ErrNoValidators),
		errors.Is(err, domain.ErrNoBatchPoster):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
