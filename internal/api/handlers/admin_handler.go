package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/roomstay/coupon-issuer/internal/queue"
	"github.com/roomstay/coupon-issuer/internal/service"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

// AdminHandler exposes the operator controls: the daily reset trigger,
// retry-lane requeue and purge, lane depths, and the expiry sweep.
type AdminHandler struct {
	reset  *service.ResetService
	grants *service.GrantService
	queue  queue.IssueQueue
}

func NewAdminHandler(reset *service.ResetService, grants *service.GrantService, q queue.IssueQueue) *AdminHandler {
	return &AdminHandler{reset: reset, grants: grants, queue: q}
}

// TriggerReset handles POST /admin/inventory/reset
func (h *AdminHandler) TriggerReset(w http.ResponseWriter, r *http.Request) {
	n, err := h.reset.ResetDaily(r.Context(), time.Now().UTC())
	if err != nil {
		telemetry.L().Error("daily reset failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"rows_reset": n})
}

// Requeue handles POST /admin/queue/requeue?max=100
func (h *AdminHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	maxItems, err := strconv.Atoi(r.URL.Query().Get("max"))
	if err != nil || maxItems <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "max must be a positive integer"})
		return
	}
	moved, err := h.queue.RequeueRetryToPrimary(r.Context(), maxItems)
	if err != nil {
		telemetry.L().Error("requeue failed", "moved", moved, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"moved": moved})
}

// PurgeRetry handles POST /admin/queue/purge-retry
func (h *AdminHandler) PurgeRetry(w http.ResponseWriter, r *http.Request) {
	if err := h.queue.PurgeRetry(r.Context()); err != nil {
		telemetry.L().Error("purge retry failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// Depths handles GET /admin/queue/depths
func (h *AdminHandler) Depths(w http.ResponseWriter, r *http.Request) {
	primary, err := h.queue.DepthPrimary(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	retry, err := h.queue.DepthRetry(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"primary": primary, "retry": retry})
}

// ExpireSweep handles POST /admin/grants/expire-sweep
func (h *AdminHandler) ExpireSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.grants.ExpireSweep(r.Context(), time.Now().UTC())
	if err != nil {
		telemetry.L().Error("expire sweep failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"expired": n})
}
