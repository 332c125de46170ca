package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roomstay/coupon-issuer/internal/models"
	"github.com/roomstay/coupon-issuer/internal/service"
	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

// --- Request / Response DTOs ---

type IssueRequestBody struct {
	UserID string `json:"user_id"`
}

type IssueResponse struct {
	Status models.IssueStatus `json:"status"`
}

type GrantListResponse struct {
	Grants []GrantDTO `json:"grants"`
}

type GrantDTO struct {
	CouponID  int64  `json:"coupon_id"`
	Status    string `json:"status"`
	ExpiresAt string `json:"expires_at"`
}

// --- Handler struct & constructor ---

type IssuanceHandler struct {
	issuance *service.IssuanceService
	grants   *service.GrantService
}

func NewIssuanceHandler(issuance *service.IssuanceService, grants *service.GrantService) *IssuanceHandler {
	return &IssuanceHandler{issuance: issuance, grants: grants}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func couponIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "couponID"), 10, 64)
	return id, err == nil
}

func statusCode(status models.IssueStatus) int {
	switch status {
	case models.IssueSuccess:
		return http.StatusCreated
	case models.IssueNotFound:
		return http.StatusNotFound
	case models.IssueDuplicated:
		return http.StatusConflict
	case models.IssueSoldOut:
		return http.StatusConflict
	case models.IssueInactive, models.IssueWrongTrigger:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// --- Handlers ---

// IssueCoupon handles POST /coupons/{couponID}/issue. This is the
// user-initiated download path.
func (h *IssuanceHandler) IssueCoupon(w http.ResponseWriter, r *http.Request) {
	couponID, ok := couponIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid coupon id"})
		return
	}
	var body IssueRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	status := h.issue(r.Context(), body.UserID, couponID)
	writeJSON(w, statusCode(status), IssueResponse{Status: status})
}

func (h *IssuanceHandler) issue(ctx context.Context, userID string, couponID int64) models.IssueStatus {
	status, err := h.issuance.Issue(ctx, userID, couponID)
	if err != nil {
		telemetry.L().Error("issue failed", "coupon_id", couponID, "user_id", userID, "err", err)
	}
	return status
}

// ListCoupons handles GET /users/{userID}/coupons?status=ISSUED
func (h *IssuanceHandler) ListCoupons(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	status := models.GrantStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = models.GrantIssued
	}

	grants, err := h.grants.ListGrants(r.Context(), userID, status)
	if err != nil {
		telemetry.L().Error("list grants failed", "user_id", userID, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}

	resp := GrantListResponse{Grants: make([]GrantDTO, 0, len(grants))}
	for _, g := range grants {
		resp.Grants = append(resp.Grants, GrantDTO{
			CouponID:  g.CouponID,
			Status:    string(g.Status),
			ExpiresAt: g.ExpiresAt.Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// UseCoupon handles POST /coupons/{couponID}/use
func (h *IssuanceHandler) UseCoupon(w http.ResponseWriter, r *http.Request) {
	h.mutateGrant(w, r, h.grants.UseCoupon)
}

// RestoreCoupon handles POST /coupons/{couponID}/restore. Fired when a
// triggering reservation is cancelled before the grant expires.
func (h *IssuanceHandler) RestoreCoupon(w http.ResponseWriter, r *http.Request) {
	h.mutateGrant(w, r, h.grants.RestoreCoupon)
}

func (h *IssuanceHandler) mutateGrant(w http.ResponseWriter, r *http.Request, op func(context.Context, string, int64) (bool, error)) {
	couponID, ok := couponIDParam(r)
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid coupon id"})
		return
	}
	var body IssueRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id required"})
		return
	}

	changed, err := op(r.Context(), body.UserID, couponID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal_error"})
		return
	}
	if !changed {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no eligible grant"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}
