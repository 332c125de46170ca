package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roomstay/coupon-issuer/internal/api/handlers"
	"github.com/roomstay/coupon-issuer/internal/queue"
	"github.com/roomstay/coupon-issuer/internal/service"
)

// NewRouter builds the HTTP router for the coupon issuer.
func NewRouter(
	issuance *service.IssuanceService,
	grants *service.GrantService,
	reset *service.ResetService,
	q queue.IssueQueue,
) http.Handler {
	r := chi.NewRouter()

	issueHandler := handlers.NewIssuanceHandler(issuance, grants)
	adminHandler := handlers.NewAdminHandler(reset, grants, q)

	// Public coupon endpoints
	r.Route("/coupons/{couponID}", func(r chi.Router) {
		r.Post("/issue", issueHandler.IssueCoupon)
		r.Post("/use", issueHandler.UseCoupon)
		r.Post("/restore", issueHandler.RestoreCoupon)
	})
	r.Get("/users/{userID}/coupons", issueHandler.ListCoupons)

	// Operator endpoints
	r.Route("/admin", func(r chi.Router) {
		r.Post("/inventory/reset", adminHandler.TriggerReset)
		r.Post("/queue/requeue", adminHandler.Requeue)
		r.Post("/queue/purge-retry", adminHandler.PurgeRetry)
		r.Get("/queue/depths", adminHandler.Depths)
		r.Post("/grants/expire-sweep", adminHandler.ExpireSweep)
	})

	// health
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}
