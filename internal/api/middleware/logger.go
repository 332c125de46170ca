package middleware

import (
	"net/http"
	"time"

	"github.com/roomstay/coupon-issuer/internal/telemetry"
)

func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		telemetry.L().Info("request",
			"method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
