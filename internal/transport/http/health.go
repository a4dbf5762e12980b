package http

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck pings a dependency; nil means healthy.
type HealthCheck func(ctx context.Context) error

// HealthHandler reports liveness and, when check is set, store reachability.
func HealthHandler(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
