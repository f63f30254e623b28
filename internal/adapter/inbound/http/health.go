package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// healthResponse is the /healthz JSON body.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthHandler answers /healthz. With no checkers it always reports ok;
// a failing checker degrades the status to 503.
func healthHandler(checkers map[string]HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		code := http.StatusOK

		if len(checkers) > 0 {
			resp.Checks = make(map[string]string, len(checkers))
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			for name, c := range checkers {
				if err := c.Ping(ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					code = http.StatusServiceUnavailable
				} else {
					resp.Checks[name] = "ok"
				}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(resp)
	}
}
