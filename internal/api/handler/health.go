package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobwatch/internal/api/response"
)

// Pinger is any dependency whose reachability is reported by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// NewHealthHandler returns GET /api/v1/health. Any failing check turns the response into 503.
func NewHealthHandler(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := "ok"
		results := make(map[string]string, len(checks))
		for name, p := range checks {
			if err := p.Ping(ctx); err != nil {
				results[name] = err.Error()
				status = "degraded"
				continue
			}
			results[name] = "ok"
		}

		body := map[string]any{"status": status, "checks": results}
		if status != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "One or more dependencies are unavailable", body)
			return
		}
		response.JSON(w, body)
	}
}
