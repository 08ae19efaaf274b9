package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiranshivaraju/jobwatch/internal/metrics"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger logs one line per request and counts it in the request metric.
func Logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			metrics.HTTPRequestCount.WithLabelValues(r.Method, strconv.Itoa(rec.status)).Inc()

			evt := log.Info()
			if rec.status >= http.StatusInternalServerError {
				evt = log.Warn()
			}
			if id, ok := GetRequestID(r); ok {
				evt = evt.Str("request_id", id)
			}
			evt.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rec.status).
				Int64("duration_ms", time.Since(start).Milliseconds()).
				Str("remote_addr", r.RemoteAddr).
				Msg("request")
		})
	}
}
