package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	mw "github.com/kiranshivaraju/jobwatch/internal/api/middleware"
	"github.com/kiranshivaraju/jobwatch/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Logger    zerolog.Logger
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	ListJobs    http.HandlerFunc
	ActiveJobs  http.HandlerFunc
	GetJob      http.HandlerFunc
	CreateJob   http.HandlerFunc
	CancelJob   http.HandlerFunc
	RemoveJob   http.HandlerFunc
	ListHistory http.HandlerFunc

	GetCatalog    http.HandlerFunc
	SelectDataset http.HandlerFunc

	GetSimulator          http.HandlerFunc
	SetSimulatorContext   http.HandlerFunc
	SetSimulatorOverrides http.HandlerFunc

	GetValidation           http.HandlerFunc
	SelectValidationDataset http.HandlerFunc
	LoadValidation          http.HandlerFunc
	RecomputeValidation     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger(deps.Logger))
	r.Use(mw.Recovery(deps.Logger))

	// Unlimited
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Group(func(r chi.Router) {
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.ListJobs))
			r.Post("/", orNotImplemented(deps.CreateJob))
			r.Get("/active", orNotImplemented(deps.ActiveJobs))
			r.Get("/{jobID}", orNotImplemented(deps.GetJob))
			r.Delete("/{jobID}", orNotImplemented(deps.RemoveJob))
			r.Post("/{jobID}/cancel", orNotImplemented(deps.CancelJob))
		})
		r.Get("/api/v1/history", orNotImplemented(deps.ListHistory))

		r.Get("/api/v1/catalog", orNotImplemented(deps.GetCatalog))
		r.Put("/api/v1/catalog/current-dataset", orNotImplemented(deps.SelectDataset))

		r.Get("/api/v1/simulator", orNotImplemented(deps.GetSimulator))
		r.Put("/api/v1/simulator/context", orNotImplemented(deps.SetSimulatorContext))
		r.Patch("/api/v1/simulator/overrides", orNotImplemented(deps.SetSimulatorOverrides))

		r.Get("/api/v1/validation", orNotImplemented(deps.GetValidation))
		r.Put("/api/v1/validation/dataset", orNotImplemented(deps.SelectValidationDataset))
		r.Post("/api/v1/validation/{track}/load", orNotImplemented(deps.LoadValidation))
		r.Post("/api/v1/validation/{track}/recompute", orNotImplemented(deps.RecomputeValidation))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
