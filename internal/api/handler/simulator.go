package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/jobwatch/internal/api/response"
	"github.com/kiranshivaraju/jobwatch/internal/simulator"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// SimulatorService is the debounced what-if simulator.
type SimulatorService interface {
	State() simulator.State
	SetContext(modelID, athleteID, date string, baseline models.Overrides)
	SetOverrides(values models.Overrides) error
	Flush(ctx context.Context) (simulator.State, error)
}

type SimulatorHandler struct {
	svc SimulatorService
}

func NewSimulatorHandler(svc SimulatorService) *SimulatorHandler {
	return &SimulatorHandler{svc: svc}
}

type simulatorContextRequest struct {
	ModelID   string           `json:"model_id" validate:"required"`
	AthleteID string           `json:"athlete_id" validate:"required"`
	Date      string           `json:"date" validate:"required,datetime=2006-01-02"`
	Baseline  models.Overrides `json:"baseline"`
}

type overridesRequest struct {
	Overrides models.Overrides `json:"overrides" validate:"required,min=1"`
}

// Get handles GET /api/v1/simulator.
func (h *SimulatorHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.svc.State())
}

// SetContext handles PUT /api/v1/simulator/context.
func (h *SimulatorHandler) SetContext(w http.ResponseWriter, r *http.Request) {
	var req simulatorContextRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Baseline == nil {
		req.Baseline = models.Overrides{}
	}
	h.svc.SetContext(req.ModelID, req.AthleteID, req.Date, req.Baseline)
	response.JSON(w, h.svc.State())
}

// SetOverrides handles PATCH /api/v1/simulator/overrides. The simulation runs after the
// debounce delay, or immediately with ?flush=true.
func (h *SimulatorHandler) SetOverrides(w http.ResponseWriter, r *http.Request) {
	var req overridesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SetOverrides(req.Overrides); err != nil {
		if errors.Is(err, simulator.ErrNoContext) {
			response.Error(w, http.StatusConflict, "NO_SIMULATION_CONTEXT",
				"Set the model, athlete and date first", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}

	if r.URL.Query().Get("flush") != "true" {
		response.Accepted(w, h.svc.State())
		return
	}
	st, err := h.svc.Flush(r.Context())
	if err != nil && !errors.Is(err, simulator.ErrSuperseded) {
		backendError(w, err)
		return
	}
	response.JSON(w, st)
}
