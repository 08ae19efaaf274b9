package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/jobwatch/internal/api/response"
	"github.com/kiranshivaraju/jobwatch/internal/catalog"
	"github.com/kiranshivaraju/jobwatch/internal/validation"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// ValidationService is the three-track validation orchestrator.
type ValidationService interface {
	Dataset() string
	States() []validation.TrackState
	SelectDataset(datasetID string)
	Load(ctx context.Context, track models.JobType) (validation.TrackState, error)
	Recompute(ctx context.Context, track models.JobType) (validation.TrackState, error)
}

// DatasetSelector owns the shared dataset selection when the catalog is wired in.
type DatasetSelector interface {
	SelectDataset(datasetID string) error
}

type ValidationHandler struct {
	svc      ValidationService
	selector DatasetSelector
}

// NewValidationHandler creates the handler. A nil selector sets the dataset on svc directly.
func NewValidationHandler(svc ValidationService, selector DatasetSelector) *ValidationHandler {
	return &ValidationHandler{svc: svc, selector: selector}
}

type validationView struct {
	DatasetID string                  `json:"dataset_id"`
	Tracks    []validation.TrackState `json:"tracks"`
}

// Get handles GET /api/v1/validation.
func (h *ValidationHandler) Get(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.view())
}

// SelectDataset handles PUT /api/v1/validation/dataset. Running jobs are not cancelled.
func (h *ValidationHandler) SelectDataset(w http.ResponseWriter, r *http.Request) {
	var req selectDatasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if h.selector != nil {
		if err := h.selector.SelectDataset(req.DatasetID); err != nil {
			if errors.Is(err, catalog.ErrUnknownDataset) {
				response.Error(w, http.StatusNotFound, "DATASET_NOT_FOUND", "Dataset not found: "+req.DatasetID, nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
			return
		}
	} else {
		h.svc.SelectDataset(req.DatasetID)
	}
	response.JSON(w, h.view())
}

// Load handles POST /api/v1/validation/{track}/load.
func (h *ValidationHandler) Load(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.svc.Load)
}

// Recompute handles POST /api/v1/validation/{track}/recompute.
func (h *ValidationHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.svc.Recompute)
}

func (h *ValidationHandler) run(w http.ResponseWriter, r *http.Request, op func(context.Context, models.JobType) (validation.TrackState, error)) {
	track, err := validation.ParseTrack(chi.URLParam(r, "track"))
	if err != nil {
		response.Error(w, http.StatusNotFound, "UNKNOWN_TRACK", err.Error(), nil)
		return
	}

	st, err := op(r.Context(), track)
	if err != nil {
		if errors.Is(err, validation.ErrNoDataset) {
			response.Error(w, http.StatusConflict, "NO_DATASET_SELECTED", "Select a dataset first", nil)
			return
		}
		backendError(w, err)
		return
	}
	if st.Running {
		response.Accepted(w, st)
		return
	}
	response.JSON(w, st)
}

func (h *ValidationHandler) view() validationView {
	return validationView{DatasetID: h.svc.Dataset(), Tracks: h.svc.States()}
}
