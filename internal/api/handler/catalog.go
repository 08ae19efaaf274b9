package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/kiranshivaraju/jobwatch/internal/api/response"
	"github.com/kiranshivaraju/jobwatch/internal/catalog"
)

// CatalogService is the dataset, split and model catalog.
type CatalogService interface {
	Snapshot() catalog.Snapshot
	SelectDataset(datasetID string) error
	RefreshAll(ctx context.Context) error
}

type CatalogHandler struct {
	svc CatalogService
}

func NewCatalogHandler(svc CatalogService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

type selectDatasetRequest struct {
	DatasetID string `json:"dataset_id" validate:"required"`
}

// Get handles GET /api/v1/catalog. With ?refresh=true the collections are re-read first.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := h.svc.RefreshAll(r.Context()); err != nil {
			backendError(w, err)
			return
		}
	}
	response.JSON(w, h.svc.Snapshot())
}

// SelectDataset handles PUT /api/v1/catalog/current-dataset.
func (h *CatalogHandler) SelectDataset(w http.ResponseWriter, r *http.Request) {
	var req selectDatasetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.svc.SelectDataset(req.DatasetID); err != nil {
		if errors.Is(err, catalog.ErrUnknownDataset) {
			response.Error(w, http.StatusNotFound, "DATASET_NOT_FOUND", "Dataset not found: "+req.DatasetID, nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}
	response.JSON(w, h.svc.Snapshot())
}
