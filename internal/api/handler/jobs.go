package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kiranshivaraju/jobwatch/internal/api/response"
	"github.com/kiranshivaraju/jobwatch/internal/lifecycle"
	"github.com/kiranshivaraju/jobwatch/internal/registry"
	"github.com/kiranshivaraju/jobwatch/internal/store"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// JobController is the part of the lifecycle controller the job endpoints drive.
type JobController interface {
	Start(ctx context.Context, jobType models.JobType, description string, params map[string]any) (string, error)
	Track(jobType models.JobType, id, description string) error
	Cancel(ctx context.Context, id string) error
	Detach(id string)
}

// JobsHandler serves the job registry and the history archive.
type JobsHandler struct {
	registry *registry.Registry
	ctrl     JobController
	history  store.HistoryStore
}

func NewJobsHandler(reg *registry.Registry, ctrl JobController, history store.HistoryStore) *JobsHandler {
	if history == nil {
		history = store.NopStore{}
	}
	return &JobsHandler{registry: reg, ctrl: ctrl, history: history}
}

type createJobRequest struct {
	Type        string         `json:"type" validate:"required"`
	Description string         `json:"description" validate:"max=200"`
	Params      map[string]any `json:"params"`
	// JobID attaches to a job that already exists on the backend instead of creating one.
	JobID string `json:"job_id" validate:"omitempty,max=128"`
}

// List handles GET /api/v1/jobs with optional type and status filters.
func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	jobType := models.JobType(r.URL.Query().Get("type"))
	status := models.JobStatus(r.URL.Query().Get("status"))

	jobs := make([]models.Job, 0)
	for _, j := range h.registry.List() {
		if jobType != "" && j.Type != jobType {
			continue
		}
		if status != "" && j.Status != status {
			continue
		}
		jobs = append(jobs, j)
	}
	response.JSON(w, jobs)
}

// Active handles GET /api/v1/jobs/active.
func (h *JobsHandler) Active(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, h.registry.ActiveJobs())
}

// Get handles GET /api/v1/jobs/{jobID}. Jobs no longer in the registry are looked up in the
// history archive.
func (h *JobsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if job, ok := h.registry.Get(id); ok {
		response.JSON(w, job)
		return
	}

	job, err := h.history.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}
	response.JSON(w, job)
}

// Create handles POST /api/v1/jobs.
func (h *JobsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if !decodeBody(w, r, &req) {
		return
	}
	jobType := models.JobType(req.Type)
	if !jobType.Valid() {
		response.Error(w, http.StatusBadRequest, "UNKNOWN_JOB_TYPE", "Unknown job type: "+req.Type, nil)
		return
	}
	if req.Params == nil {
		req.Params = map[string]any{}
	}

	id := req.JobID
	var err error
	if id != "" {
		err = h.ctrl.Track(jobType, id, req.Description)
	} else {
		id, err = h.ctrl.Start(r.Context(), jobType, req.Description, req.Params)
	}
	if err != nil {
		if errors.Is(err, registry.ErrJobExists) {
			response.Error(w, http.StatusConflict, "JOB_EXISTS", "Job is already tracked", nil)
			return
		}
		backendError(w, err)
		return
	}

	job, _ := h.registry.Get(id)
	response.Accepted(w, job)
}

// Cancel handles POST /api/v1/jobs/{jobID}/cancel.
func (h *JobsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	if err := h.ctrl.Cancel(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, lifecycle.ErrNotTracked):
			if _, ok := h.registry.Get(id); ok {
				response.Error(w, http.StatusConflict, "JOB_NOT_ACTIVE", "Job is no longer being polled", nil)
				return
			}
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		case errors.Is(err, lifecycle.ErrAlreadyTerminal):
			response.Error(w, http.StatusConflict, "JOB_NOT_ACTIVE", "Job already reached a terminal state", nil)
		default:
			backendError(w, err)
		}
		return
	}

	job, _ := h.registry.Get(id)
	response.Accepted(w, job)
}

// Remove handles DELETE /api/v1/jobs/{jobID}. Polling stops without cancelling the backend job.
func (h *JobsHandler) Remove(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	h.ctrl.Detach(id)
	if err := h.registry.RemoveJob(id); err != nil {
		response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
		return
	}
	response.NoContent(w)
}

// History handles GET /api/v1/history.
func (h *JobsHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.JobFilter{
		Type:   models.JobType(q.Get("type")),
		Status: models.JobStatus(q.Get("status")),
		Page:   queryInt(r, "page", 1),
		Limit:  queryInt(r, "limit", 20),
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "since must be a valid RFC3339 timestamp", nil)
			return
		}
		filter.Since = t
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > 100 {
		filter.Limit = 20
	}

	jobs, total, err := h.history.ListJobs(r.Context(), filter)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
		return
	}
	response.Collection(w, jobs, response.NewPaginationMeta(filter.Page, filter.Limit, total))
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}
