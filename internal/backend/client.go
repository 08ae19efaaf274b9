package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// Sentinel errors for pipeline backend failures.
var (
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrBackendStatus      = errors.New("backend returned error status")
	ErrBackendTimeout     = errors.New("backend request timeout")
	ErrNotFound           = errors.New("backend resource not found")
	ErrUnknownJobType     = errors.New("unknown job type")
)

// Client is the interface for the ML pipeline backend. The backend is treated as an
// opaque status oracle: jobwatch only creates, polls and cancels jobs through it.
type Client interface {
	CreateJob(ctx context.Context, jobType models.JobType, params map[string]any) (string, error)
	JobStatus(ctx context.Context, jobType models.JobType, jobID string) (*models.StatusResponse, error)
	CancelJob(ctx context.Context, jobType models.JobType, jobID string) error

	CachedValidation(ctx context.Context, track models.JobType, datasetID string) (*models.CachedValidationResult, bool, error)
	DeleteCachedValidation(ctx context.Context, track models.JobType, datasetID string) error

	Simulate(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error)

	ListDatasets(ctx context.Context) ([]models.Dataset, error)
	ListSplits(ctx context.Context) ([]models.Split, error)
	ListModels(ctx context.Context) ([]models.Model, error)

	Ready(ctx context.Context) error
}

// HTTPClient implements Client over the backend's REST API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a new backend HTTP client. baseURL includes the API prefix,
// e.g. http://localhost:5000/api.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewHTTPClientWith uses the given http.Client, e.g. one with a mocked transport.
func NewHTTPClientWith(baseURL string, c *http.Client) *HTTPClient {
	return &HTTPClient{baseURL: baseURL, client: c}
}

func (c *HTTPClient) CreateJob(ctx context.Context, jobType models.JobType, params map[string]any) (string, error) {
	route, err := routeFor(jobType)
	if err != nil {
		return "", err
	}
	if params == nil {
		params = map[string]any{}
	}

	var resp models.CreateJobResponse
	if err := c.do(ctx, http.MethodPost, route.create, params, &resp); err != nil {
		return "", fmt.Errorf("creating %s job: %w", jobType, err)
	}
	if resp.JobID == "" {
		return "", fmt.Errorf("creating %s job: %w: response has no job_id", jobType, ErrBackendStatus)
	}
	return resp.JobID, nil
}

func (c *HTTPClient) JobStatus(ctx context.Context, jobType models.JobType, jobID string) (*models.StatusResponse, error) {
	route, err := routeFor(jobType)
	if err != nil {
		return nil, err
	}

	var resp models.StatusResponse
	if err := c.do(ctx, http.MethodGet, statusPath(route, jobID), nil, &resp); err != nil {
		return nil, err
	}
	if !resp.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown job status %q", ErrBackendStatus, resp.Status)
	}
	return &resp, nil
}

func (c *HTTPClient) CancelJob(ctx context.Context, jobType models.JobType, jobID string) error {
	route, err := routeFor(jobType)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, cancelPath(route, jobID), nil, nil)
}

// CachedValidation returns the cached result for datasetID, or found=false when the
// backend answers 404 or {cached: false}.
func (c *HTTPClient) CachedValidation(ctx context.Context, track models.JobType, datasetID string) (*models.CachedValidationResult, bool, error) {
	path, err := cachePath(track, datasetID)
	if err != nil {
		return nil, false, err
	}

	var resp models.CachedResultsResponse
	err = c.do(ctx, http.MethodGet, path, nil, &resp)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if !resp.Cached {
		return nil, false, nil
	}

	result := &models.CachedValidationResult{
		DatasetID: datasetID,
		Track:     track,
		Pillars:   resp.Pillars,
		Summary:   resp.Summary,
	}
	if resp.ComputedAt != nil {
		result.ComputedAt = resp.ComputedAt.UTC()
	}
	return result, true, nil
}

// DeleteCachedValidation invalidates the server cache. A missing entry is not an error.
func (c *HTTPClient) DeleteCachedValidation(ctx context.Context, track models.JobType, datasetID string) error {
	path, err := cachePath(track, datasetID)
	if err != nil {
		return err
	}
	err = c.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func (c *HTTPClient) Simulate(ctx context.Context, req models.SimulationRequest) (*models.SimulationResult, error) {
	if req.Overrides == nil {
		req.Overrides = models.Overrides{}
	}
	var resp models.SimulationResult
	if err := c.do(ctx, http.MethodPost, "/analytics/simulate", req, &resp); err != nil {
		return nil, fmt.Errorf("simulating intervention: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) ListDatasets(ctx context.Context) ([]models.Dataset, error) {
	var resp struct {
		Datasets []models.Dataset `json:"datasets"`
	}
	if err := c.do(ctx, http.MethodGet, "/data/datasets", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing datasets: %w", err)
	}
	return nonNil(resp.Datasets), nil
}

func (c *HTTPClient) ListSplits(ctx context.Context) ([]models.Split, error) {
	var resp struct {
		Splits []models.Split `json:"splits"`
	}
	if err := c.do(ctx, http.MethodGet, "/preprocessing/splits", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing splits: %w", err)
	}
	return nonNil(resp.Splits), nil
}

func (c *HTTPClient) ListModels(ctx context.Context) ([]models.Model, error) {
	var resp struct {
		Models []models.Model `json:"models"`
	}
	if err := c.do(ctx, http.MethodGet, "/training/models", nil, &resp); err != nil {
		return nil, fmt.Errorf("listing models: %w", err)
	}
	return nonNil(resp.Models), nil
}

func (c *HTTPClient) Ready(ctx context.Context) error {
	if err := c.do(ctx, http.MethodGet, "/validation/status", nil, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}
	return nil
}

// do sends a JSON request and decodes a JSON response into out when out is non-nil.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s: status %d%s", ErrBackendStatus, method, path, resp.StatusCode, errorMessage(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding backend response: %w", err)
	}
	return nil
}

// errorMessage extracts the backend's {"error": "..."} message, if any.
func errorMessage(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil || body.Error == "" {
		return ""
	}
	return ": " + body.Error
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
