package models

import "time"

// CachedValidationResult is a previously computed validation payload for one dataset.
// Its existence lets the validation tracks skip recomputation.
type CachedValidationResult struct {
	DatasetID  string         `json:"dataset_id"`
	Track      JobType        `json:"track"`
	ComputedAt time.Time      `json:"computed_at"`
	Pillars    map[string]any `json:"pillars,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
	JobID      string         `json:"job_id,omitempty"`
}

// CachedResultsResponse is the body of GET /validation/cached-results/<dataset_id>.
type CachedResultsResponse struct {
	Cached     bool           `json:"cached"`
	DatasetID  string         `json:"dataset_id,omitempty"`
	ComputedAt *time.Time     `json:"computed_at,omitempty"`
	Pillars    map[string]any `json:"pillars,omitempty"`
	Summary    map[string]any `json:"summary,omitempty"`
}
