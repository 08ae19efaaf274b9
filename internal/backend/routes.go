package backend

import (
	"fmt"
	"net/url"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// jobRoute holds the create path and the per-job resource prefix for a job type.
// Status and cancel paths are <prefix>/<job_id>/status and <prefix>/<job_id>/cancel.
type jobRoute struct {
	create string
	prefix string
}

var jobRoutes = map[models.JobType]jobRoute{
	models.JobTypeDataGeneration:        {create: "/data/generate", prefix: "/data/generate"},
	models.JobTypePreprocessing:         {create: "/preprocessing/run", prefix: "/preprocessing"},
	models.JobTypeTraining:              {create: "/training/train", prefix: "/training"},
	models.JobTypeValidation:            {create: "/validation/run", prefix: "/validation"},
	models.JobTypeMethodologyValidation: {create: "/validation/methodology/run", prefix: "/validation/methodology"},
	models.JobTypeScientificValidation:  {create: "/validation/scientific/run", prefix: "/validation/scientific"},
}

var cachePrefixes = map[models.JobType]string{
	models.JobTypeValidation:            "/validation/cached-results",
	models.JobTypeMethodologyValidation: "/validation/methodology/cached-results",
	models.JobTypeScientificValidation:  "/validation/scientific/cached-results",
}

func routeFor(t models.JobType) (jobRoute, error) {
	r, ok := jobRoutes[t]
	if !ok {
		return jobRoute{}, fmt.Errorf("%w: %q", ErrUnknownJobType, t)
	}
	return r, nil
}

func statusPath(r jobRoute, jobID string) string {
	return fmt.Sprintf("%s/%s/status", r.prefix, url.PathEscape(jobID))
}

func cancelPath(r jobRoute, jobID string) string {
	return fmt.Sprintf("%s/%s/cancel", r.prefix, url.PathEscape(jobID))
}

func cachePath(track models.JobType, datasetID string) (string, error) {
	p, ok := cachePrefixes[track]
	if !ok {
		return "", fmt.Errorf("%w: %q has no cached results", ErrUnknownJobType, track)
	}
	return fmt.Sprintf("%s/%s", p, url.PathEscape(datasetID)), nil
}
