package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

var ErrNotFound = errors.New("resource not found")

// HistoryStore archives jobs that reached a terminal state. The in-memory registry stays the
// source of truth for live jobs; the archive only outlives the process.
type HistoryStore interface {
	Ping(ctx context.Context) error
	RecordJob(ctx context.Context, job models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]models.Job, int, error)
}

// JobFilter narrows ListJobs. Zero values mean no restriction.
type JobFilter struct {
	Type   models.JobType
	Status models.JobStatus
	Since  time.Time
	Page   int
	Limit  int
}

func (f JobFilter) normalize() (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := f.Page
	if page <= 0 {
		page = 1
	}
	return limit, (page - 1) * limit
}
