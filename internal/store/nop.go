package store

import (
	"context"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// NopStore is used when no DATABASE_URL is configured. Nothing is archived.
type NopStore struct{}

func (NopStore) Ping(context.Context) error { return nil }

func (NopStore) RecordJob(context.Context, models.Job) error { return nil }

func (NopStore) GetJob(context.Context, string) (*models.Job, error) { return nil, ErrNotFound }

func (NopStore) ListJobs(context.Context, JobFilter) ([]models.Job, int, error) {
	return []models.Job{}, 0, nil
}

var _ HistoryStore = NopStore{}
