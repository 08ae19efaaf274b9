// Package catalog keeps the dataset, split and model collections that job completions refresh.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiranshivaraju/jobwatch/internal/backend"
	"github.com/kiranshivaraju/jobwatch/internal/lifecycle"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

var ErrUnknownDataset = errors.New("unknown dataset")

// Snapshot is a consistent copy of the catalog.
type Snapshot struct {
	Datasets       []models.Dataset `json:"datasets"`
	Splits         []models.Split   `json:"splits"`
	Models         []models.Model   `json:"models"`
	CurrentDataset string           `json:"current_dataset,omitempty"`
	RefreshedAt    time.Time        `json:"refreshed_at"`
}

// Catalog caches the backend collections and the current dataset selection.
type Catalog struct {
	client backend.Client
	log    zerolog.Logger

	mu          sync.RWMutex
	datasets    []models.Dataset
	splits      []models.Split
	models      []models.Model
	current     string
	refreshedAt time.Time
	listeners   []func(datasetID string)
}

func New(client backend.Client, log zerolog.Logger) *Catalog {
	return &Catalog{
		client:   client,
		log:      log.With().Str("component", "catalog").Logger(),
		datasets: []models.Dataset{},
		splits:   []models.Split{},
		models:   []models.Model{},
	}
}

func (c *Catalog) RefreshDatasets(ctx context.Context) error {
	ds, err := c.client.ListDatasets(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("dataset refresh failed")
		return err
	}
	c.mu.Lock()
	c.datasets = ds
	c.refreshedAt = time.Now().UTC()
	c.mu.Unlock()
	c.log.Debug().Int("count", len(ds)).Msg("datasets refreshed")
	return nil
}

func (c *Catalog) RefreshSplits(ctx context.Context) error {
	splits, err := c.client.ListSplits(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("split refresh failed")
		return err
	}
	c.mu.Lock()
	c.splits = splits
	c.refreshedAt = time.Now().UTC()
	c.mu.Unlock()
	c.log.Debug().Int("count", len(splits)).Msg("splits refreshed")
	return nil
}

func (c *Catalog) RefreshModels(ctx context.Context) error {
	ms, err := c.client.ListModels(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("model refresh failed")
		return err
	}
	c.mu.Lock()
	c.models = ms
	c.refreshedAt = time.Now().UTC()
	c.mu.Unlock()
	c.log.Debug().Int("count", len(ms)).Msg("models refreshed")
	return nil
}

// RefreshAll refreshes every collection and returns the first error.
func (c *Catalog) RefreshAll(ctx context.Context) error {
	for _, refresh := range []func(context.Context) error{c.RefreshDatasets, c.RefreshSplits, c.RefreshModels} {
		if err := refresh(ctx); err != nil {
			return err
		}
	}
	return nil
}

// SelectDataset makes datasetID current and notifies listeners. The id must be in the last
// refreshed dataset list.
func (c *Catalog) SelectDataset(datasetID string) error {
	c.mu.Lock()
	if !c.hasDataset(datasetID) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownDataset, datasetID)
	}
	changed := c.current != datasetID
	c.current = datasetID
	listeners := append([]func(string){}, c.listeners...)
	c.mu.Unlock()

	if changed {
		for _, fn := range listeners {
			fn(datasetID)
		}
	}
	return nil
}

// OnDatasetSelected registers fn to run whenever the current dataset changes.
func (c *Catalog) OnDatasetSelected(fn func(datasetID string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Current returns the selected dataset id, or "" when none is selected.
func (c *Catalog) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

func (c *Catalog) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Datasets:       append([]models.Dataset{}, c.datasets...),
		Splits:         append([]models.Split{}, c.splits...),
		Models:         append([]models.Model{}, c.models...),
		CurrentDataset: c.current,
		RefreshedAt:    c.refreshedAt,
	}
}

// Register wires the refresh-on-completion hooks into the lifecycle controller.
func (c *Catalog) Register(ctrl *lifecycle.Controller) {
	ctrl.OnTerminal(models.JobTypeDataGeneration, c.onDataGenerated)
	ctrl.OnTerminal(models.JobTypePreprocessing, completedOnly(c.RefreshSplits))
	ctrl.OnTerminal(models.JobTypeTraining, completedOnly(c.RefreshModels))
}

func (c *Catalog) onDataGenerated(ctx context.Context, job models.Job) error {
	if job.Status != models.JobStatusCompleted {
		return nil
	}
	if err := c.RefreshDatasets(ctx); err != nil {
		return err
	}

	var res models.DataGenerationResult
	if err := models.DecodeResult(job.Result, &res); err != nil {
		return fmt.Errorf("decoding data generation result: %w", err)
	}
	if res.DatasetID == "" {
		return nil
	}
	return c.SelectDataset(res.DatasetID)
}

func completedOnly(refresh func(context.Context) error) lifecycle.TerminalHook {
	return func(ctx context.Context, job models.Job) error {
		if job.Status != models.JobStatusCompleted {
			return nil
		}
		return refresh(ctx)
	}
}

// hasDataset must be called with mu held.
func (c *Catalog) hasDataset(id string) bool {
	for _, d := range c.datasets {
		if d.ID == id {
			return true
		}
	}
	return false
}
