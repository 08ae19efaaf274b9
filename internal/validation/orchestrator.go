// Package validation coordinates the three cache-first validation tracks over the selected
// dataset.
package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kiranshivaraju/jobwatch/internal/backend"
	"github.com/kiranshivaraju/jobwatch/internal/cache"
	"github.com/kiranshivaraju/jobwatch/internal/lifecycle"
	"github.com/kiranshivaraju/jobwatch/internal/metrics"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

var (
	ErrNoDataset    = errors.New("no dataset selected")
	ErrUnknownTrack = errors.New("unknown validation track")
)

// cacheLookupTimeout bounds a shared server cache lookup.
const cacheLookupTimeout = 30 * time.Second

// Tracks lists the validation job types in display order.
var Tracks = []models.JobType{
	models.JobTypeValidation,
	models.JobTypeMethodologyValidation,
	models.JobTypeScientificValidation,
}

// Result sources.
const (
	SourceMemo   = "memo"
	SourceServer = "server"
	SourceJob    = "job"
)

// TrackState is what one validation panel displays.
type TrackState struct {
	Track     models.JobType                 `json:"track"`
	DatasetID string                         `json:"dataset_id,omitempty"`
	Result    *models.CachedValidationResult `json:"result,omitempty"`
	Source    string                         `json:"source,omitempty"`
	JobID     string                         `json:"job_id,omitempty"`
	Running   bool                           `json:"running"`
	Error     string                         `json:"error,omitempty"`
}

type trackState struct {
	result *models.CachedValidationResult
	source string
	err    string
	// jobs maps dataset id to the id of the job computing it.
	jobs map[string]string
}

// Orchestrator owns the three validation tracks.
type Orchestrator struct {
	client  backend.Client
	ctrl    *lifecycle.Controller
	memo    cache.Cache
	memoTTL time.Duration
	group   singleflight.Group
	log     zerolog.Logger

	mu      sync.Mutex
	dataset string
	tracks  map[models.JobType]*trackState
	byJob   map[string]string
}

// NewOrchestrator creates an Orchestrator and registers its completion hooks on ctrl.
func NewOrchestrator(client backend.Client, ctrl *lifecycle.Controller, memo cache.Cache, memoTTL time.Duration, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		client:  client,
		ctrl:    ctrl,
		memo:    memo,
		memoTTL: memoTTL,
		log:     log.With().Str("component", "validation").Logger(),
		tracks:  make(map[models.JobType]*trackState, len(Tracks)),
		byJob:   make(map[string]string),
	}
	for _, tr := range Tracks {
		o.tracks[tr] = &trackState{jobs: make(map[string]string)}
		ctrl.OnTerminal(tr, o.onJobDone)
	}
	return o
}

// ParseTrack maps a track name to its job type.
func ParseTrack(name string) (models.JobType, error) {
	for _, tr := range Tracks {
		if string(tr) == name {
			return tr, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownTrack, name)
}

// SelectDataset switches the shared dataset. Displayed results are cleared; running jobs keep
// polling in the background.
func (o *Orchestrator) SelectDataset(datasetID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.dataset == datasetID {
		return
	}
	o.dataset = datasetID
	for _, ts := range o.tracks {
		ts.result = nil
		ts.source = ""
		ts.err = ""
	}
}

// Dataset returns the selected dataset id.
func (o *Orchestrator) Dataset() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.dataset
}

// Load shows the track's result for the selected dataset, computing it only when neither the
// memo nor the server cache has one.
func (o *Orchestrator) Load(ctx context.Context, track models.JobType) (TrackState, error) {
	o.mu.Lock()
	ts, ok := o.tracks[track]
	if !ok {
		o.mu.Unlock()
		return TrackState{}, fmt.Errorf("%w: %s", ErrUnknownTrack, track)
	}
	ds := o.dataset
	if ds == "" {
		o.mu.Unlock()
		return TrackState{}, ErrNoDataset
	}
	if _, running := ts.jobs[ds]; running {
		st := o.stateLocked(track)
		o.mu.Unlock()
		return st, nil
	}
	o.mu.Unlock()

	if res, ok := o.memoGet(ctx, track, ds); ok {
		metrics.ValidationCacheCount.WithLabelValues(string(track), SourceMemo).Inc()
		return o.display(track, ds, res, SourceMemo), nil
	}

	// The lookup is shared by every concurrent Load, so it must not die with the first caller.
	v, err, _ := o.group.Do(string(track)+"/"+ds, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheLookupTimeout)
		defer cancel()
		res, found, err := o.client.CachedValidation(lctx, track, ds)
		if err != nil || !found {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		o.setError(track, ds, err)
		return o.State(track), err
	}
	if res, _ := v.(*models.CachedValidationResult); res != nil {
		metrics.ValidationCacheCount.WithLabelValues(string(track), SourceServer).Inc()
		o.memoSet(ctx, res)
		return o.display(track, ds, res, SourceServer), nil
	}

	metrics.ValidationCacheCount.WithLabelValues(string(track), "miss").Inc()
	return o.startJob(ctx, track, ds)
}

// Recompute invalidates both caches for the selected dataset and starts the track's job.
func (o *Orchestrator) Recompute(ctx context.Context, track models.JobType) (TrackState, error) {
	o.mu.Lock()
	ts, ok := o.tracks[track]
	if !ok {
		o.mu.Unlock()
		return TrackState{}, fmt.Errorf("%w: %s", ErrUnknownTrack, track)
	}
	ds := o.dataset
	if ds == "" {
		o.mu.Unlock()
		return TrackState{}, ErrNoDataset
	}
	ts.result = nil
	ts.source = ""
	ts.err = ""
	o.mu.Unlock()

	if err := o.client.DeleteCachedValidation(ctx, track, ds); err != nil {
		o.setError(track, ds, err)
		return o.State(track), fmt.Errorf("invalidating server cache: %w", err)
	}
	if err := o.memo.Delete(ctx, cache.ValidationResultKey(string(track), ds)); err != nil {
		o.log.Warn().Err(err).Str("track", string(track)).Msg("memo delete failed")
	}
	return o.startJob(ctx, track, ds)
}

// State returns the track's displayed state for the selected dataset.
func (o *Orchestrator) State(track models.JobType) TrackState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stateLocked(track)
}

// States returns every track's state in display order.
func (o *Orchestrator) States() []TrackState {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]TrackState, 0, len(Tracks))
	for _, tr := range Tracks {
		out = append(out, o.stateLocked(tr))
	}
	return out
}

// Close stops polling every validation job this orchestrator started.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	ids := make([]string, 0, len(o.byJob))
	for id := range o.byJob {
		ids = append(ids, id)
	}
	o.byJob = make(map[string]string)
	for _, ts := range o.tracks {
		ts.jobs = make(map[string]string)
	}
	o.mu.Unlock()

	for _, id := range ids {
		o.ctrl.Detach(id)
	}
}

func (o *Orchestrator) startJob(ctx context.Context, track models.JobType, ds string) (TrackState, error) {
	o.mu.Lock()
	ts := o.tracks[track]
	if _, running := ts.jobs[ds]; running {
		st := o.stateLocked(track)
		o.mu.Unlock()
		return st, nil
	}
	// Reserve the slot so concurrent loads do not start a second job.
	ts.jobs[ds] = ""
	o.mu.Unlock()

	id, err := o.client.CreateJob(ctx, track, map[string]any{"dataset_id": ds})
	if err != nil {
		o.mu.Lock()
		delete(ts.jobs, ds)
		o.mu.Unlock()
		o.setError(track, ds, err)
		return o.State(track), err
	}

	o.mu.Lock()
	ts.jobs[ds] = id
	o.byJob[id] = ds
	o.mu.Unlock()

	if err := o.ctrl.Track(track, id, fmt.Sprintf("%s for %s", track, ds)); err != nil {
		o.mu.Lock()
		delete(ts.jobs, ds)
		delete(o.byJob, id)
		o.mu.Unlock()
		o.setError(track, ds, err)
		return o.State(track), err
	}
	o.log.Info().Str("track", string(track)).Str("dataset_id", ds).Str("job_id", id).Msg("validation job started")
	return o.State(track), nil
}

// onJobDone is the lifecycle hook for every track.
func (o *Orchestrator) onJobDone(ctx context.Context, job models.Job) error {
	track := job.Type

	o.mu.Lock()
	ds, ok := o.byJob[job.ID]
	if ok {
		delete(o.byJob, job.ID)
		if ts := o.tracks[track]; ts.jobs[ds] == job.ID {
			delete(ts.jobs, ds)
		}
	}
	o.mu.Unlock()
	if !ok {
		return nil
	}

	switch job.Status {
	case models.JobStatusCompleted:
		var errs *multierror.Error
		res, found, err := o.client.CachedValidation(ctx, track, ds)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("re-reading server cache: %w", err))
		}
		if !found {
			res = resultFromJob(job, ds)
		}
		o.memoSet(ctx, res)
		o.display(track, ds, res, SourceJob)
		return errs.ErrorOrNil()
	case models.JobStatusFailed:
		o.setError(track, ds, errors.New(job.Error))
	}
	return nil
}

// display shows res if ds is still the selected dataset.
func (o *Orchestrator) display(track models.JobType, ds string, res *models.CachedValidationResult, source string) TrackState {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.dataset == ds {
		ts := o.tracks[track]
		ts.result = res
		ts.source = source
		ts.err = ""
	}
	return o.stateLocked(track)
}

func (o *Orchestrator) setError(track models.JobType, ds string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.dataset == ds {
		o.tracks[track].err = err.Error()
	}
}

// stateLocked must be called with mu held.
func (o *Orchestrator) stateLocked(track models.JobType) TrackState {
	ts := o.tracks[track]
	st := TrackState{
		Track:     track,
		DatasetID: o.dataset,
		Result:    ts.result,
		Source:    ts.source,
		Error:     ts.err,
	}
	if id, running := ts.jobs[o.dataset]; running {
		st.Running = true
		st.JobID = id
	}
	return st
}

func (o *Orchestrator) memoGet(ctx context.Context, track models.JobType, ds string) (*models.CachedValidationResult, bool) {
	b, found, err := o.memo.Get(ctx, cache.ValidationResultKey(string(track), ds))
	if err != nil {
		o.log.Warn().Err(err).Msg("memo read failed")
		return nil, false
	}
	if !found {
		return nil, false
	}
	var res models.CachedValidationResult
	if err := json.Unmarshal(b, &res); err != nil {
		o.log.Warn().Err(err).Msg("memo entry is corrupt")
		return nil, false
	}
	return &res, true
}

func (o *Orchestrator) memoSet(ctx context.Context, res *models.CachedValidationResult) {
	b, err := json.Marshal(res)
	if err != nil {
		o.log.Warn().Err(err).Msg("encoding memo entry failed")
		return
	}
	if err := o.memo.Set(ctx, cache.ValidationResultKey(string(res.Track), res.DatasetID), b, o.memoTTL); err != nil {
		o.log.Warn().Err(err).Msg("memo write failed")
	}
}

func resultFromJob(job models.Job, ds string) *models.CachedValidationResult {
	res := &models.CachedValidationResult{
		DatasetID:  ds,
		Track:      job.Type,
		ComputedAt: job.UpdatedAt,
		JobID:      job.ID,
	}
	if job.FinishedAt != nil {
		res.ComputedAt = *job.FinishedAt
	}
	if p, ok := job.Result["pillars"].(map[string]any); ok {
		res.Pillars = p
	}
	if s, ok := job.Result["summary"].(map[string]any); ok {
		res.Summary = s
	}
	if res.Pillars == nil && res.Summary == nil {
		res.Summary = job.Result
	}
	return res
}
