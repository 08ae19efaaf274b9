// Package lifecycle drives backend jobs from creation to a terminal state. Each job gets its
// own poller and state machine; the registry mirrors what the polls observe.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/kiranshivaraju/jobwatch/internal/backend"
	"github.com/kiranshivaraju/jobwatch/internal/metrics"
	"github.com/kiranshivaraju/jobwatch/internal/poller"
	"github.com/kiranshivaraju/jobwatch/internal/registry"
	"github.com/kiranshivaraju/jobwatch/internal/store"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

var (
	ErrNotTracked      = errors.New("job is not tracked")
	ErrDetached        = errors.New("job was detached before reaching a terminal state")
	ErrAlreadyTerminal = errors.New("job already reached a terminal state")
	ErrPollTimeout     = errors.New("job polling timed out")
)

// CancelPolicy decides when a cancelled job leaves the running state.
type CancelPolicy string

const (
	// CancelReconcile keeps polling after the cancel request and transitions only when the
	// backend reports a terminal status.
	CancelReconcile CancelPolicy = "reconcile"
	// CancelOptimistic transitions to cancelled as soon as the cancel request was sent.
	CancelOptimistic CancelPolicy = "optimistic"
)

// TerminalHook runs once when a job of the registered type reaches a terminal state.
type TerminalHook func(ctx context.Context, job models.Job) error

// Options configures a Controller.
type Options struct {
	Interval     time.Duration
	MaxAttempts  int
	MaxDuration  time.Duration
	CancelPolicy CancelPolicy
}

// Controller owns every tracked job's poller.
type Controller struct {
	client   backend.Client
	registry *registry.Registry
	history  store.HistoryStore
	opts     Options
	log      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	hooksMu sync.RWMutex
	hooks   map[models.JobType][]TerminalHook

	mu   sync.Mutex
	jobs map[string]*trackedJob
}

// NewController creates a Controller. history may be nil.
func NewController(client backend.Client, reg *registry.Registry, history store.HistoryStore, opts Options, log zerolog.Logger) *Controller {
	if history == nil {
		history = store.NopStore{}
	}
	if opts.CancelPolicy == "" {
		opts.CancelPolicy = CancelReconcile
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		client:   client,
		registry: reg,
		history:  history,
		opts:     opts,
		log:      log.With().Str("component", "lifecycle").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		hooks:    make(map[models.JobType][]TerminalHook),
		jobs:     make(map[string]*trackedJob),
	}
}

// OnTerminal registers a hook for jobType. Hooks run in registration order, exactly once per job.
func (c *Controller) OnTerminal(jobType models.JobType, hook TerminalHook) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks[jobType] = append(c.hooks[jobType], hook)
}

// Start creates a job on the backend and begins polling it.
func (c *Controller) Start(ctx context.Context, jobType models.JobType, description string, params map[string]any) (string, error) {
	id, err := c.client.CreateJob(ctx, jobType, params)
	if err != nil {
		return "", err
	}
	if err := c.Track(jobType, id, description); err != nil {
		return "", err
	}
	c.log.Info().Str("job_id", id).Str("job_type", string(jobType)).Msg("job started")
	return id, nil
}

// Track begins polling a job that already exists on the backend.
func (c *Controller) Track(jobType models.JobType, id, description string) error {
	if !jobType.Valid() {
		return fmt.Errorf("%w: %s", backend.ErrUnknownJobType, jobType)
	}
	if _, err := c.registry.AddJob(id, jobType, description); err != nil {
		return err
	}

	t := newTrackedJob(id, jobType, description, c.log)
	fetch := func(ctx context.Context) (*models.StatusResponse, error) {
		return c.client.JobStatus(ctx, jobType, id)
	}
	t.poller = poller.New(c.opts.Interval, fetch, func(res poller.Result[*models.StatusResponse]) {
		c.handlePoll(t, res)
	})

	c.mu.Lock()
	c.jobs[id] = t
	c.mu.Unlock()

	metrics.ActiveJobs.WithLabelValues(string(jobType)).Inc()
	t.poller.Start(c.ctx)
	return nil
}

// Cancel asks the backend to cancel the job.
func (c *Controller) Cancel(ctx context.Context, id string) error {
	t, ok := c.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotTracked, id)
	}

	t.mu.Lock()
	settled := t.finished || t.detached
	t.mu.Unlock()
	if settled {
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, id)
	}

	cancelErr := c.client.CancelJob(ctx, t.jobType, id)
	if cancelErr != nil {
		t.log.Warn().Err(cancelErr).Msg("cancel request failed, cancelling locally")
	}

	// A poll may have finished the job while the request was out.
	t.mu.Lock()
	if t.finished || t.detached {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyTerminal, id)
	}

	if c.opts.CancelPolicy == CancelReconcile && cancelErr == nil {
		requested := true
		_, err := c.registry.UpdateJob(id, registry.JobUpdate{CancelRequested: &requested})
		t.mu.Unlock()
		if err != nil {
			return err
		}
		t.log.Info().Msg("cancel requested, waiting for backend confirmation")
		return nil
	}

	job, ok := c.finishLocked(t, models.JobStatusCancelled, nil, "")
	t.mu.Unlock()
	if ok {
		c.afterTerminal(t, job)
	}
	return nil
}

// Detach stops polling the job without contacting the backend. The registry entry is kept.
func (c *Controller) Detach(id string) {
	t, ok := c.lookup(id)
	if !ok {
		return
	}

	t.mu.Lock()
	if t.finished || t.detached {
		t.mu.Unlock()
		return
	}
	t.detached = true
	t.mu.Unlock()

	t.poller.Stop()
	c.forget(t)
	metrics.ActiveJobs.WithLabelValues(string(t.jobType)).Dec()
	close(t.done)
	t.log.Debug().Msg("job detached")
}

// Wait blocks until the job reaches a terminal state and returns its final registry entry.
func (c *Controller) Wait(ctx context.Context, id string) (models.Job, error) {
	t, ok := c.lookup(id)
	if !ok {
		if job, found := c.registry.Get(id); found && job.Status.IsTerminal() {
			return job, nil
		}
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotTracked, id)
	}

	select {
	case <-t.done:
	case <-ctx.Done():
		return models.Job{}, ctx.Err()
	}

	t.mu.Lock()
	detached := t.detached
	t.mu.Unlock()

	job, _ := c.registry.Get(id)
	if detached {
		return job, fmt.Errorf("%w: %s", ErrDetached, id)
	}
	return job, nil
}

// State returns the job's state machine state.
func (c *Controller) State(id string) (string, bool) {
	t, ok := c.lookup(id)
	if !ok {
		return "", false
	}
	return t.FSM.Current(), true
}

// Tracked returns the ids of every job currently being polled.
func (c *Controller) Tracked() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]string, 0, len(c.jobs))
	for id := range c.jobs {
		ids = append(ids, id)
	}
	return ids
}

// Close detaches every job and cancels hook contexts.
func (c *Controller) Close() {
	for _, id := range c.Tracked() {
		c.Detach(id)
	}
	c.cancel()
}

func (c *Controller) handlePoll(t *trackedJob, res poller.Result[*models.StatusResponse]) {
	t.mu.Lock()
	if t.finished || t.detached {
		t.mu.Unlock()
		return
	}

	job, finished := c.applyPoll(t, res)
	t.mu.Unlock()

	if finished {
		c.afterTerminal(t, job)
	}
}

// applyPoll must be called with t.mu held.
func (c *Controller) applyPoll(t *trackedJob, res poller.Result[*models.StatusResponse]) (models.Job, bool) {
	if res.Err != nil {
		metrics.PollCount.WithLabelValues(string(t.jobType), metrics.OutcomeFailure).Inc()
		t.log.Warn().Err(res.Err).Int("attempt", res.Attempts).Msg("status poll failed")
		return c.checkLimitsLocked(t, res.Attempts)
	}
	metrics.PollCount.WithLabelValues(string(t.jobType), metrics.OutcomeSuccess).Inc()

	st := res.Data
	if t.FSM.Is(JobStatePending) && !st.Status.IsTerminal() {
		if err := t.FSM.Event(context.Background(), JobEventRun); err != nil {
			t.log.Error().Err(err).Msg("job state transition failed")
		}
	}

	if st.Status.IsTerminal() {
		var result map[string]any
		var errMsg string
		switch st.Status {
		case models.JobStatusCompleted:
			result = st.Result
		case models.JobStatusFailed:
			errMsg = st.Error
		}
		progress := st.ProgressPercent()
		if _, err := c.registry.UpdateJob(t.id, registry.JobUpdate{
			Seq:         res.Seq,
			Progress:    &progress,
			CurrentStep: &st.CurrentStep,
		}); err != nil {
			t.log.Debug().Err(err).Msg("registry rejected poll update")
		}
		return c.finishLocked(t, st.Status, result, errMsg)
	}

	// A job the backend still lists as pending is already live from the registry's view.
	status := models.JobStatusRunning
	progress := st.ProgressPercent()
	if _, err := c.registry.UpdateJob(t.id, registry.JobUpdate{
		Seq:         res.Seq,
		Status:      &status,
		Progress:    &progress,
		CurrentStep: &st.CurrentStep,
	}); err != nil {
		t.log.Debug().Err(err).Msg("registry rejected poll update")
	}

	return c.checkLimitsLocked(t, res.Attempts)
}

// checkLimitsLocked fails the job locally once it exceeds the attempt or duration budget.
func (c *Controller) checkLimitsLocked(t *trackedJob, attempts int) (models.Job, bool) {
	var reason string
	switch {
	case c.opts.MaxAttempts > 0 && attempts >= c.opts.MaxAttempts:
		reason = fmt.Sprintf("%v: no terminal status after %d polls", ErrPollTimeout, attempts)
	case c.opts.MaxDuration > 0 && time.Since(t.startedAt) >= c.opts.MaxDuration:
		reason = fmt.Sprintf("%v: no terminal status after %s", ErrPollTimeout, c.opts.MaxDuration)
	default:
		return models.Job{}, false
	}
	t.log.Warn().Str("reason", reason).Msg("job timed out")
	return c.finishLocked(t, models.JobStatusFailed, nil, reason)
}

// finishLocked moves the job into a terminal state and stops its poller. It must be called
// with t.mu held and reports false if the job had already finished.
func (c *Controller) finishLocked(t *trackedJob, status models.JobStatus, result map[string]any, errMsg string) (models.Job, bool) {
	if t.finished {
		return models.Job{}, false
	}
	t.finished = true
	t.poller.Stop()

	if err := t.FSM.Event(context.Background(), terminalEvent(status)); err != nil {
		t.log.Error().Err(err).Msg("job state transition failed")
	}

	requested := false
	u := registry.JobUpdate{Status: &status, CancelRequested: &requested, Result: result}
	if status == models.JobStatusFailed {
		u.Error = &errMsg
	}
	job, err := c.registry.UpdateJob(t.id, u)
	if err != nil {
		t.log.Error().Err(err).Msg("recording terminal state failed")
		job, _ = c.registry.Get(t.id)
	}

	metrics.ActiveJobs.WithLabelValues(string(t.jobType)).Dec()
	evt := t.log.Info().Str("status", string(status))
	if errMsg != "" {
		evt = evt.Str("error", errMsg)
	}
	evt.Msg("job finished")
	return job, true
}

// afterTerminal archives the job and runs the terminal hooks, then releases waiters.
func (c *Controller) afterTerminal(t *trackedJob, job models.Job) {
	defer close(t.done)
	defer c.forget(t)

	hctx, cancel := context.WithTimeout(c.ctx, 30*time.Second)
	defer cancel()

	if err := c.history.RecordJob(hctx, job); err != nil {
		t.log.Warn().Err(err).Msg("archiving job failed")
	}

	c.hooksMu.RLock()
	hooks := append([]TerminalHook(nil), c.hooks[t.jobType]...)
	c.hooksMu.RUnlock()

	var result *multierror.Error
	for _, hook := range hooks {
		if err := hook(hctx, job); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		t.log.Warn().Err(err).Msg("terminal hooks failed")
	}
}

func (c *Controller) lookup(id string) (*trackedJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.jobs[id]
	return t, ok
}

func (c *Controller) forget(t *trackedJob) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.jobs[t.id] == t {
		delete(c.jobs, t.id)
	}
}
