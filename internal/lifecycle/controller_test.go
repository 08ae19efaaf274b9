package lifecycle

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/jobwatch/internal/backend"
	"github.com/kiranshivaraju/jobwatch/internal/registry"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

// --- mock backend ---

// scriptedClient replays a fixed sequence of status responses per job; the last one repeats.
type scriptedClient struct {
	backend.Client

	mu        sync.Mutex
	nextID    int
	scripts   map[string][]*models.StatusResponse
	errs      map[string]error
	polls     map[string]int
	cancelErr error
	cancels   atomic.Int32
}

func newScriptedClient() *scriptedClient {
	return &scriptedClient{
		scripts: make(map[string][]*models.StatusResponse),
		errs:    make(map[string]error),
		polls:   make(map[string]int),
	}
}

func (c *scriptedClient) script(id string, steps ...*models.StatusResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[id] = steps
}

func (c *scriptedClient) CreateJob(ctx context.Context, jobType models.JobType, params map[string]any) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	return fmt.Sprintf("j%d", c.nextID), nil
}

func (c *scriptedClient) JobStatus(ctx context.Context, jobType models.JobType, id string) (*models.StatusResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls[id]++
	if err := c.errs[id]; err != nil {
		return nil, err
	}
	steps := c.scripts[id]
	if len(steps) == 0 {
		return &models.StatusResponse{Status: models.JobStatusRunning}, nil
	}
	st := steps[0]
	if len(steps) > 1 {
		c.scripts[id] = steps[1:]
	}
	return st, nil
}

func (c *scriptedClient) CancelJob(ctx context.Context, jobType models.JobType, id string) error {
	c.cancels.Add(1)
	return c.cancelErr
}

func (c *scriptedClient) pollCount(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.polls[id]
}

// --- helpers ---

func running(p float64) *models.StatusResponse {
	return &models.StatusResponse{Status: models.JobStatusRunning, Progress: p}
}

func newTestController(t *testing.T, client backend.Client, opts Options) (*Controller, *registry.Registry) {
	t.Helper()
	if opts.Interval == 0 {
		opts.Interval = 10 * time.Millisecond
	}
	reg := registry.New()
	c := NewController(client, reg, nil, opts, zerolog.Nop())
	t.Cleanup(c.Close)
	return c, reg
}

func waitJob(t *testing.T, c *Controller, id string) models.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	job, err := c.Wait(ctx, id)
	require.NoError(t, err)
	return job
}

// --- completion ---

func TestTrainingJobCompletes_RefreshesModelsOnce(t *testing.T) {
	client := newScriptedClient()
	client.script("j1",
		running(40),
		&models.StatusResponse{
			Status:   models.JobStatusCompleted,
			Progress: 100,
			Result:   map[string]any{"models": []any{map[string]any{"id": "m1"}}},
		},
	)
	c, reg := newTestController(t, client, Options{})

	var refreshes atomic.Int32
	c.OnTerminal(models.JobTypeTraining, func(ctx context.Context, job models.Job) error {
		if job.Status == models.JobStatusCompleted {
			refreshes.Add(1)
		}
		return nil
	})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "train", nil)
	require.NoError(t, err)
	assert.Equal(t, "j1", id)

	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.NotNil(t, job.Result["models"])
	assert.Empty(t, job.Error)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), refreshes.Load())

	entry, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, entry.Status)
	assert.Empty(t, reg.ActiveJobs())
}

func TestTerminalStatusStopsPolling(t *testing.T) {
	client := newScriptedClient()
	client.script("j1", running(10), &models.StatusResponse{Status: models.JobStatusFailed, Error: "OOM"})
	c, _ := newTestController(t, client, Options{})

	id, err := c.Start(context.Background(), models.JobTypePreprocessing, "", nil)
	require.NoError(t, err)

	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Equal(t, "OOM", job.Error)
	assert.Nil(t, job.Result)

	polls := client.pollCount(id)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, polls, client.pollCount(id))
}

func TestFirstPollAlreadyTerminal(t *testing.T) {
	client := newScriptedClient()
	client.script("j1", &models.StatusResponse{Status: models.JobStatusCompleted, Progress: 100, Result: map[string]any{"dataset_id": "ds-9"}})
	c, _ := newTestController(t, client, Options{})

	id, err := c.Start(context.Background(), models.JobTypeDataGeneration, "", nil)
	require.NoError(t, err)

	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, "ds-9", job.Result["dataset_id"])
}

func TestStateMachine_PendingToRunning(t *testing.T) {
	client := newScriptedClient()
	c, _ := newTestController(t, client, Options{Interval: time.Hour})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		s, _ := c.State(id)
		return s == JobStateRunning
	}, time.Second, 5*time.Millisecond)
}

func TestBackendPendingMirroredAsRunning(t *testing.T) {
	client := newScriptedClient()
	client.script("j1", &models.StatusResponse{Status: models.JobStatusPending, CurrentStep: "queued"})
	c, reg := newTestController(t, client, Options{})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		j, _ := reg.Get(id)
		return j.CurrentStep == "queued"
	}, time.Second, 5*time.Millisecond)
	j, _ := reg.Get(id)
	assert.Equal(t, models.JobStatusRunning, j.Status)
	assert.Len(t, reg.ActiveJobs(), 1)
}

// --- transient errors ---

func TestTransientErrorsKeepPolling(t *testing.T) {
	client := newScriptedClient()
	client.errs["j1"] = backend.ErrBackendUnreachable
	c, reg := newTestController(t, client, Options{})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return client.pollCount(id) >= 3 }, time.Second, 5*time.Millisecond)
	j, _ := reg.Get(id)
	assert.Equal(t, models.JobStatusRunning, j.Status)
	assert.Empty(t, j.Error)

	client.mu.Lock()
	delete(client.errs, "j1")
	client.scripts["j1"] = []*models.StatusResponse{{Status: models.JobStatusCompleted}}
	client.mu.Unlock()

	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
}

// --- timeouts ---

func TestMaxAttemptsFailsJob(t *testing.T) {
	client := newScriptedClient()
	c, _ := newTestController(t, client, Options{MaxAttempts: 3})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, ErrPollTimeout.Error())
	assert.Equal(t, 3, client.pollCount(id))
}

func TestMaxDurationFailsJob(t *testing.T) {
	client := newScriptedClient()
	c, _ := newTestController(t, client, Options{MaxDuration: 40 * time.Millisecond})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusFailed, job.Status)
	assert.Contains(t, job.Error, "timed out")
}

// --- cancellation ---

func TestCancel_Optimistic(t *testing.T) {
	client := newScriptedClient()
	c, reg := newTestController(t, client, Options{CancelPolicy: CancelOptimistic})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	require.NoError(t, c.Cancel(context.Background(), id))
	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.Equal(t, int32(1), client.cancels.Load())

	polls := client.pollCount(id)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, polls, client.pollCount(id))
	assert.Empty(t, reg.ActiveJobs())
}

func TestCancel_ReconcileWaitsForBackend(t *testing.T) {
	client := newScriptedClient()
	c, reg := newTestController(t, client, Options{Interval: 20 * time.Millisecond})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)
	require.NoError(t, c.Cancel(context.Background(), id))

	j, _ := reg.Get(id)
	assert.True(t, j.CancelRequested)
	assert.Equal(t, models.JobStatusRunning, j.Status)

	client.script(id, &models.StatusResponse{Status: models.JobStatusCancelled})
	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
	assert.False(t, job.CancelRequested)
}

func TestCancel_ReconcileFallsBackWhenRequestFails(t *testing.T) {
	client := newScriptedClient()
	client.cancelErr = backend.ErrBackendUnreachable
	c, _ := newTestController(t, client, Options{CancelPolicy: CancelReconcile})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)
	require.NoError(t, c.Cancel(context.Background(), id))

	job := waitJob(t, c, id)
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestCancel_FinishedJobSendsNoRequest(t *testing.T) {
	client := newScriptedClient()
	client.script("j1", &models.StatusResponse{Status: models.JobStatusCompleted, Progress: 100})
	c, _ := newTestController(t, client, Options{})

	// Hold the job between its terminal transition and being forgotten.
	inHook := make(chan struct{})
	release := make(chan struct{})
	c.OnTerminal(models.JobTypeTraining, func(ctx context.Context, job models.Job) error {
		close(inHook)
		<-release
		return nil
	})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	select {
	case <-inHook:
	case <-time.After(time.Second):
		t.Fatal("terminal hook never ran")
	}
	err = c.Cancel(context.Background(), id)
	close(release)

	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, int32(0), client.cancels.Load())
}

func TestCancel_UntrackedJob(t *testing.T) {
	c, _ := newTestController(t, newScriptedClient(), Options{})
	err := c.Cancel(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestJobLogCarriesDescription(t *testing.T) {
	client := newScriptedClient()
	client.script("j1", &models.StatusResponse{Status: models.JobStatusCompleted, Progress: 100})

	var buf syncBuffer
	c := NewController(client, registry.New(), nil, Options{Interval: 5 * time.Millisecond}, zerolog.New(&buf))
	t.Cleanup(c.Close)

	id, err := c.Start(context.Background(), models.JobTypeTraining, "nightly retrain", nil)
	require.NoError(t, err)
	waitJob(t, c, id)

	assert.Contains(t, buf.String(), `"description":"nightly retrain"`)
}

// syncBuffer is a bytes.Buffer safe for the poller goroutine to log into.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// --- detach / close ---

func TestDetach_StopsPollingKeepsEntry(t *testing.T) {
	client := newScriptedClient()
	c, reg := newTestController(t, client, Options{})

	id, err := c.Start(context.Background(), models.JobTypeValidation, "", nil)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return client.pollCount(id) >= 2 }, time.Second, 5*time.Millisecond)

	c.Detach(id)
	polls := client.pollCount(id)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, polls, client.pollCount(id))
	assert.Equal(t, int32(0), client.cancels.Load())

	_, ok := reg.Get(id)
	assert.True(t, ok)

	_, err = c.Wait(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotTracked)
}

func TestWait_ReturnsDetachedError(t *testing.T) {
	client := newScriptedClient()
	c, _ := newTestController(t, client, Options{Interval: time.Hour})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Wait(context.Background(), id)
		errc <- err
	}()
	time.Sleep(20 * time.Millisecond)
	c.Detach(id)

	select {
	case err := <-errc:
		assert.True(t, errors.Is(err, ErrDetached))
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Detach")
	}
}

func TestClose_StopsEveryPoller(t *testing.T) {
	client := newScriptedClient()
	reg := registry.New()
	c := NewController(client, reg, nil, Options{Interval: 10 * time.Millisecond}, zerolog.Nop())

	var ids []string
	for _, jt := range []models.JobType{models.JobTypeValidation, models.JobTypeMethodologyValidation, models.JobTypeScientificValidation} {
		id, err := c.Start(context.Background(), jt, "", nil)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	assert.Eventually(t, func() bool { return client.pollCount(ids[2]) >= 1 }, time.Second, 5*time.Millisecond)

	c.Close()
	assert.Empty(t, c.Tracked())

	counts := make([]int, len(ids))
	for i, id := range ids {
		counts[i] = client.pollCount(id)
	}
	time.Sleep(50 * time.Millisecond)
	for i, id := range ids {
		assert.Equal(t, counts[i], client.pollCount(id))
	}
}

// --- hooks ---

func TestHookErrorsDoNotBlockOtherHooks(t *testing.T) {
	client := newScriptedClient()
	client.script("j1", &models.StatusResponse{Status: models.JobStatusCompleted})
	c, _ := newTestController(t, client, Options{})

	var second atomic.Bool
	c.OnTerminal(models.JobTypeTraining, func(ctx context.Context, job models.Job) error {
		return errors.New("refresh failed")
	})
	c.OnTerminal(models.JobTypeTraining, func(ctx context.Context, job models.Job) error {
		second.Store(true)
		return nil
	})

	id, err := c.Start(context.Background(), models.JobTypeTraining, "", nil)
	require.NoError(t, err)
	waitJob(t, c, id)
	assert.True(t, second.Load())
}

func TestTrack_UnknownType(t *testing.T) {
	c, _ := newTestController(t, newScriptedClient(), Options{})
	err := c.Track(models.JobType("deploy"), "x", "")
	assert.ErrorIs(t, err, backend.ErrUnknownJobType)
}
