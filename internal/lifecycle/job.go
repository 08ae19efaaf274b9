package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/kiranshivaraju/jobwatch/internal/metrics"
	"github.com/kiranshivaraju/jobwatch/internal/poller"
	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

const (
	// JobStatePending is a job that has been created but not yet observed by a poll.
	JobStatePending = "pending"
	// JobStateRunning is a job whose first poll has resolved.
	JobStateRunning = "running"
	// JobStateCompleted is a job the backend reported as completed.
	JobStateCompleted = "completed"
	// JobStateFailed is a job the backend reported as failed, or one that timed out locally.
	JobStateFailed = "failed"
	// JobStateCancelled is a cancelled job.
	JobStateCancelled = "cancelled"
)

const (
	JobEventRun      = "run"
	JobEventComplete = "complete"
	JobEventFail     = "fail"
	JobEventCancel   = "cancel"
)

// trackedJob is one job being polled by the Controller.
type trackedJob struct {
	id        string
	jobType   models.JobType
	startedAt time.Time

	FSM    *fsm.FSM
	poller *poller.Poller[*models.StatusResponse]
	log    zerolog.Logger

	// mu serializes poll handling against Cancel and Detach.
	mu       sync.Mutex
	finished bool
	detached bool
	done     chan struct{}
}

func newTrackedJob(id string, jobType models.JobType, description string, log zerolog.Logger) *trackedJob {
	lc := log.With().Str("job_id", id).Str("job_type", string(jobType))
	if description != "" {
		lc = lc.Str("description", description)
	}
	t := &trackedJob{
		id:        id,
		jobType:   jobType,
		startedAt: time.Now(),
		log:       lc.Logger(),
		done:      make(chan struct{}),
	}

	transitioned := func(ctx context.Context, e *fsm.Event) {
		metrics.JobTransitionCount.WithLabelValues(string(jobType), e.Dst).Inc()
		t.log.Debug().Str("from", e.Src).Str("to", e.Dst).Msg("job state changed")
	}

	t.FSM = fsm.NewFSM(
		JobStatePending,
		fsm.Events{
			{Name: JobEventRun, Src: []string{JobStatePending}, Dst: JobStateRunning},
			{Name: JobEventComplete, Src: []string{JobStatePending, JobStateRunning}, Dst: JobStateCompleted},
			{Name: JobEventFail, Src: []string{JobStatePending, JobStateRunning}, Dst: JobStateFailed},
			{Name: JobEventCancel, Src: []string{JobStatePending, JobStateRunning}, Dst: JobStateCancelled},
		},
		fsm.Callbacks{
			JobEventRun:      transitioned,
			JobEventComplete: transitioned,
			JobEventFail:     transitioned,
			JobEventCancel:   transitioned,
		},
	)
	return t
}

// terminalEvent maps a terminal backend status to the fsm event that reaches it.
func terminalEvent(s models.JobStatus) string {
	switch s {
	case models.JobStatusCompleted:
		return JobEventComplete
	case models.JobStatusFailed:
		return JobEventFail
	default:
		return JobEventCancel
	}
}
