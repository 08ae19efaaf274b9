// Package registry holds the in-memory record of every job jobwatch is tracking.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already registered")
	ErrStaleUpdate = errors.New("stale job update")
)

// EventKind identifies a registry change.
type EventKind string

const (
	EventAdded   EventKind = "added"
	EventUpdated EventKind = "updated"
	EventRemoved EventKind = "removed"
)

// Event is delivered to subscribers after every mutation.
type Event struct {
	Kind EventKind
	Job  models.Job
}

// JobUpdate carries the fields to merge into an entry. Nil fields are left untouched.
// Seq is the poll sequence the update came from; zero means unsequenced.
type JobUpdate struct {
	Seq             uint64
	Status          *models.JobStatus
	Progress        *int
	CurrentStep     *string
	Result          map[string]any
	Error           *string
	CancelRequested *bool
}

type entry struct {
	job     models.Job
	lastSeq uint64
}

// Registry is the single store of job state. All writes go through its methods.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*entry
	order   []string
	subs    map[int]chan Event
	nextSub int
	dropped atomic.Int64
	now     func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		jobs: make(map[string]*entry),
		subs: make(map[int]chan Event),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// AddJob registers a job as running with zero progress.
func (r *Registry) AddJob(id string, jobType models.JobType, description string) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobExists, id)
	}
	now := r.now()
	e := &entry{job: models.Job{
		ID:          id,
		Type:        jobType,
		Description: description,
		Status:      models.JobStatusRunning,
		CreatedAt:   now,
		UpdatedAt:   now,
	}}
	r.jobs[id] = e
	r.order = append(r.order, id)
	r.publish(Event{Kind: EventAdded, Job: e.job})
	return e.job, nil
}

// UpdateJob shallow-merges u into the job. It fails for unknown ids and for updates whose
// sequence is older than the last applied one.
func (r *Registry) UpdateJob(id string, u JobUpdate) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if u.Seq != 0 {
		if u.Seq < e.lastSeq {
			return e.job, fmt.Errorf("%w: %s seq %d < %d", ErrStaleUpdate, id, u.Seq, e.lastSeq)
		}
		e.lastSeq = u.Seq
	}

	j := &e.job
	if u.Status != nil {
		j.Status = *u.Status
		if j.Status.IsTerminal() && j.FinishedAt == nil {
			t := r.now()
			j.FinishedAt = &t
		}
	}
	if u.Progress != nil {
		j.Progress = clamp(*u.Progress)
	}
	if u.CurrentStep != nil {
		j.CurrentStep = *u.CurrentStep
	}
	if u.Result != nil {
		j.Result = u.Result
	}
	if u.Error != nil {
		j.Error = *u.Error
	}
	if u.CancelRequested != nil {
		j.CancelRequested = *u.CancelRequested
	}
	j.UpdatedAt = r.now()

	r.publish(Event{Kind: EventUpdated, Job: *j})
	return *j, nil
}

// RemoveJob deletes the entry regardless of its status.
func (r *Registry) RemoveJob(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	delete(r.jobs, id)
	r.dropFromOrder(id)
	r.publish(Event{Kind: EventRemoved, Job: e.job})
	return nil
}

// Get returns a copy of the job.
func (r *Registry) Get(id string) (models.Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.jobs[id]
	if !ok {
		return models.Job{}, false
	}
	return e.job, true
}

// List returns every job in creation order.
func (r *Registry) List() []models.Job {
	return r.filter(func(models.Job) bool { return true })
}

// ActiveJobs returns the jobs whose status is running.
func (r *Registry) ActiveJobs() []models.Job {
	return r.filter(func(j models.Job) bool { return j.Status == models.JobStatusRunning })
}

// Prune removes terminal jobs that finished before cutoff and returns how many were removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, id := range append([]string(nil), r.order...) {
		j := r.jobs[id].job
		if j.Status.IsTerminal() && j.FinishedAt != nil && j.FinishedAt.Before(cutoff) {
			delete(r.jobs, id)
			r.dropFromOrder(id)
			r.publish(Event{Kind: EventRemoved, Job: j})
			n++
		}
	}
	return n
}

// Subscribe returns a channel of change events and a function that ends the subscription.
// A subscriber that falls behind by more than buffer events misses events.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
			close(ch)
		})
	}
}

// Dropped returns the number of events not delivered to slow subscribers.
func (r *Registry) Dropped() int64 {
	return r.dropped.Load()
}

func (r *Registry) filter(keep func(models.Job) bool) []models.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Job, 0, len(r.order))
	for _, id := range r.order {
		if j := r.jobs[id].job; keep(j) {
			out = append(out, j)
		}
	}
	return out
}

// publish must be called with mu held.
func (r *Registry) publish(ev Event) {
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.dropped.Add(1)
		}
	}
}

func (r *Registry) dropFromOrder(id string) {
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
