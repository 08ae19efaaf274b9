package registry

import (
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/jobwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func status(s models.JobStatus) *models.JobStatus { return &s }
func intp(i int) *int                             { return &i }
func strp(s string) *string                       { return &s }

func TestAddJob(t *testing.T) {
	r := New()
	j, err := r.AddJob("j1", models.JobTypeTraining, "train xgboost")
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusRunning, j.Status)
	assert.Equal(t, 0, j.Progress)
	assert.Equal(t, "train xgboost", j.Description)
	assert.False(t, j.CreatedAt.IsZero())
}

func TestAddJob_Duplicate(t *testing.T) {
	r := New()
	_, err := r.AddJob("j1", models.JobTypeTraining, "")
	require.NoError(t, err)

	_, err = r.AddJob("j1", models.JobTypeTraining, "")
	assert.ErrorIs(t, err, ErrJobExists)
	assert.Len(t, r.List(), 1)
}

func TestUpdateJob_MergesSetFields(t *testing.T) {
	r := New()
	r.AddJob("j1", models.JobTypeTraining, "desc")

	_, err := r.UpdateJob("j1", JobUpdate{Progress: intp(40), CurrentStep: strp("fitting")})
	require.NoError(t, err)
	j, err := r.UpdateJob("j1", JobUpdate{Progress: intp(60)})
	require.NoError(t, err)

	assert.Equal(t, 60, j.Progress)
	assert.Equal(t, "fitting", j.CurrentStep)
	assert.Equal(t, "desc", j.Description)
	assert.Equal(t, models.JobStatusRunning, j.Status)
}

func TestUpdateJob_UnknownIDFails(t *testing.T) {
	r := New()
	_, err := r.UpdateJob("ghost", JobUpdate{Status: status(models.JobStatusCompleted)})
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, ok := r.Get("ghost")
	assert.False(t, ok)
}

func TestUpdateJob_RejectsStaleSequence(t *testing.T) {
	r := New()
	r.AddJob("j1", models.JobTypeTraining, "")

	_, err := r.UpdateJob("j1", JobUpdate{Seq: 5, Progress: intp(50)})
	require.NoError(t, err)

	_, err = r.UpdateJob("j1", JobUpdate{Seq: 3, Progress: intp(30)})
	assert.ErrorIs(t, err, ErrStaleUpdate)

	_, err = r.UpdateJob("j1", JobUpdate{Seq: 5, CurrentStep: strp("same poll")})
	assert.NoError(t, err)

	j, _ := r.Get("j1")
	assert.Equal(t, 50, j.Progress)
	assert.Equal(t, "same poll", j.CurrentStep)
}

func TestUpdateJob_UnsequencedAlwaysApplies(t *testing.T) {
	r := New()
	r.AddJob("j1", models.JobTypeTraining, "")
	r.UpdateJob("j1", JobUpdate{Seq: 9})

	_, err := r.UpdateJob("j1", JobUpdate{CancelRequested: boolp(true)})
	require.NoError(t, err)
	j, _ := r.Get("j1")
	assert.True(t, j.CancelRequested)
}

func TestUpdateJob_TerminalSetsFinishedAt(t *testing.T) {
	r := New()
	r.AddJob("j1", models.JobTypeTraining, "")

	j, err := r.UpdateJob("j1", JobUpdate{
		Status:   status(models.JobStatusFailed),
		Error:    strp("out of memory"),
		Progress: intp(150),
	})
	require.NoError(t, err)
	require.NotNil(t, j.FinishedAt)
	assert.Equal(t, "out of memory", j.Error)
	assert.Equal(t, 100, j.Progress)
}

func TestRemoveJob(t *testing.T) {
	r := New()
	r.AddJob("j1", models.JobTypeTraining, "")
	r.AddJob("j2", models.JobTypeTraining, "")

	require.NoError(t, r.RemoveJob("j1"))
	assert.ErrorIs(t, r.RemoveJob("j1"), ErrJobNotFound)

	list := r.List()
	require.Len(t, list, 1)
	assert.Equal(t, "j2", list[0].ID)
}

func TestActiveJobs_OnlyRunning(t *testing.T) {
	r := New()
	r.AddJob("a", models.JobTypeTraining, "")
	r.AddJob("b", models.JobTypePreprocessing, "")
	r.AddJob("c", models.JobTypeValidation, "")
	r.UpdateJob("b", JobUpdate{Status: status(models.JobStatusCompleted)})

	active := r.ActiveJobs()
	require.Len(t, active, 2)
	assert.Equal(t, "a", active[0].ID)
	assert.Equal(t, "c", active[1].ID)
}

func TestPrune(t *testing.T) {
	r := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return base }

	r.AddJob("old", models.JobTypeTraining, "")
	r.UpdateJob("old", JobUpdate{Status: status(models.JobStatusCompleted)})
	r.AddJob("live", models.JobTypeTraining, "")

	assert.Equal(t, 1, r.Prune(base.Add(time.Minute)))
	_, ok := r.Get("old")
	assert.False(t, ok)
	_, ok = r.Get("live")
	assert.True(t, ok)
}

func TestSubscribe_ReceivesEvents(t *testing.T) {
	r := New()
	ch, unsubscribe := r.Subscribe(8)
	defer unsubscribe()

	r.AddJob("j1", models.JobTypeTraining, "")
	r.UpdateJob("j1", JobUpdate{Progress: intp(10)})
	r.RemoveJob("j1")

	kinds := []EventKind{(<-ch).Kind, (<-ch).Kind, (<-ch).Kind}
	assert.Equal(t, []EventKind{EventAdded, EventUpdated, EventRemoved}, kinds)
}

func TestSubscribe_SlowSubscriberDoesNotBlock(t *testing.T) {
	r := New()
	_, unsubscribe := r.Subscribe(1)
	defer unsubscribe()

	r.AddJob("j1", models.JobTypeTraining, "")
	for i := 0; i < 5; i++ {
		r.UpdateJob("j1", JobUpdate{Progress: intp(i)})
	}
	assert.Equal(t, int64(5), r.Dropped())
}

func TestSubscribe_UnsubscribeClosesChannel(t *testing.T) {
	r := New()
	ch, unsubscribe := r.Subscribe(1)
	unsubscribe()
	unsubscribe()

	_, open := <-ch
	assert.False(t, open)
	r.AddJob("j1", models.JobTypeTraining, "")
}

func TestConcurrentUpdates(t *testing.T) {
	r := New()
	r.AddJob("j1", models.JobTypeTraining, "")

	var wg sync.WaitGroup
	for i := 1; i <= 50; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			r.UpdateJob("j1", JobUpdate{Seq: uint64(seq), Progress: intp(seq)})
		}(i)
	}
	wg.Wait()

	j, _ := r.Get("j1")
	assert.Equal(t, 50, j.Progress)
}

func boolp(b bool) *bool { return &b }
