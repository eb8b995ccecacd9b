package job

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/docbatch/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_CreateAndGet(t *testing.T) {
	r := NewRegistry()

	j, err := r.Create("job-1", 7)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, j.Status)
	assert.Equal(t, 7, j.Total)

	got, err := r.Get("job-1")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)

	_, err = r.Create("job-1", 3)
	assert.True(t, errors.Is(err, ErrExists))
}

func TestRegistry_GetUnknown(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("never-created")
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = r.Update("never-created", func(j *models.Job) {})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestRegistry_SnapshotIsCopy(t *testing.T) {
	r := NewRegistry()
	_, err := r.Create("job-1", 2)
	require.NoError(t, err)

	snap, _ := r.Get("job-1")
	snap.Completed = 2

	got, _ := r.Get("job-1")
	assert.Equal(t, 0, got.Completed)
}

func TestRegistry_UpdateInvariants(t *testing.T) {
	tests := []struct {
		name    string
		start   models.JobStatus
		mutate  func(j *models.Job)
		wantErr bool
	}{
		{
			name:   "increment within total",
			start:  models.JobStatusProcessing,
			mutate: func(j *models.Job) { j.Completed += 2 },
		},
		{
			name:    "completed beyond total",
			start:   models.JobStatusProcessing,
			mutate:  func(j *models.Job) { j.Completed = 4 },
			wantErr: true,
		},
		{
			name:    "failures push past total",
			start:   models.JobStatusProcessing,
			mutate:  func(j *models.Job) { j.RecordProgress(2, 2, time.Now()) },
			wantErr: true,
		},
		{
			name:    "completed back to processing",
			start:   models.JobStatusCompleted,
			mutate:  func(j *models.Job) { j.Status = models.JobStatusProcessing },
			wantErr: true,
		},
		{
			name:    "error to completed",
			start:   models.JobStatusError,
			mutate:  func(j *models.Job) { j.Status = models.JobStatusCompleted },
			wantErr: true,
		},
		{
			name:    "processing back to pending",
			start:   models.JobStatusProcessing,
			mutate:  func(j *models.Job) { j.Status = models.JobStatusPending },
			wantErr: true,
		},
		{
			name:   "terminal job can still record a url",
			start:  models.JobStatusCompleted,
			mutate: func(j *models.Job) { j.ArchiveURL = "https://example/x.zip" },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			_, err := r.Create("j", 3)
			require.NoError(t, err)
			_, err = r.Update("j", func(j *models.Job) { j.Status = tt.start })
			require.NoError(t, err)

			before, _ := r.Get("j")
			_, err = r.Update("j", tt.mutate)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidUpdate), "got %v", err)
				after, _ := r.Get("j")
				assert.Equal(t, before, after, "rejected update must not be committed")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_ConcurrentIncrements(t *testing.T) {
	r := NewRegistry()
	const workers = 50
	const perWorker = 20
	_, err := r.Create("j", workers*perWorker)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := r.Update("j", func(j *models.Job) { j.RecordProgress(1, 0, time.Now()) })
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	got, _ := r.Get("j")
	assert.Equal(t, workers*perWorker, got.Completed)
}

func TestRegistry_EvictExpired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := now.Add(-2 * time.Hour)

	var evicted []string
	r := NewRegistry(
		WithClock(func() time.Time { return clock }),
		WithEvictHook(func(j models.Job) { evicted = append(evicted, j.ID) }),
	)

	_, _ = r.Create("old-done", 1)
	_, _ = r.Update("old-done", func(j *models.Job) { j.Status = models.JobStatusCompleted })
	_, _ = r.Create("old-error", 1)
	_, _ = r.Update("old-error", func(j *models.Job) { j.Status = models.JobStatusError })
	_, _ = r.Create("old-running", 1)
	_, _ = r.Update("old-running", func(j *models.Job) { j.Status = models.JobStatusProcessing })

	clock = now
	_, _ = r.Create("fresh", 1)
	_, _ = r.Update("fresh", func(j *models.Job) { j.Status = models.JobStatusCompleted })

	ids := r.EvictExpired(now, DefaultRetention)

	assert.ElementsMatch(t, []string{"old-done", "old-error"}, ids)
	assert.ElementsMatch(t, ids, evicted)

	_, err := r.Get("old-done")
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = r.Get("old-running")
	assert.NoError(t, err, "running jobs are never evicted")
	_, err = r.Get("fresh")
	assert.NoError(t, err)
	assert.Equal(t, 1, r.ActiveCount())
}
