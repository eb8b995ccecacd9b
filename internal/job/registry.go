package job

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/models"
)

var (
	// ErrNotFound is returned for unknown or evicted job ids.
	ErrNotFound = errors.New("job not found")
	// ErrExists is returned when creating a job id twice.
	ErrExists = errors.New("job already exists")
	// ErrInvalidUpdate is returned when a mutator would break a job invariant.
	ErrInvalidUpdate = errors.New("invalid job update")
)

// DefaultRetention is how long a job is kept after creation.
const DefaultRetention = time.Hour

// Registry is the process-wide map of job id to job state.
type Registry struct {
	mu      sync.RWMutex
	jobs    map[string]*models.Job
	now     func() time.Time
	onEvict func(models.Job)
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithEvictHook is called (outside the lock) for every evicted job.
func WithEvictHook(fn func(models.Job)) Option {
	return func(r *Registry) { r.onEvict = fn }
}

// WithLogger sets the registry logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		jobs:   make(map[string]*models.Job),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(slog.String("component", "registry"))
	return r
}

// Create registers a new pending job.
func (r *Registry) Create(id string, total int) (models.Job, error) {
	if total < 0 {
		return models.Job{}, fmt.Errorf("%w: negative total %d", ErrInvalidUpdate, total)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[id]; ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrExists, id)
	}
	j := models.NewJob(id, total, r.now())
	r.jobs[id] = j
	return *j, nil
}

// Get returns a snapshot of the job.
func (r *Registry) Get(id string) (models.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *j, nil
}

// Update applies fn to a copy of the job and commits it if the result keeps
// completed within [0,total] and does not move a terminal job to another
// status. The whole read-modify-write runs under the registry lock.
func (r *Registry) Update(id string, fn func(j *models.Job)) (models.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.jobs[id]
	if !ok {
		return models.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	next := *cur
	fn(&next)

	if err := validateTransition(cur, &next); err != nil {
		return *cur, err
	}
	*cur = next
	return next, nil
}

func validateTransition(prev, next *models.Job) error {
	if next.ID != prev.ID {
		return fmt.Errorf("%w: id changed", ErrInvalidUpdate)
	}
	if next.Completed < 0 || next.Completed > next.Total {
		return fmt.Errorf("%w: completed %d outside [0,%d]", ErrInvalidUpdate, next.Completed, next.Total)
	}
	if next.Failed < 0 || next.Processed() > next.Total {
		return fmt.Errorf("%w: processed %d exceeds total %d", ErrInvalidUpdate, next.Processed(), next.Total)
	}
	if prev.Status.Terminal() && next.Status != prev.Status {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidUpdate, prev.Status, next.Status)
	}
	if prev.Status == models.JobStatusProcessing && next.Status == models.JobStatusPending {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidUpdate, prev.Status, next.Status)
	}
	return nil
}

// EvictExpired removes jobs created more than retention ago. Jobs that are
// still pending or processing are never evicted.
func (r *Registry) EvictExpired(now time.Time, retention time.Duration) []string {
	cutoff := now.Add(-retention)

	r.mu.Lock()
	var evicted []models.Job
	for id, j := range r.jobs {
		if !j.Status.Terminal() {
			continue
		}
		if j.StartedAt.Before(cutoff) {
			evicted = append(evicted, *j)
			delete(r.jobs, id)
		}
	}
	r.mu.Unlock()

	ids := make([]string, 0, len(evicted))
	for _, j := range evicted {
		ids = append(ids, j.ID)
		r.logger.Info("evicted job", slog.String("job", logging.ShortID(j.ID)), slog.String("status", string(j.Status)))
		if r.onEvict != nil {
			r.onEvict(j)
		}
	}
	return ids
}

// ActiveCount returns the number of pending or processing jobs.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, j := range r.jobs {
		if !j.Status.Terminal() {
			n++
		}
	}
	return n
}
