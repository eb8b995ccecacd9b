// Package batch renders many documents in parallel chunks and bundles the
// results into a zip archive.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/docbatch/backend/internal/job"
	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/render"
)

// Publisher uploads a finished archive and returns a download URL.
type Publisher interface {
	Publish(ctx context.Context, name, localPath string) (string, error)
}

// Config tunes the coordinator.
type Config struct {
	MaxWorkers       int
	ChunkSize        int
	ArchiveDir       string
	CompressionLevel int // flate level, -1 for default
	Retention        time.Duration
}

// Coordinator owns batch jobs from submission to archive.
type Coordinator struct {
	registry  *job.Registry
	worker    *ChunkWorker
	cfg       Config
	publisher Publisher
	baseCtx   context.Context
	now       func() time.Time
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithPublisher uploads every archive after it is written.
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithBaseContext sets the context detached jobs run under. Cancelling it
// stops jobs between chunks.
func WithBaseContext(ctx context.Context) Option {
	return func(c *Coordinator) { c.baseCtx = ctx }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a coordinator.
func NewCoordinator(registry *job.Registry, worker *ChunkWorker, cfg Config, opts ...Option) *Coordinator {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = 1
	}
	if cfg.Retention <= 0 {
		cfg.Retention = job.DefaultRetention
	}
	c := &Coordinator{
		registry: registry,
		worker:   worker,
		cfg:      cfg,
		baseCtx:  context.Background(),
		now:      time.Now,
		logger:   logging.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(slog.String("component", "batch"))
	return c
}

// Workers returns the pool size.
func (c *Coordinator) Workers() int { return c.cfg.MaxWorkers }

// RenderOne renders a single item synchronously, without a job.
func (c *Coordinator) RenderOne(ctx context.Context, it Item) (*render.Document, error) {
	return c.worker.Render(ctx, it)
}

// EvictExpired drops finished jobs older than the retention window.
func (c *Coordinator) EvictExpired() []string {
	return c.registry.EvictExpired(c.now(), c.cfg.Retention)
}

// Submit registers a job and processes it in the background. The returned
// job is in the processing state.
func (c *Coordinator) Submit(ctx context.Context, items []Item) (models.Job, error) {
	snap, err := c.start(items)
	if err != nil {
		return models.Job{}, err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Run(c.baseCtx, snap.ID, items)
	}()
	return snap, nil
}

// Execute registers a job and processes it on the calling goroutine,
// returning the final job state.
func (c *Coordinator) Execute(ctx context.Context, items []Item) (models.Job, error) {
	snap, err := c.start(items)
	if err != nil {
		return models.Job{}, err
	}
	runErr := c.Run(ctx, snap.ID, items)
	final, err := c.registry.Get(snap.ID)
	if err != nil {
		return models.Job{}, err
	}
	return final, runErr
}

func (c *Coordinator) start(items []Item) (models.Job, error) {
	if len(items) == 0 {
		return models.Job{}, fmt.Errorf("%w: nothing to render", ErrNoOutputs)
	}
	c.EvictExpired()

	id := uuid.NewString()
	if _, err := c.registry.Create(id, len(items)); err != nil {
		return models.Job{}, err
	}
	snap, err := c.registry.Update(id, func(j *models.Job) { j.Status = models.JobStatusProcessing })
	if err != nil {
		return models.Job{}, err
	}

	c.logger.Info("batch submitted",
		slog.String("job", logging.ShortID(id)),
		slog.Int("documents", len(items)))
	return snap, nil
}

// Wait blocks until every submitted job has finished.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// Run processes items for an existing job and leaves it completed or in
// error. The returned error is the one recorded on the job.
func (c *Coordinator) Run(ctx context.Context, jobID string, items []Item) error {
	start := c.now()
	outputs := c.renderAll(ctx, jobID, items)
	defer removeOutputs(outputs)

	if err := ctx.Err(); err != nil {
		return c.fail(jobID, fmt.Errorf("cancelled: %w", err))
	}
	if len(outputs) == 0 {
		return c.fail(jobID, ErrNoOutputs)
	}

	name := ArchiveName(jobID)
	path := filepath.Join(c.cfg.ArchiveDir, name)
	if err := writeArchive(path, outputs, c.cfg.CompressionLevel); err != nil {
		return c.fail(jobID, err)
	}

	var url string
	if c.publisher != nil {
		u, err := c.publisher.Publish(ctx, name, path)
		if err != nil {
			c.logger.Warn("archive publish failed", slog.String("job", logging.ShortID(jobID)), slog.Any("error", err))
		} else {
			url = u
		}
	}

	now := c.now()
	snap, err := c.registry.Update(jobID, func(j *models.Job) {
		j.Status = models.JobStatusCompleted
		j.ArchivePath = path
		j.ArchiveURL = url
		j.FinishedAt = &now
		j.Remaining = 0
	})
	if err != nil {
		os.Remove(path)
		return err
	}

	c.logger.Info("batch completed",
		slog.String("job", logging.ShortID(jobID)),
		slog.Int("documents", snap.Completed),
		slog.Int("failed", snap.Failed),
		slog.Duration("elapsed", now.Sub(start)))
	return nil
}

// renderAll dispatches chunks onto the bounded pool and collects outputs in
// completion order.
func (c *Coordinator) renderAll(ctx context.Context, jobID string, items []Item) []Output {
	var (
		mu      sync.Mutex
		outputs []Output
	)

	g := new(errgroup.Group)
	g.SetLimit(c.cfg.MaxWorkers)

	for _, chunk := range Partition(items, c.cfg.ChunkSize) {
		if ctx.Err() != nil {
			c.logger.Warn("batch cancelled", slog.String("job", logging.ShortID(jobID)))
			break
		}
		chunk := chunk
		g.Go(func() error {
			outs := c.runChunk(ctx, jobID, chunk)

			mu.Lock()
			outputs = append(outputs, outs...)
			mu.Unlock()

			if _, err := c.registry.Update(jobID, func(j *models.Job) {
				j.RecordProgress(len(outs), len(chunk)-len(outs), c.now())
			}); err != nil {
				c.logger.Error("progress update rejected", slog.String("job", logging.ShortID(jobID)), slog.Any("error", err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return outputs
}

func (c *Coordinator) runChunk(ctx context.Context, jobID string, chunk []Item) (outs []Output) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("chunk panicked",
				slog.String("job", logging.ShortID(jobID)),
				slog.Int("first", chunk[0].Index),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			outs = nil
		}
	}()
	return c.worker.Run(ctx, chunk)
}

func (c *Coordinator) fail(jobID string, cause error) error {
	err := &BatchFatalError{JobID: jobID, Err: cause}
	now := c.now()
	if _, uerr := c.registry.Update(jobID, func(j *models.Job) {
		j.Status = models.JobStatusError
		j.Error = cause.Error()
		j.FinishedAt = &now
		j.Remaining = 0
	}); uerr != nil {
		c.logger.Error("failed to record batch error", slog.String("job", logging.ShortID(jobID)), slog.Any("error", uerr))
	}
	c.logger.Error("batch failed", slog.String("job", logging.ShortID(jobID)), slog.Any("error", cause))
	return err
}

// Partition splits items into consecutive chunks of at most size.
func Partition(items []Item, size int) [][]Item {
	if size < 1 {
		size = 1
	}
	chunks := make([][]Item, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		chunks = append(chunks, items[start:min(start+size, len(items))])
	}
	return chunks
}

// ArchiveName is the archive file name for a job.
func ArchiveName(jobID string) string {
	return "result_" + jobID + ".zip"
}

func removeOutputs(outputs []Output) {
	for _, o := range outputs {
		os.Remove(o.Path)
	}
}
