package models

import "time"

// JobStatus represents the lifecycle state of a batch job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusError      JobStatus = "error"
)

// Terminal reports whether no further transitions are allowed.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// Job tracks one batch generation request.
type Job struct {
	ID          string     `json:"id" msgpack:"id"`
	Total       int        `json:"total" msgpack:"total"`
	Completed   int        `json:"completed" msgpack:"completed"`
	Failed      int        `json:"failed" msgpack:"failed"`
	Status      JobStatus  `json:"status" msgpack:"status"`
	StartedAt   time.Time  `json:"startedAt" msgpack:"startedAt"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty" msgpack:"finishedAt,omitempty"`
	Rate        float64    `json:"rate" msgpack:"rate"`                             // records per second
	Remaining   float64    `json:"estimatedRemaining" msgpack:"estimatedRemaining"` // seconds
	ArchivePath string     `json:"-" msgpack:"-"`
	ArchiveURL  string     `json:"archiveUrl,omitempty" msgpack:"archiveUrl,omitempty"`
	Error       string     `json:"error,omitempty" msgpack:"error,omitempty"`
}

// NewJob creates a Job in pending status.
func NewJob(id string, total int, now time.Time) *Job {
	return &Job{
		ID:        id,
		Total:     total,
		Status:    JobStatusPending,
		StartedAt: now,
	}
}

// Elapsed returns the time since the job started, frozen once it finishes.
func (j *Job) Elapsed(now time.Time) time.Duration {
	if j.FinishedAt != nil {
		return j.FinishedAt.Sub(j.StartedAt)
	}
	return now.Sub(j.StartedAt)
}

// RecordProgress adds ok rendered and failed skipped documents and
// recomputes rate and ETA over everything processed so far.
func (j *Job) RecordProgress(ok, failed int, now time.Time) {
	j.Completed += ok
	j.Failed += failed
	elapsed := now.Sub(j.StartedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	done := j.Completed + j.Failed
	j.Rate = float64(done) / elapsed
	if j.Rate > 0 {
		j.Remaining = float64(j.Total-done) / j.Rate
	} else {
		j.Remaining = 0
	}
}

// Processed is the number of documents attempted so far.
func (j *Job) Processed() int {
	return j.Completed + j.Failed
}
