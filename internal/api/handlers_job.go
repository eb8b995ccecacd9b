// handlers_job.go - Job progress and download handlers
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/docbatch/backend/internal/batch"
	"github.com/docbatch/backend/internal/job"
	"github.com/docbatch/backend/internal/models"
)

// JobHandlerImpl implements the JobHandler interface
type JobHandlerImpl struct {
	jobs  JobSource
	batch BatchService
	now   func() time.Time
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobSource, svc BatchService) JobHandler {
	return &JobHandlerImpl{jobs: jobs, batch: svc, now: time.Now}
}

type progressResponse struct {
	JobID              string  `json:"job_id" msgpack:"job_id"`
	Total              int     `json:"total" msgpack:"total"`
	Completed          int     `json:"completed" msgpack:"completed"`
	Failed             int     `json:"failed" msgpack:"failed"`
	Status             string  `json:"status" msgpack:"status"`
	ElapsedTime        float64 `json:"elapsed_time" msgpack:"elapsed_time"`
	Rate               float64 `json:"rate" msgpack:"rate"`
	EstimatedRemaining float64 `json:"estimated_remaining" msgpack:"estimated_remaining"`
	Error              string  `json:"error,omitempty" msgpack:"error,omitempty"`
	DownloadURL        string  `json:"download_url,omitempty" msgpack:"download_url,omitempty"`
}

func (h *JobHandlerImpl) snapshot(j models.Job) progressResponse {
	resp := progressResponse{
		JobID:              j.ID,
		Total:              j.Total,
		Completed:          j.Completed,
		Failed:             j.Failed,
		Status:             string(j.Status),
		ElapsedTime:        round2(j.Elapsed(h.now()).Seconds()),
		Rate:               round2(j.Rate),
		EstimatedRemaining: round2(j.Remaining),
		Error:              j.Error,
	}
	if j.Status == models.JobStatusCompleted {
		resp.DownloadURL = j.ArchiveURL
		if resp.DownloadURL == "" {
			resp.DownloadURL = "/api/download/" + j.ID
		}
	}
	return resp
}

// HandleProgress returns the current job snapshot as JSON, or MessagePack
// when the client accepts application/msgpack.
func (h *JobHandlerImpl) HandleProgress(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}
	h.batch.EvictExpired()

	j, err := h.jobs.Get(id)
	if err != nil {
		return NewNotFoundError("job", id)
	}
	resp := h.snapshot(j)

	if strings.Contains(c.Request().Header.Get(echo.HeaderAccept), "application/msgpack") {
		data, err := msgpack.Marshal(&resp)
		if err != nil {
			return NewInternalError("failed to encode msgpack", err)
		}
		return c.Blob(http.StatusOK, "application/msgpack", data)
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleProgressStream streams job progress via SSE until the job finishes
func (h *JobHandlerImpl) HandleProgressStream(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	// Set SSE headers
	c.Response().Header().Set("Content-Type", "text/event-stream")
	c.Response().Header().Set("Cache-Control", "no-cache")
	c.Response().Header().Set("Connection", "keep-alive")
	c.Response().Header().Set("X-Accel-Buffering", "no")
	// the server write timeout would cut the stream long before its own limit
	_ = http.NewResponseController(c.Response().Writer).SetWriteDeadline(time.Time{})
	c.Response().WriteHeader(http.StatusOK)

	j, err := h.jobs.Get(id)
	if err != nil {
		h.sendSSEError(c, "job not found")
		return nil
	}
	h.sendSSEData(c, h.snapshot(j))
	if j.Status.Terminal() {
		return nil
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	timeout := time.NewTimer(5 * time.Minute)
	defer timeout.Stop()

	last := j
	for {
		select {
		case <-c.Request().Context().Done():
			return nil

		case <-ticker.C:
			j, err := h.jobs.Get(id)
			if err != nil {
				h.sendSSEError(c, "job not found")
				return nil
			}
			if j.Processed() == last.Processed() && j.Status == last.Status {
				continue
			}
			last = j
			h.sendSSEData(c, h.snapshot(j))
			if j.Status.Terminal() {
				return nil
			}

		case <-timeout.C:
			h.sendSSEError(c, "stream timeout")
			return nil
		}
	}
}

// HandleDownload serves the finished archive
func (h *JobHandlerImpl) HandleDownload(c echo.Context) error {
	id := c.Param("jobId")
	if id == "" {
		return NewValidationError("jobId")
	}

	j, err := h.jobs.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrNotFound) {
			return NewNotFoundError("job", id)
		}
		return NewInternalError("failed to load job", err)
	}
	if j.Status != models.JobStatusCompleted {
		return NewBadRequestError(fmt.Sprintf("job is %s, not completed", j.Status), nil)
	}
	if j.ArchivePath == "" {
		return NewNotFoundError("archive", id)
	}
	if _, err := os.Stat(j.ArchivePath); err != nil {
		return NewNotFoundError("archive", id)
	}
	return c.Attachment(j.ArchivePath, batch.ArchiveName(id))
}

func (h *JobHandlerImpl) sendSSEData(c echo.Context, data interface{}) {
	jsonData, _ := json.Marshal(data)
	fmt.Fprintf(c.Response(), "data: %s\n\n", jsonData)
	c.Response().Flush()
}

func (h *JobHandlerImpl) sendSSEError(c echo.Context, message string) {
	h.sendSSEData(c, map[string]string{"error": message})
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
