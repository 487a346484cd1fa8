package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/vidforge/composer-api/cache"
	"github.com/vidforge/composer-api/config"
	xerrors "github.com/vidforge/composer-api/errors"
	"github.com/vidforge/composer-api/log"
)

type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// How long a terminal entry stays queryable before it is dropped from the
// cache. Without this the coordinator would grow by one JobInfo per job for
// the life of the process.
const terminalJobRetention = 6 * time.Hour

// JobInfo tracks one submitted job from acceptance to its terminal state.
// Terminal entries stay in the cache for a retention window so the status
// API can answer after the fact.
type JobInfo struct {
	mu sync.Mutex

	RequestID   string    `json:"request_id"`
	Status      JobStatus `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
	URL         string    `json:"url,omitempty"`
	Error       string    `json:"error,omitempty"`
	ErrorKind   string    `json:"error_kind,omitempty"`

	Result *Result `json:"result,omitempty"`

	cancel context.CancelFunc
}

// Snapshot returns a copy safe to serialize while the job is still moving.
func (i *JobInfo) Snapshot() JobInfo {
	i.mu.Lock()
	defer i.mu.Unlock()
	return JobInfo{
		RequestID:   i.RequestID,
		Status:      i.Status,
		SubmittedAt: i.SubmittedAt,
		CompletedAt: i.CompletedAt,
		URL:         i.URL,
		Error:       i.Error,
		ErrorKind:   i.ErrorKind,
		Result:      i.Result,
	}
}

// Coordinator is the asynchronous surface over RunJob: it accepts jobs,
// tracks them in a cache and runs each on its own goroutine with its own
// cancellable context.
type Coordinator struct {
	Jobs *cache.Cache[*JobInfo]

	// the job body; swappable so coordinator tests need no real pipeline
	run func(ctx context.Context, requestID string, payload []byte) (Result, error)

	// zero means terminalJobRetention
	retainTerminal time.Duration
}

func NewCoordinator(cfg *config.Cli) *Coordinator {
	composer := NewComposer(cfg)
	return &Coordinator{
		Jobs:           cache.New[*JobInfo](),
		run:            composer.RunJob,
		retainTerminal: terminalJobRetention,
	}
}

// StartJob accepts a job document and returns immediately; the pipeline runs
// in the background under a context the status API can cancel.
func (c *Coordinator) StartJob(requestID string, payload []byte) *JobInfo {
	ctx, cancel := context.WithCancel(context.Background())
	info := &JobInfo{
		RequestID:   requestID,
		Status:      JobStatusRunning,
		SubmittedAt: time.Now(),
		cancel:      cancel,
	}
	c.Jobs.Store(requestID, info)
	log.AddContext(requestID, "job_segments_payload_bytes", len(payload))
	log.Log(requestID, "Accepted composition job", "payload_bytes", len(payload))

	go func() {
		result, err := recovered(func() (Result, error) {
			return c.run(ctx, requestID, payload)
		})
		c.finishJob(info, result, err)
	}()
	return info
}

// Status returns the tracked state of a job, or nil for unknown IDs.
func (c *Coordinator) Status(requestID string) *JobInfo {
	return c.Jobs.Get(requestID)
}

// Cancel requests cancellation of a running job. It reports whether the job
// existed and was still running.
func (c *Coordinator) Cancel(requestID string) bool {
	info := c.Jobs.Get(requestID)
	if info == nil {
		return false
	}
	info.mu.Lock()
	running := info.Status == JobStatusRunning
	cancel := info.cancel
	info.mu.Unlock()
	if running && cancel != nil {
		log.Log(requestID, "Cancelling composition job")
		cancel()
	}
	return running
}

func (c *Coordinator) finishJob(info *JobInfo, result Result, err error) {
	info.mu.Lock()
	info.CompletedAt = time.Now()
	info.Result = &result
	switch {
	case err == nil:
		info.Status = JobStatusCompleted
		info.URL = result.URL
	case xerrors.IsKind(err, xerrors.Cancelled):
		info.Status = JobStatusCancelled
		info.Error = err.Error()
		info.ErrorKind = string(xerrors.Cancelled)
	default:
		info.Status = JobStatusFailed
		info.Error = err.Error()
		info.ErrorKind = string(xerrors.KindOf(err))
	}
	status := info.Status
	info.cancel = nil
	info.mu.Unlock()

	took := time.Since(info.SubmittedAt)
	if err != nil {
		log.LogError(info.RequestID, "Composition job finished with error", err, "status", status, "took", took)
	} else {
		log.Log(info.RequestID, "Composition job finished", "status", status, "url", log.RedactURL(result.URL), "took", took)
	}
	// drop the request-scoped logger; the JobInfo entry stays for status
	// reads until the retention window runs out
	log.RemoveContext(info.RequestID)
	retention := c.retainTerminal
	if retention <= 0 {
		retention = terminalJobRetention
	}
	time.AfterFunc(retention, func() {
		c.Jobs.Remove(info.RequestID, info.RequestID)
	})
}
