package pipeline

import (
	"fmt"
	"sync"

	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/scope"
	"github.com/vidforge/composer-api/video"
)

// Key names a value flowing between stages.
type Key string

const (
	KeyJob           Key = "job"
	KeyDownloadedJob Key = "downloaded_job"
	KeySegmentClips  Key = "segment_clips"
	KeyFinalClipPath Key = "final_clip_path"
	KeyUploadURL     Key = "upload_url"
)

// Context is the shared state of one job run. Values are write-once and may
// only be written by the stage that declared them in its Produces set; the
// engine moves the write window between stages. Reads are unrestricted.
type Context struct {
	RequestID string
	Scope     *scope.ResourceScope
	Collector *metrics.Collector

	mu       sync.Mutex
	values   map[Key]any
	producer string
	writable map[Key]bool
}

func NewContext(requestID string, sc *scope.ResourceScope, collector *metrics.Collector) *Context {
	return &Context{
		RequestID: requestID,
		Scope:     sc,
		Collector: collector,
		values:    map[Key]any{},
	}
}

// beginStage opens the write window for one stage's declared keys.
func (c *Context) beginStage(name string, produces []Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.producer = name
	c.writable = make(map[Key]bool, len(produces))
	for _, k := range produces {
		c.writable[k] = true
	}
}

func (c *Context) endStage() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.producer = ""
	c.writable = nil
}

func (c *Context) set(k Key, v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.writable[k] {
		return fmt.Errorf("stage %q is not the producer of %q", c.producer, k)
	}
	if _, exists := c.values[k]; exists {
		return fmt.Errorf("value %q already written", k)
	}
	c.values[k] = v
	return nil
}

func (c *Context) get(k Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[k]
	return v, ok
}

func (c *Context) Has(k Key) bool {
	_, ok := c.get(k)
	return ok
}

func (c *Context) SetJob(j *job.Job) error           { return c.set(KeyJob, j) }
func (c *Context) SetDownloadedJob(j *job.Job) error { return c.set(KeyDownloadedJob, j) }
func (c *Context) SetClips(clips []video.Clip) error { return c.set(KeySegmentClips, clips) }
func (c *Context) SetFinalClipPath(p string) error   { return c.set(KeyFinalClipPath, p) }
func (c *Context) SetUploadURL(u string) error       { return c.set(KeyUploadURL, u) }

func (c *Context) Job() *job.Job {
	v, _ := c.get(KeyJob)
	j, _ := v.(*job.Job)
	return j
}

// DownloadedJob is the job with every asset materialized on disk. Stages
// past the downloader work on this copy, never on the submitted document.
func (c *Context) DownloadedJob() *job.Job {
	v, _ := c.get(KeyDownloadedJob)
	j, _ := v.(*job.Job)
	return j
}

func (c *Context) Clips() []video.Clip {
	v, _ := c.get(KeySegmentClips)
	clips, _ := v.([]video.Clip)
	return clips
}

func (c *Context) FinalClipPath() string {
	v, _ := c.get(KeyFinalClipPath)
	p, _ := v.(string)
	return p
}

func (c *Context) UploadURL() string {
	v, _ := c.get(KeyUploadURL)
	u, _ := v.(string)
	return u
}
