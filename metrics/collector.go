package metrics

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var Clock = clock.New()

// StageRecord is one stage invocation as seen by a job's Collector.
type StageRecord struct {
	Stage          string    `json:"stage"`
	StartedAt      time.Time `json:"started_at"`
	EndedAt        time.Time `json:"ended_at"`
	Success        bool      `json:"success"`
	ItemsProcessed int       `json:"items_processed,omitempty"`
	ErrorKind      string    `json:"error_kind,omitempty"`
}

func (r StageRecord) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

// Collector accumulates per-stage records for a single job. Appends are
// cheap and thread-safe so recording never competes with the stages
// themselves; the prometheus families are fed as records arrive.
type Collector struct {
	mu      sync.Mutex
	records []StageRecord
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Record(rec StageRecord) {
	c.mu.Lock()
	c.records = append(c.records, rec)
	c.mu.Unlock()

	Metrics.StageDurationSec.WithLabelValues(rec.Stage, fmt.Sprint(rec.Success)).Observe(rec.Duration().Seconds())
	if rec.ItemsProcessed > 0 {
		Metrics.StageItemsProcessed.WithLabelValues(rec.Stage).Add(float64(rec.ItemsProcessed))
	}
	if !rec.Success {
		Metrics.StageErrorCount.WithLabelValues(rec.Stage, rec.ErrorKind).Inc()
	}
}

// StartSpan opens a stage span; the returned Span must be ended exactly once.
func (c *Collector) StartSpan(stage string) *Span {
	return &Span{collector: c, stage: stage, startedAt: Clock.Now()}
}

type Span struct {
	collector *Collector
	stage     string
	startedAt time.Time
	items     int
}

// AddItems counts work items (assets downloaded, segments rendered) against
// the span.
func (s *Span) AddItems(n int) {
	s.items += n
}

func (s *Span) End(success bool, errorKind string) {
	s.collector.Record(StageRecord{
		Stage:          s.stage,
		StartedAt:      s.startedAt,
		EndedAt:        Clock.Now(),
		Success:        success,
		ItemsProcessed: s.items,
		ErrorKind:      errorKind,
	})
}

// Records returns a copy of everything recorded so far.
func (c *Collector) Records() []StageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]StageRecord, len(c.records))
	copy(out, c.records)
	return out
}

type Summary struct {
	Total              int                      `json:"total"`
	Successful         int                      `json:"successful"`
	Failed             int                      `json:"failed"`
	AvgDurationByStage map[string]time.Duration `json:"avg_duration_by_stage,omitempty"`
}

// Summary aggregates the collected records for the end-of-job log line and
// the status API.
func (c *Collector) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	sum := Summary{AvgDurationByStage: map[string]time.Duration{}}
	totals := map[string]time.Duration{}
	counts := map[string]int{}
	for _, rec := range c.records {
		sum.Total++
		if rec.Success {
			sum.Successful++
		} else {
			sum.Failed++
		}
		totals[rec.Stage] += rec.Duration()
		counts[rec.Stage]++
	}
	for stage, total := range totals {
		sum.AvgDurationByStage[stage] = total / time.Duration(counts[stage])
	}
	return sum
}
