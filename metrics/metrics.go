package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type ClientMetrics struct {
	RequestCount    *prometheus.CounterVec
	RetryCount      *prometheus.GaugeVec
	FailureCount    *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

type ComposerAPIMetrics struct {
	VideoRequestCount        prometheus.Counter
	VideoRequestDurationSec  *prometheus.SummaryVec
	VideoPipelineDurationSec *prometheus.SummaryVec

	StageDurationSec    *prometheus.HistogramVec
	StageErrorCount     *prometheus.CounterVec
	StageItemsProcessed *prometheus.CounterVec

	SegmentRenderDurationSec prometheus.Histogram
	DownloadedBytes          prometheus.Counter
	ImageAutoFixCount        *prometheus.CounterVec
	TransitionDegradedCount  *prometheus.CounterVec
	TranscriptFallbackCount  prometheus.Counter
	ConcatStrategyCount      *prometheus.CounterVec

	AlignerClient     ClientMetrics
	LLMClient         ClientMetrics
	ImageSearchClient ClientMetrics
	ObjectStoreClient ClientMetrics
}

// Stage work ranges from sub-second probes to multi-minute renders.
var stageDurationBuckets = []float64{.25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

func newClientMetrics(prefix string) ClientMetrics {
	return ClientMetrics{
		RequestCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_request_count",
			Help: "The total number of requests sent by the " + prefix + " client",
		}, []string{"host"}),
		RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: prefix + "_retry_count",
			Help: "The number of retries behind the last successful " + prefix + " request",
		}, []string{"host"}),
		FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "_failure_count",
			Help: "The total number of failed " + prefix + " requests",
		}, []string{"host", "status_code"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "_request_duration",
			Help:    "Time taken by " + prefix + " requests",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"host"}),
	}
}

func NewMetrics() *ComposerAPIMetrics {
	m := &ComposerAPIMetrics{
		// /api/video request metrics
		VideoRequestCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "video_request_count",
			Help: "The total number of requests to /api/video",
		}),
		VideoRequestDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "video_request_duration_seconds",
			Help: "The latency of the requests made to /api/video in seconds broken up by success and status code",
		}, []string{"success", "status_code"}),
		VideoPipelineDurationSec: promauto.NewSummaryVec(prometheus.SummaryOpts{
			Name: "video_pipeline_duration_seconds",
			Help: "The time that composition jobs take end to end, broken up by success",
		}, []string{"success"}),

		// Per-stage pipeline metrics
		StageDurationSec: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Time taken by each pipeline stage",
			Buckets: stageDurationBuckets,
		}, []string{"stage", "success"}),
		StageErrorCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_error_count",
			Help: "The total number of stage failures, broken up by error kind",
		}, []string{"stage", "error_kind"}),
		StageItemsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_stage_items_processed",
			Help: "The total number of items (assets, segments) each stage processed",
		}, []string{"stage"}),

		SegmentRenderDurationSec: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "segment_render_duration_seconds",
			Help:    "Time taken to render a single segment",
			Buckets: stageDurationBuckets,
		}),
		DownloadedBytes: promauto.NewCounter(prometheus.CounterOpts{
			Name: "download_bytes_total",
			Help: "The total number of asset bytes downloaded",
		}),
		ImageAutoFixCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "image_autofix_count",
			Help: "The total number of image auto-fix resolutions, broken up by how the replacement was found",
		}, []string{"action"}),
		TransitionDegradedCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "transition_degraded_count",
			Help: "The total number of unknown transitions degraded to the default fade",
		}, []string{"transition"}),
		TranscriptFallbackCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "transcript_fallback_count",
			Help: "The total number of segments that fell back to uniform span timing",
		}),
		ConcatStrategyCount: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "concat_strategy_count",
			Help: "The total number of concatenations, broken up by stream-copy vs re-encode",
		}, []string{"strategy"}),

		// Clients metrics
		AlignerClient:     newClientMetrics("aligner_client"),
		LLMClient:         newClientMetrics("llm_client"),
		ImageSearchClient: newClientMetrics("image_search_client"),

		// The object store client tracks its own operation label instead of
		// going through MonitorRequest.
		ObjectStoreClient: ClientMetrics{
			RetryCount: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "object_store_retry_count",
				Help: "The number of retries behind the last successful object store operation",
			}, []string{"host", "operation"}),
			FailureCount: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "object_store_failure_count",
				Help: "The total number of failed object store operations",
			}, []string{"host", "operation"}),
			RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "object_store_request_duration",
				Help:    "Time taken by object store operations",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			}, []string{"host", "operation"}),
		},
	}

	return m
}

var Metrics = NewMetrics()
