package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vidforge/composer-api/clients"
	"github.com/vidforge/composer-api/concat"
	"github.com/vidforge/composer-api/config"
	xerrors "github.com/vidforge/composer-api/errors"
	"github.com/vidforge/composer-api/imagefix"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/render"
	"github.com/vidforge/composer-api/scope"
	"github.com/vidforge/composer-api/transcript"
	"github.com/vidforge/composer-api/video"
)

const (
	StageValidate       = "validate"
	StageDownload       = "download"
	StageImageAuto      = "image_auto"
	StageAlignText      = "align_text"
	StageRenderSegments = "render_segments"
	StageConcatenate    = "concatenate"
	StageUpload         = "upload"
)

// Composer owns one wired instance of every pipeline component and turns job
// documents into final videos.
type Composer struct {
	cfg        *config.Cli
	prober     video.Prober
	downloader *Downloader
	fixer      *imagefix.Fixer
	aligner    *transcript.Aligner
	renderer   *render.Renderer
	concat     *concat.Concatenator
	uploader   *Uploader
}

func NewComposer(cfg *config.Cli) *Composer {
	prober := video.Probe{IgnoreErrMessages: cfg.ProbeIgnoreErrMessages}

	var llm clients.LLM
	if cfg.AIEnabled && cfg.AIEndpoint != nil {
		llm = clients.NewOpenAIClient(cfg.AIEndpoint, cfg.AIModel, cfg.AITimeout)
	}
	var searcher clients.ImageSearcher
	if cfg.ImageSearchEnabled() {
		searcher = clients.NewPexelsClient(cfg.ImageSearchURL, cfg.ImageSearchKey, cfg.DownloadTimeout)
	}
	var gentle clients.Aligner
	if cfg.AlignerEnabled() {
		gentle = clients.NewGentleAligner(cfg.AlignerURL, cfg.AlignerTimeout)
	}

	return &Composer{
		cfg:        cfg,
		prober:     prober,
		downloader: NewDownloader(cfg),
		fixer:      imagefix.NewFixer(cfg, prober, searcher, llm),
		aligner:    transcript.NewAligner(cfg, gentle, llm),
		renderer:   render.NewRenderer(cfg, prober),
		concat:     concat.NewConcatenator(cfg, prober),
		uploader:   NewUploader(cfg),
	}
}

// Result is what a finished job hands back to the caller.
type Result struct {
	URL     string                `json:"url"`
	Summary metrics.Summary       `json:"summary"`
	Records []metrics.StageRecord `json:"records,omitempty"`
}

// RunJob takes a raw job document through the full pipeline. The request's
// temp scope is always released, whatever happens; the deliverable has been
// moved or uploaded out of it by then.
func (c *Composer) RunJob(ctx context.Context, requestID string, payload []byte) (Result, error) {
	collector := metrics.NewCollector()
	sc := scope.New(requestID, c.cfg.CleanupRetryAttempts, c.cfg.CleanupRetryDelay)
	defer sc.Release()

	pc := NewContext(requestID, sc, collector)

	start := metrics.Clock.Now()
	err := c.buildPipeline(payload).Run(ctx, pc)
	metrics.Metrics.VideoPipelineDurationSec.
		WithLabelValues(fmt.Sprint(err == nil)).
		Observe(metrics.Clock.Since(start).Seconds())

	result := Result{
		URL:     pc.UploadURL(),
		Summary: collector.Summary(),
		Records: collector.Records(),
	}
	logSummary(requestID, result, err)
	return result, err
}

func (c *Composer) buildPipeline(payload []byte) *Pipeline {
	return NewPipeline(
		Stage{
			Name:     StageValidate,
			Produces: []Key{KeyJob},
			ErrKind:  xerrors.ValidationError,
			Run: func(ctx context.Context, pc *Context, span *metrics.Span) error {
				return c.validate(pc, payload)
			},
		},
		Stage{
			Name:     StageDownload,
			Requires: []Key{KeyJob},
			Produces: []Key{KeyDownloadedJob},
			ErrKind:  xerrors.DownloadError,
			Run: func(ctx context.Context, pc *Context, span *metrics.Span) error {
				j, err := c.downloader.Download(ctx, pc.RequestID, pc.Job(), pc.Scope)
				if err != nil {
					return err
				}
				span.AddItems(len(j.Assets()))
				return pc.SetDownloadedJob(j)
			},
		},
		Stage{
			Name:     StageImageAuto,
			Requires: []Key{KeyDownloadedJob},
			Condition: func(pc *Context) bool {
				return hasImageSegments(pc.DownloadedJob())
			},
			ErrKind: xerrors.ProcessingError,
			Run: func(ctx context.Context, pc *Context, span *metrics.Span) error {
				_, err := c.fixer.FixSegments(ctx, pc.RequestID, pc.DownloadedJob(), pc.Scope)
				return err
			},
		},
		Stage{
			Name:     StageAlignText,
			Requires: []Key{KeyDownloadedJob},
			Condition: func(pc *Context) bool {
				return hasVoiceContent(pc.DownloadedJob())
			},
			ErrKind: xerrors.ProcessingError,
			Run: func(ctx context.Context, pc *Context, span *metrics.Span) error {
				return c.alignText(ctx, pc)
			},
		},
		Stage{
			Name:     StageRenderSegments,
			Requires: []Key{KeyDownloadedJob},
			Produces: []Key{KeySegmentClips},
			ErrKind:  xerrors.ProcessingError,
			Run: func(ctx context.Context, pc *Context, span *metrics.Span) error {
				return c.renderSegments(ctx, pc, span)
			},
		},
		Stage{
			Name:     StageConcatenate,
			Requires: []Key{KeyDownloadedJob, KeySegmentClips},
			Produces: []Key{KeyFinalClipPath},
			ErrKind:  xerrors.ConcatenationError,
			Run: func(ctx context.Context, pc *Context, span *metrics.Span) error {
				final, err := c.concat.Concatenate(ctx, pc.RequestID, pc.DownloadedJob(), pc.Clips(), pc.Scope)
				if err != nil {
					return err
				}
				return pc.SetFinalClipPath(final)
			},
		},
		Stage{
			Name:     StageUpload,
			Requires: []Key{KeyFinalClipPath},
			Produces: []Key{KeyUploadURL},
			ErrKind:  xerrors.UploadError,
			Run: func(ctx context.Context, pc *Context, span *metrics.Span) error {
				uploadURL, err := c.uploader.Upload(ctx, pc.RequestID, pc.FinalClipPath())
				if err != nil {
					return err
				}
				return pc.SetUploadURL(uploadURL)
			},
		},
	)
}

func (c *Composer) validate(pc *Context, payload []byte) error {
	j, result := job.ValidateBytes(payload, job.Limits{DefaultImageDuration: c.cfg.VideoImageDuration})
	for _, warning := range result.Warnings {
		log.Log(pc.RequestID, "Job validation warning", "warning", warning)
	}
	if !result.OK {
		return fmt.Errorf("invalid job: %s", strings.Join(result.Errors, "; "))
	}
	log.Log(pc.RequestID, "Job validated", "segments", len(j.Segments), "warnings", len(result.Warnings))
	return pc.SetJob(j)
}

// alignText times caption overlays for every segment with voice content and
// appends them to the segment. Per-segment failures degrade inside the
// aligner; only cancellation escapes.
func (c *Composer) alignText(ctx context.Context, pc *Context) error {
	j := pc.DownloadedJob()
	for i := range j.Segments {
		seg := &j.Segments[i]
		if !seg.HasVoiceOver() || strings.TrimSpace(seg.VoiceOver.Content) == "" {
			continue
		}
		info, err := c.prober.ProbeAudio(pc.RequestID, seg.VoiceOver.Resolved())
		if err != nil {
			log.LogError(pc.RequestID, "Cannot probe voice-over for captions, skipping segment", err, "segment_id", seg.ID)
			continue
		}
		overlays, fellBack, err := c.aligner.TimeSpans(ctx, pc.RequestID, seg.VoiceOver, info.Duration)
		if err != nil {
			return err
		}
		seg.TextOver = append(seg.TextOver, overlays...)
		log.Log(pc.RequestID, "Timed voice-over captions", "segment_id", seg.ID,
			"spans", len(overlays), "uniform_fallback", fellBack)
	}
	return nil
}

// renderSegments fans the segments out over the bounded renderer pool. A
// failed segment is dropped from the cut unless strict mode is on; an empty
// cut is always fatal.
func (c *Composer) renderSegments(ctx context.Context, pc *Context, span *metrics.Span) error {
	j := pc.DownloadedJob()
	results, err := RunBatch(ctx, c.cfg.MaxConcurrentSegments, len(j.Segments), c.cfg.StrictMode,
		func(ctx context.Context, i int) (video.Clip, string, error) {
			seg := &j.Segments[i]
			clip, err := c.renderer.RenderSegment(ctx, pc.RequestID, i, seg, pc.Scope)
			if err != nil {
				err = xerrors.WrapSegment(StageRenderSegments, xerrors.ProcessingError, seg.ID, err)
			}
			return clip, seg.ID, err
		})
	span.AddItems(len(results))
	if err != nil {
		return err
	}

	clips := make([]video.Clip, 0, len(results))
	for _, r := range results {
		if r.Err != nil {
			log.LogError(pc.RequestID, "Segment failed to render, dropping it from the cut", r.Err, "segment_id", r.ID)
			continue
		}
		clips = append(clips, r.Value)
	}
	return pc.SetClips(clips)
}

func hasImageSegments(j *job.Job) bool {
	for i := range j.Segments {
		if j.Segments[i].UsesImage() {
			return true
		}
	}
	return false
}

func hasVoiceContent(j *job.Job) bool {
	for i := range j.Segments {
		seg := &j.Segments[i]
		if seg.HasVoiceOver() && strings.TrimSpace(seg.VoiceOver.Content) != "" {
			return true
		}
	}
	return false
}

func logSummary(requestID string, result Result, err error) {
	summary := result.Summary
	args := []any{
		"success", err == nil,
		"stages_total", summary.Total,
		"stages_failed", summary.Failed,
	}
	for stage, avg := range summary.AvgDurationByStage {
		args = append(args, "avg_"+stage, avg.Round(time.Millisecond))
	}
	if err != nil {
		args = append(args, "error_kind", string(xerrors.KindOf(err)), "failed_stage", xerrors.StageOf(err))
	}
	log.Log(requestID, "Pipeline finished", args...)
}
