package render

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/scope"
	"github.com/vidforge/composer-api/video"
)

// Renderer turns one segment at a time into a normalized intermediate clip.
// Instances are stateless and safe for concurrent use; the pipeline fans
// segments out across a single Renderer.
type Renderer struct {
	cfg    *config.Cli
	prober video.Prober
}

func NewRenderer(cfg *config.Cli, prober video.Prober) *Renderer {
	return &Renderer{cfg: cfg, prober: prober}
}

// RenderSegment renders segment index of the job into
// seg_<index>_<id>.mp4 under the request's temp scope. The clip duration is
// fully determined up front (transition-in + content + transition-out) so
// the concatenator never has to re-derive timing.
func (r *Renderer) RenderSegment(ctx context.Context, requestID string, index int, seg *job.Segment, sc *scope.ResourceScope) (video.Clip, error) {
	if err := ctx.Err(); err != nil {
		return video.Clip{}, err
	}
	if !seg.UsesVideo() && !seg.UsesImage() {
		return video.Clip{}, fmt.Errorf("segment %s has no visual source", seg.ID)
	}

	var voiceDuration float64
	if seg.HasVoiceOver() {
		info, err := r.prober.ProbeAudio(requestID, seg.VoiceOver.Resolved())
		if err != nil {
			return video.Clip{}, fmt.Errorf("failed to probe voice-over for segment %s: %w", seg.ID, err)
		}
		voiceDuration = info.Duration
	}

	var sourceDuration float64
	if seg.UsesVideo() {
		info, err := r.prober.ProbeFile(requestID, seg.Video.Resolved())
		if err != nil {
			return video.Clip{}, fmt.Errorf("failed to probe source video for segment %s: %w", seg.ID, err)
		}
		sourceDuration = info.Duration
	}

	p := newPlan(r.cfg, requestID, seg, voiceDuration, sourceDuration)
	if p.total() <= 0 {
		return video.Clip{}, fmt.Errorf("segment %s resolves to zero duration", seg.ID)
	}

	dir, err := sc.AcquireTemp()
	if err != nil {
		return video.Clip{}, err
	}
	dest := filepath.Join(dir, fmt.Sprintf("seg_%d_%s.mp4", index, seg.ID))

	log.Log(requestID, "Rendering segment", "segment_id", seg.ID, "index", index,
		"source", filepath.Base(p.visualPath), "duration", p.total(),
		"transition_in", p.in.kind, "transition_out", p.out.kind)

	start := metrics.Clock.Now()
	if err := runFFmpeg(requestID, dest, r.buildCommand(p, dest)); err != nil {
		return video.Clip{}, fmt.Errorf("failed to render segment %s: %w", seg.ID, err)
	}
	metrics.Metrics.SegmentRenderDurationSec.Observe(metrics.Clock.Since(start).Seconds())

	if err := video.VerifyOutput(dest); err != nil {
		return video.Clip{}, fmt.Errorf("render output for segment %s invalid: %w", seg.ID, err)
	}

	return video.Clip{
		SegmentID:            seg.ID,
		Path:                 dest,
		Duration:             p.total(),
		HasAudio:             true,
		TransitionInApplied:  p.in.applied(),
		TransitionOutApplied: p.out.applied(),
	}, nil
}

// buildCommand assembles the full ffmpeg invocation for one segment. Every
// clip gets an audio track, silence when there is no voice-over, so the
// concatenator always deals in uniform two-stream inputs.
func (r *Renderer) buildCommand(p plan, dest string) *ffmpeg.Stream {
	var visualIn *ffmpeg.Stream
	if p.useVideo {
		visualIn = ffmpeg.Input(p.visualPath)
	} else {
		visualIn = ffmpeg.Input(p.visualPath, ffmpeg.KwArgs{"loop": 1, "framerate": r.cfg.VideoFPS})
	}

	var audioIn *ffmpeg.Stream
	if p.voice != nil {
		audioIn = ffmpeg.Input(p.voice.Resolved()).Audio()
	} else {
		audioIn = ffmpeg.Input(r.silenceSource(), ffmpeg.KwArgs{"f": "lavfi"}).Audio()
	}

	v := applyFilters(visualIn.Video(), videoFilters(r.cfg, p))
	a := applyFilters(audioIn, audioFilters(p))

	return ffmpeg.Output([]*ffmpeg.Stream{v, a}, dest, ffmpeg.KwArgs{
		"c:v":      r.cfg.VideoCodec,
		"c:a":      r.cfg.AudioCodec,
		"b:a":      r.cfg.AudioBitrate,
		"ar":       r.cfg.AudioSampleRate,
		"ac":       r.cfg.AudioChannels,
		"t":        fsec(p.total()),
		"movflags": "+faststart",
	})
}

func (r *Renderer) silenceSource() string {
	layout := "mono"
	if r.cfg.AudioChannels >= 2 {
		layout = "stereo"
	}
	return fmt.Sprintf("anullsrc=channel_layout=%s:sample_rate=%d", layout, r.cfg.AudioSampleRate)
}

// runFFmpeg executes a prepared command. Swappable for tests.
var runFFmpeg = func(requestID, dest string, cmd *ffmpeg.Stream) error {
	var ffmpegErr bytes.Buffer
	if err := cmd.OverWriteOutput().WithErrorOutput(&ffmpegErr).Run(); err != nil {
		return fmt.Errorf("error running ffmpeg [%s]: %w", ffmpegErr.String(), err)
	}
	return nil
}
