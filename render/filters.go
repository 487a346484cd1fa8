package render

import (
	"fmt"
	"math"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/video"
)

// Filter is one node of the per-segment filter chain, kept as data so the
// planning layer stays pure and testable without running ffmpeg.
type Filter struct {
	Name   string
	Args   ffmpeg.Args
	KwArgs ffmpeg.KwArgs
}

func (f Filter) apply(s *ffmpeg.Stream) *ffmpeg.Stream {
	if f.KwArgs == nil {
		return s.Filter(f.Name, f.Args)
	}
	return s.Filter(f.Name, f.Args, f.KwArgs)
}

func applyFilters(s *ffmpeg.Stream, filters []Filter) *ffmpeg.Stream {
	for _, f := range filters {
		s = f.apply(s)
	}
	return s
}

// transition is a segment edge after degrade: only the supported fade
// variants survive, and cuts carry zero duration.
type transition struct {
	kind     string
	duration float64
}

func (t transition) applied() bool { return t.duration > 0 }

// fadeColor maps the transition kind onto the fade filter's color parameter.
// Plain fade and fadeblack are both black; the distinction only matters for
// fadewhite.
func (t transition) fadeColor() string {
	if t.kind == job.TransitionFadeWhite {
		return "white"
	}
	return "black"
}

// resolveTransition applies the degrade-never-reject policy: unknown types
// become a basic fade of the same duration, cuts and absent transitions
// contribute nothing.
func resolveTransition(requestID, segmentID string, t *job.Transition) transition {
	if t == nil || t.Type == job.TransitionCut || t.Duration <= 0 {
		return transition{kind: job.TransitionCut}
	}
	if !job.IsKnownTransition(t.Type) {
		log.Log(requestID, "Unknown transition type, degrading to fade",
			"segment_id", segmentID, "transition", t.Type, "duration", t.Duration)
		metrics.Metrics.TransitionDegradedCount.WithLabelValues(t.Type).Inc()
		return transition{kind: job.TransitionFade, duration: t.Duration}
	}
	return transition{kind: t.Type, duration: t.Duration}
}

// plan holds every number the filter builders need for one segment. All
// timing is additive: in.duration + content + out.duration, with the content
// (visual and voice) offset by in.duration.
type plan struct {
	segmentID  string
	useVideo   bool
	visualPath string

	voice         *job.AudioRef
	voiceDuration float64

	// probed duration of the source video; zero for the image branch
	sourceDuration float64

	content  float64
	in, out  transition
	overlays []job.TextOverlay
}

// Total is the duration of the rendered intermediate clip.
func (p plan) total() float64 {
	return p.in.duration + p.content + p.out.duration
}

// contentDelay is the offset of the voice audio relative to the clip start.
// Text overlay windows already carry the voice start delay (the aligner
// measures from the segment content start), so they shift by in.duration
// only; see videoFilters.
func (p plan) contentDelay() float64 {
	delay := p.in.duration
	if p.voice != nil {
		delay += p.voice.StartDelay
	}
	return delay
}

// newPlan computes the segment's timing. The content duration is bound to
// the voice-over chain when one exists; otherwise images get the configured
// default and videos keep their probed duration.
func newPlan(cfg *config.Cli, requestID string, seg *job.Segment, voiceDuration, sourceDuration float64) plan {
	p := plan{
		segmentID:      seg.ID,
		useVideo:       seg.UsesVideo(),
		voiceDuration:  voiceDuration,
		sourceDuration: sourceDuration,
		in:             resolveTransition(requestID, seg.ID, seg.TransitionIn),
		out:            resolveTransition(requestID, seg.ID, seg.TransitionOut),
		overlays:       seg.TextOver,
	}
	if p.useVideo {
		p.visualPath = seg.Video.Resolved()
	} else {
		p.visualPath = seg.Image.Resolved()
	}
	if seg.HasVoiceOver() {
		p.voice = seg.VoiceOver
		p.content = seg.VoiceOver.StartDelay + voiceDuration + seg.VoiceOver.EndDelay
	} else if p.useVideo {
		p.content = sourceDuration
	} else {
		p.content = cfg.VideoImageDuration
	}
	return p
}

// videoFilters builds the visual chain: normalize to the target canvas, hold
// frames to honor additive transition timing, fade the edges, then burn in
// the text overlays.
func videoFilters(cfg *config.Cli, p plan) []Filter {
	filters := []Filter{
		{Name: "scale", Args: ffmpeg.Args{fmt.Sprintf("%d:%d", cfg.VideoWidth, cfg.VideoHeight)},
			KwArgs: ffmpeg.KwArgs{"force_original_aspect_ratio": "decrease"}},
		{Name: "pad", Args: ffmpeg.Args{fmt.Sprintf("%d:%d:(ow-iw)/2:(oh-ih)/2", cfg.VideoWidth, cfg.VideoHeight)}},
		{Name: "fps", Args: ffmpeg.Args{strconv.Itoa(cfg.VideoFPS)}},
		{Name: "format", Args: ffmpeg.Args{cfg.VideoPixelFormat}},
	}

	if p.useVideo {
		// The source plays inside [in.duration, in.duration+content]; clone
		// the first frame under the fade-in and the last frame to cover any
		// shortfall plus the fade-out.
		if p.in.applied() {
			filters = append(filters, Filter{Name: "tpad",
				KwArgs: ffmpeg.KwArgs{"start_mode": "clone", "start_duration": fsec(p.in.duration)}})
		}
		if tail := p.total() - p.in.duration - p.sourceDuration; tail > 0 {
			filters = append(filters, Filter{Name: "tpad",
				KwArgs: ffmpeg.KwArgs{"stop_mode": "clone", "stop_duration": fsec(tail)}})
		}
	}

	if p.in.applied() {
		filters = append(filters, Filter{Name: "fade",
			KwArgs: ffmpeg.KwArgs{"t": "in", "st": "0", "d": fsec(p.in.duration), "color": p.in.fadeColor()}})
	}
	if p.out.applied() {
		filters = append(filters, Filter{Name: "fade",
			KwArgs: ffmpeg.KwArgs{"t": "out", "st": fsec(p.in.duration + p.content), "d": fsec(p.out.duration), "color": p.out.fadeColor()}})
	}

	for _, overlay := range p.overlays {
		filters = append(filters, drawtextFilter(cfg, overlay, p.in.duration))
	}
	return filters
}

// audioFilters builds the voice chain: shift under the fade-in and start
// delay, normalize loudness, pad the tail out to the clip duration, and
// mirror the video fades. The caller bounds the result with the output -t.
func audioFilters(p plan) []Filter {
	var filters []Filter
	if p.voice != nil {
		if delay := p.contentDelay(); delay > 0 {
			ms := int(math.Round(delay * 1000))
			filters = append(filters, Filter{Name: "adelay", Args: ffmpeg.Args{fmt.Sprintf("%d|%d", ms, ms)}})
		}
		filters = append(filters,
			Filter{Name: "loudnorm", KwArgs: ffmpeg.KwArgs{"I": "-8", "TP": "-0.5", "LRA": "5"}},
			Filter{Name: "volume", Args: ffmpeg.Args{"2.0"}},
			Filter{Name: "apad"},
		)
	}
	if p.in.applied() {
		filters = append(filters, Filter{Name: "afade",
			KwArgs: ffmpeg.KwArgs{"t": "in", "st": "0", "d": fsec(p.in.duration)}})
	}
	if p.out.applied() {
		filters = append(filters, Filter{Name: "afade",
			KwArgs: ffmpeg.KwArgs{"t": "out", "st": fsec(p.in.duration + p.content), "d": fsec(p.out.duration)}})
	}
	return filters
}

// positionExpr maps the overlay's named position onto drawtext x/y
// expressions. Unknown names land in the lower third, which is where
// caption-style overlays belong.
func positionExpr(position string) (x, y string) {
	switch position {
	case "top":
		return "(w-text_w)/2", "h/10"
	case "center":
		return "(w-text_w)/2", "(h-text_h)/2"
	default:
		return "(w-text_w)/2", "h-(h/5)-text_h"
	}
}

func drawtextFilter(cfg *config.Cli, overlay job.TextOverlay, delay float64) Filter {
	font := overlay.Font
	if font == "" {
		font = cfg.TextFont
	}
	size := overlay.Size
	if size == 0 {
		size = cfg.TextFontSize
	}
	color := overlay.Color
	if color == "" {
		color = cfg.TextFontColor
	}
	x, y := positionExpr(overlay.Position)

	kwargs := ffmpeg.KwArgs{
		"text":      video.EscapeDrawtext(overlay.Text),
		"font":      font,
		"fontsize":  size,
		"fontcolor": color,
		"x":         x,
		"y":         y,
		"enable":    fmt.Sprintf(`between(t,%s,%s)`, fsec(overlay.Start+delay), fsec(overlay.End+delay)),
	}
	if overlay.Box {
		kwargs["box"] = 1
		kwargs["boxcolor"] = "black@0.5"
		kwargs["boxborderw"] = 10
	}
	return Filter{Name: "drawtext", KwArgs: kwargs}
}

// fsec is shorthand for the shared filter-parameter time format.
func fsec(seconds float64) string {
	return video.FormatSeconds(seconds)
}
