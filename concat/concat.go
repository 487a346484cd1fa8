package concat

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/scope"
	"github.com/vidforge/composer-api/video"
)

const (
	strategyStreamCopy = "stream_copy"
	strategyReEncode   = "re_encode"

	// Background music shorter than this is inaudible; skip the mix pass.
	minMusicDuration = 0.1
)

// Concatenator joins rendered segment clips into the final video and mixes
// in optional background music.
type Concatenator struct {
	cfg    *config.Cli
	prober video.Prober
}

func NewConcatenator(cfg *config.Cli, prober video.Prober) *Concatenator {
	return &Concatenator{cfg: cfg, prober: prober}
}

// Concatenate joins the clips in order into final_<requestID>.mp4 under the
// request's temp scope. Clips that went through transition fades, or whose
// formats diverge, force a re-encode; otherwise the streams are copied
// untouched.
func (c *Concatenator) Concatenate(ctx context.Context, requestID string, j *job.Job, clips []video.Clip, sc *scope.ResourceScope) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(clips) == 0 {
		return "", fmt.Errorf("no clips to concatenate")
	}

	dir, err := sc.AcquireTemp()
	if err != nil {
		return "", err
	}
	final := filepath.Join(dir, fmt.Sprintf("final_%s.mp4", requestID))

	withMusic := c.musicDuration(requestID, j, totalDuration(clips)) > minMusicDuration
	concatDest := final
	if withMusic {
		concatDest = filepath.Join(dir, fmt.Sprintf("concat_%s.mp4", requestID))
	}

	strategy := c.pickStrategy(requestID, clips)
	log.Log(requestID, "Concatenating clips", "clips", len(clips), "strategy", strategy, "with_music", withMusic)
	metrics.Metrics.ConcatStrategyCount.WithLabelValues(strategy).Inc()

	switch strategy {
	case strategyStreamCopy:
		err = c.streamCopy(clips, dir, concatDest)
	default:
		err = c.reEncode(clips, concatDest)
	}
	if err != nil {
		return "", fmt.Errorf("failed to concatenate %d clips: %w", len(clips), err)
	}
	if err := video.VerifyOutput(concatDest); err != nil {
		return "", err
	}

	if !withMusic {
		return final, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := c.mixMusic(requestID, j.BackgroundMusic, concatDest, final, totalDuration(clips)); err != nil {
		return "", fmt.Errorf("failed to mix background music: %w", err)
	}
	if err := video.VerifyOutput(final); err != nil {
		return "", err
	}
	return final, nil
}

// pickStrategy decides between copying and re-encoding. Fade transitions
// change frame content at clip edges, and a stream copy of mismatched
// formats yields a broken file, so both force the slow path.
func (c *Concatenator) pickStrategy(requestID string, clips []video.Clip) string {
	for _, clip := range clips {
		if clip.TransitionInApplied || clip.TransitionOutApplied {
			return strategyReEncode
		}
	}
	probes := make([]video.InputVideo, len(clips))
	for i, clip := range clips {
		iv, err := c.prober.ProbeFile(requestID, clip.Path)
		if err != nil {
			log.LogError(requestID, "Probing clip for concat strategy failed, re-encoding", err, "path", clip.Path)
			return strategyReEncode
		}
		probes[i] = iv
	}
	if !video.FormatsUniform(probes) {
		return strategyReEncode
	}
	return strategyStreamCopy
}

func (c *Concatenator) streamCopy(clips []video.Clip, dir, dest string) error {
	listPath := filepath.Join(dir, "concat_list.txt")
	var list strings.Builder
	for _, clip := range clips {
		fmt.Fprintf(&list, "file '%s'\n", strings.ReplaceAll(clip.Path, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(list.String()), 0644); err != nil {
		return fmt.Errorf("failed to write concat list: %w", err)
	}

	cmd := ffmpeg.Input(listPath, ffmpeg.KwArgs{"f": "concat", "safe": 0}).
		Output(dest, ffmpeg.KwArgs{"c": "copy", "movflags": "+faststart"})
	return runFFmpeg(dest, cmd)
}

func (c *Concatenator) reEncode(clips []video.Clip, dest string) error {
	streams := make([]*ffmpeg.Stream, 0, len(clips)*2)
	for _, clip := range clips {
		in := ffmpeg.Input(clip.Path)
		streams = append(streams, in.Video(), in.Audio())
	}
	node := ffmpeg.Concat(streams, ffmpeg.KwArgs{"v": 1, "a": 1}).Node
	cmd := ffmpeg.Output([]*ffmpeg.Stream{node.Get("0"), node.Get("1")}, dest, ffmpeg.KwArgs{
		"c:v":      c.cfg.VideoCodec,
		"c:a":      c.cfg.AudioCodec,
		"b:a":      c.cfg.AudioBitrate,
		"ar":       c.cfg.AudioSampleRate,
		"ac":       c.cfg.AudioChannels,
		"movflags": "+faststart",
	})
	return runFFmpeg(dest, cmd)
}

func totalDuration(clips []video.Clip) float64 {
	var total float64
	for _, clip := range clips {
		total += clip.Duration
	}
	return total
}

// runFFmpeg executes a prepared command. Swappable for tests.
var runFFmpeg = func(dest string, cmd *ffmpeg.Stream) error {
	var ffmpegErr bytes.Buffer
	if err := cmd.OverWriteOutput().WithErrorOutput(&ffmpegErr).Run(); err != nil {
		return fmt.Errorf("error running ffmpeg [%s]: %w", ffmpegErr.String(), err)
	}
	return nil
}
