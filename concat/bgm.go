package concat

import (
	"bytes"
	"fmt"
	"math"
	"regexp"
	"strconv"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/video"
)

// Bounds for the auto-ducked music volume: never fully silent, never loud
// enough to fight the voice-over.
const (
	minDuckVolume = 0.1
	maxDuckVolume = 0.5
)

// musicDuration returns how long the background music should play, or zero
// when there is none to mix. Music is an optional asset, so one that never
// made it to disk is treated as absent.
func (c *Concatenator) musicDuration(requestID string, j *job.Job, videoDuration float64) float64 {
	music := j.BackgroundMusic
	if music == nil || music.URL == "" {
		return 0
	}
	if music.LocalPath == "" {
		log.Log(requestID, "Background music was not downloaded, skipping mix")
		return 0
	}
	d := videoDuration - music.StartDelay - music.EndDelay
	if d < 0 {
		return 0
	}
	return d
}

// mixMusic lays the background music under the concatenated video's audio.
// The video stream is copied untouched; only audio is re-encoded.
func (c *Concatenator) mixMusic(requestID string, music *job.AudioRef, src, dest string, videoDuration float64) error {
	playDuration := videoDuration - music.StartDelay - music.EndDelay
	volume := c.musicVolume(requestID, music, src)
	log.Log(requestID, "Mixing background music", "volume", volume,
		"play_duration", playDuration, "start_delay", music.StartDelay)

	videoIn := ffmpeg.Input(src)

	musicKw := ffmpeg.KwArgs{}
	if c.cfg.AudioBGMLoop {
		musicKw["stream_loop"] = -1
	}
	bgm := ffmpeg.Input(music.LocalPath, musicKw).Audio().
		Filter("atrim", ffmpeg.Args{}, ffmpeg.KwArgs{"start": 0, "duration": video.FormatSeconds(playDuration)}).
		Filter("volume", ffmpeg.Args{strconv.FormatFloat(volume, 'f', -1, 64)})
	if music.FadeIn > 0 {
		bgm = bgm.Filter("afade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"t": "in", "st": "0", "d": video.FormatSeconds(music.FadeIn)})
	}
	if music.FadeOut > 0 && playDuration > music.FadeOut {
		bgm = bgm.Filter("afade", ffmpeg.Args{}, ffmpeg.KwArgs{
			"t": "out", "st": video.FormatSeconds(playDuration - music.FadeOut), "d": video.FormatSeconds(music.FadeOut)})
	}
	if music.StartDelay > 0 {
		ms := int(math.Round(music.StartDelay * 1000))
		bgm = bgm.Filter("adelay", ffmpeg.Args{fmt.Sprintf("%d|%d", ms, ms)})
	}

	mixed := ffmpeg.Filter([]*ffmpeg.Stream{videoIn.Audio(), bgm}, "amix", ffmpeg.Args{}, ffmpeg.KwArgs{
		"inputs":             2,
		"duration":           "first",
		"dropout_transition": 2,
	})

	cmd := ffmpeg.Output([]*ffmpeg.Stream{videoIn.Video(), mixed}, dest, ffmpeg.KwArgs{
		"c:v":      "copy",
		"c:a":      c.cfg.AudioCodec,
		"b:a":      c.cfg.AudioBitrate,
		"ar":       c.cfg.AudioSampleRate,
		"ac":       c.cfg.AudioChannels,
		"movflags": "+faststart",
	})
	return runFFmpeg(dest, cmd)
}

// musicVolume resolves the mix level: an explicit per-job volume wins (zero
// included, which mutes the track), then loudness-based auto-ducking, then
// the configured default.
func (c *Concatenator) musicVolume(requestID string, music *job.AudioRef, videoPath string) float64 {
	if music.Volume != nil {
		return *music.Volume
	}
	if c.cfg.AudioBGMAutoDuck {
		if v, err := c.duckedVolume(videoPath, music.LocalPath); err == nil {
			return v
		} else {
			log.LogError(requestID, "Volume detection failed, using default music volume", err)
		}
	}
	return c.cfg.AudioBGMVolume
}

// duckedVolume scales the music so it sits below the video's own audio: the
// mean-volume gap in dB becomes a linear gain, clamped to sane bounds.
func (c *Concatenator) duckedVolume(videoPath, musicPath string) (float64, error) {
	videoMean, err := detectMeanVolume(videoPath)
	if err != nil {
		return 0, err
	}
	musicMean, err := detectMeanVolume(musicPath)
	if err != nil {
		return 0, err
	}
	gain := math.Pow(10, (videoMean-musicMean)/20)
	return math.Min(math.Max(gain, minDuckVolume), maxDuckVolume), nil
}

var meanVolumeRe = regexp.MustCompile(`mean_volume:\s*(-?[0-9.]+)\s*dB`)

// detectMeanVolume runs the volumedetect filter over a file's audio and
// parses the mean loudness from ffmpeg's stderr. Swappable for tests.
var detectMeanVolume = func(path string) (float64, error) {
	var ffmpegOut bytes.Buffer
	err := ffmpeg.Input(path).Audio().
		Filter("volumedetect", ffmpeg.Args{}).
		Output("pipe:", ffmpeg.KwArgs{"f": "null"}).
		WithErrorOutput(&ffmpegOut).Run()
	if err != nil {
		return 0, fmt.Errorf("error running volumedetect on %s [%s]: %w", path, ffmpegOut.String(), err)
	}
	return parseMeanVolume(ffmpegOut.String())
}

func parseMeanVolume(ffmpegOutput string) (float64, error) {
	m := meanVolumeRe.FindStringSubmatch(ffmpegOutput)
	if m == nil {
		return 0, fmt.Errorf("no mean_volume in volumedetect output")
	}
	return strconv.ParseFloat(m[1], 64)
}
