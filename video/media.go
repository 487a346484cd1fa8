package video

import (
	"fmt"
)

const (
	TrackTypeVideo = "video"
	TrackTypeAudio = "audio"

	// Bitrate assumed when probing cannot determine one.
	FallbackBitrate = 4_000_000
)

type InputVideo struct {
	Format    string       `json:"format,omitempty"`
	Tracks    []InputTrack `json:"tracks,omitempty"`
	Duration  float64      `json:"duration,omitempty"`
	SizeBytes int64        `json:"size,omitempty"`
}

// Finds the first track of the given type from the list of input tracks.
// If no such track is present, returns an error.
func (i InputVideo) GetTrack(trackType string) (InputTrack, error) {
	if trackType != TrackTypeVideo && trackType != TrackTypeAudio {
		return InputTrack{}, fmt.Errorf("invalid track type - must be '%s' or '%s'", TrackTypeVideo, TrackTypeAudio)
	}
	for _, t := range i.Tracks {
		if t.Type == trackType {
			return t, nil
		}
	}
	return InputTrack{}, fmt.Errorf("no '%s' tracks found", trackType)
}

func (i InputVideo) HasAudio() bool {
	_, err := i.GetTrack(TrackTypeAudio)
	return err == nil
}

type VideoTrack struct {
	Width              int64   `json:"width,omitempty"`
	Height             int64   `json:"height,omitempty"`
	PixelFormat        string  `json:"pixel_format,omitempty"`
	FPS                float64 `json:"fps,omitempty"`
	Rotation           int64   `json:"rotation,omitempty"`
	DisplayAspectRatio string  `json:"display_aspect_ratio,omitempty"`
}

type AudioTrack struct {
	Channels   int `json:"channels,omitempty"`
	SampleRate int `json:"sample_rate,omitempty"`
	SampleBits int `json:"sample_bits,omitempty"`
	BitDepth   int `json:"bit_depth,omitempty"`
}

type InputTrack struct {
	Type         string  `json:"type"`
	Codec        string  `json:"codec"`
	Bitrate      int64   `json:"bitrate"`
	DurationSec  float64 `json:"duration"`
	SizeBytes    int64   `json:"size"`
	StartTimeSec float64 `json:"start_time"`

	// Fields only used if this is a Video Track
	VideoTrack

	// Fields only used if this is an Audio Track
	AudioTrack
}

// ImageInfo is what probing a still image yields.
type ImageInfo struct {
	Width  int64  `json:"width"`
	Height int64  `json:"height"`
	Codec  string `json:"codec"`
}

// AudioInfo is what probing a standalone audio file yields.
type AudioInfo struct {
	Duration   float64 `json:"duration"`
	Codec      string  `json:"codec"`
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
}

// Clip is the product of rendering one segment: an intermediate MP4 plus the
// facts the concatenator needs about it.
type Clip struct {
	SegmentID            string  `json:"segment_id"`
	Path                 string  `json:"path"`
	Duration             float64 `json:"duration"`
	HasAudio             bool    `json:"has_audio"`
	TransitionInApplied  bool    `json:"transition_in_applied"`
	TransitionOutApplied bool    `json:"transition_out_applied"`
}

// FormatsUniform reports whether every probed clip shares codec, dimensions,
// frame rate, pixel format and audio shape. Only then is a stream-copy
// concat safe.
func FormatsUniform(videos []InputVideo) bool {
	if len(videos) < 2 {
		return true
	}
	first, err := trackPair(videos[0])
	if err != nil {
		return false
	}
	for _, v := range videos[1:] {
		other, err := trackPair(v)
		if err != nil {
			return false
		}
		if first != other {
			return false
		}
	}
	return true
}

// trackPair flattens the fields that must agree for stream-copy into one
// comparable value.
type comparableFormat struct {
	videoCodec  string
	width       int64
	height      int64
	fps         float64
	pixelFormat string
	hasAudio    bool
	audioCodec  string
	sampleRate  int
	channels    int
}

func trackPair(v InputVideo) (comparableFormat, error) {
	videoTrack, err := v.GetTrack(TrackTypeVideo)
	if err != nil {
		return comparableFormat{}, err
	}
	cf := comparableFormat{
		videoCodec:  videoTrack.Codec,
		width:       videoTrack.Width,
		height:      videoTrack.Height,
		fps:         videoTrack.FPS,
		pixelFormat: videoTrack.PixelFormat,
	}
	if audioTrack, err := v.GetTrack(TrackTypeAudio); err == nil {
		cf.hasAudio = true
		cf.audioCodec = audioTrack.Codec
		cf.sampleRate = audioTrack.SampleRate
		cf.channels = audioTrack.Channels
	}
	return cf, nil
}
