package video

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

func TestItRejectsWhenNoVideoTrackPresent(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
			},
		},
	})
	require.ErrorContains(t, err, "no video stream found")
}

func TestItRejectsStillImageCodecsAsVideo(t *testing.T) {
	for _, codec := range []string{"mjpeg", "png", "webp"} {
		_, err := parseProbeOutput(&ffprobe.ProbeData{
			Streams: []*ffprobe.Stream{
				{
					CodecType: "video",
					CodecName: codec,
				},
			},
		})
		require.ErrorContains(t, err, codec+" is a still image codec")
	}
}

func TestItRejectsWhenFormatMissing(t *testing.T) {
	_, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
			},
		},
	})
	require.ErrorContains(t, err, "format information missing")
}

func TestFallbackBitrate(t *testing.T) {
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				BitRate:   "",
			},
		},
		Format: &ffprobe.Format{
			Size: "1",
		},
	})
	require.NoError(t, err)
	track, err := iv.GetTrack(TrackTypeVideo)
	require.NoError(t, err)
	require.Equal(t, int64(FallbackBitrate), track.Bitrate)
}

func TestParseProbeOutputTracks(t *testing.T) {
	iv, err := parseProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType:    "video",
				CodecName:    "h264",
				BitRate:      "1234521",
				Width:        1920,
				Height:       1080,
				AvgFrameRate: "24/1",
				PixFmt:       "yuv420p",
				Duration:     "5.500000",
			},
			{
				CodecType:  "audio",
				CodecName:  "aac",
				BitRate:    "128248",
				Channels:   2,
				SampleRate: "44100",
			},
		},
		Format: &ffprobe.Format{
			FormatName: "mov,mp4,m4a,3gp,3g2,mj2",
			Size:       "2779520",
		},
	})
	require.NoError(t, err)

	expectedInput := InputVideo{
		Format:   "mov,mp4,m4a,3gp,3g2,mj2",
		Duration: 5.5,
		Tracks: []InputTrack{
			{
				Type:    TrackTypeVideo,
				Codec:   "h264",
				Bitrate: 1234521,
				VideoTrack: VideoTrack{
					Width:       1920,
					Height:      1080,
					FPS:         24,
					PixelFormat: "yuv420p",
				},
			},
			{
				Type:    TrackTypeAudio,
				Codec:   "aac",
				Bitrate: 128248,
				AudioTrack: AudioTrack{
					Channels:   2,
					SampleRate: 44100,
				},
			},
		},
		SizeBytes: 2779520,
	}
	require.Equal(t, expectedInput, iv)
	require.True(t, iv.HasAudio())
}

func TestParseImageProbeOutput(t *testing.T) {
	info, err := parseImageProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "png",
				Width:     1280,
				Height:    720,
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, ImageInfo{Width: 1280, Height: 720, Codec: "png"}, info)

	_, err = parseImageProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "video",
				CodecName: "png",
			},
		},
	})
	require.ErrorContains(t, err, "invalid dimensions")

	_, err = parseImageProbeOutput(&ffprobe.ProbeData{})
	require.ErrorContains(t, err, "no image stream found")
}

func TestParseAudioProbeOutput(t *testing.T) {
	info, err := parseAudioProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType:  "audio",
				CodecName:  "mp3",
				Duration:   "3.000000",
				SampleRate: "44100",
				Channels:   2,
			},
		},
	})
	require.NoError(t, err)
	require.Equal(t, AudioInfo{Duration: 3, Codec: "mp3", SampleRate: 44100, Channels: 2}, info)

	_, err = parseAudioProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{{CodecType: "video"}},
	})
	require.ErrorContains(t, err, "no audio stream found")
}

func TestParseAudioProbeOutputFallsBackToFormatDuration(t *testing.T) {
	info, err := parseAudioProbeOutput(&ffprobe.ProbeData{
		Streams: []*ffprobe.Stream{
			{
				CodecType: "audio",
				CodecName: "wav",
			},
		},
		Format: &ffprobe.Format{
			DurationSeconds: 7.25,
		},
	})
	require.NoError(t, err)
	require.Equal(t, 7.25, info.Duration)
}

func TestParseFps(t *testing.T) {
	tests := []struct {
		framerate string
		expected  float64
		expectErr bool
	}{
		{framerate: "", expected: 0},
		{framerate: "24/1", expected: 24},
		{framerate: "30000/1001", expected: 29.97002997002997},
		{framerate: "25", expected: 25},
		{framerate: "0/0", expected: 0},
		{framerate: "1/0", expectErr: true},
		{framerate: "x/1", expectErr: true},
	}
	for _, tt := range tests {
		fps, err := parseFps(tt.framerate)
		if tt.expectErr {
			require.Error(t, err, tt.framerate)
			continue
		}
		require.NoError(t, err, tt.framerate)
		require.Equal(t, tt.expected, fps, tt.framerate)
	}
}

func TestFormatsUniform(t *testing.T) {
	clip := func(codec string, width int64, fps float64, audioCodec string) InputVideo {
		iv := InputVideo{
			Tracks: []InputTrack{
				{
					Type:  TrackTypeVideo,
					Codec: codec,
					VideoTrack: VideoTrack{
						Width:       width,
						Height:      1080,
						FPS:         fps,
						PixelFormat: "yuv420p",
					},
				},
			},
		}
		if audioCodec != "" {
			iv.Tracks = append(iv.Tracks, InputTrack{
				Type:  TrackTypeAudio,
				Codec: audioCodec,
				AudioTrack: AudioTrack{
					SampleRate: 44100,
					Channels:   2,
				},
			})
		}
		return iv
	}

	require.True(t, FormatsUniform([]InputVideo{
		clip("h264", 1920, 24, "aac"),
		clip("h264", 1920, 24, "aac"),
		clip("h264", 1920, 24, "aac"),
	}))

	require.True(t, FormatsUniform([]InputVideo{clip("h264", 1920, 24, "aac")}), "single clip is trivially uniform")

	require.False(t, FormatsUniform([]InputVideo{
		clip("h264", 1920, 24, "aac"),
		clip("h264", 1280, 24, "aac"),
	}), "dimension mismatch")

	require.False(t, FormatsUniform([]InputVideo{
		clip("h264", 1920, 24, "aac"),
		clip("h264", 1920, 30, "aac"),
	}), "fps mismatch")

	require.False(t, FormatsUniform([]InputVideo{
		clip("h264", 1920, 24, "aac"),
		clip("h264", 1920, 24, ""),
	}), "audio presence mismatch")
}
