package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/stretchr/testify/require"
	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/scope"
	"github.com/vidforge/composer-api/video"
)

func testCfg() *config.Cli {
	return &config.Cli{
		VideoWidth:         1080,
		VideoHeight:        1920,
		VideoFPS:           30,
		VideoCodec:         "libx264",
		VideoPixelFormat:   "yuv420p",
		VideoImageDuration: 4,
		AudioCodec:         "aac",
		AudioSampleRate:    44100,
		AudioChannels:      2,
		AudioBitrate:       "192k",
		TextFont:           "DejaVuSans",
		TextFontSize:       48,
		TextFontColor:      "white",
	}
}

type fakeProber struct {
	audio map[string]video.AudioInfo
	files map[string]video.InputVideo
}

func (f *fakeProber) ProbeFile(requestID, url string, ffProbeOptions ...string) (video.InputVideo, error) {
	iv, ok := f.files[url]
	if !ok {
		return video.InputVideo{}, fmt.Errorf("unreadable video %s", url)
	}
	return iv, nil
}

func (f *fakeProber) ProbeImage(requestID, url string) (video.ImageInfo, error) {
	return video.ImageInfo{}, fmt.Errorf("not used in these tests")
}

func (f *fakeProber) ProbeAudio(requestID, url string) (video.AudioInfo, error) {
	info, ok := f.audio[url]
	if !ok {
		return video.AudioInfo{}, fmt.Errorf("unreadable audio %s", url)
	}
	return info, nil
}

func filterNames(filters []Filter) []string {
	names := make([]string, len(filters))
	for i, f := range filters {
		names[i] = f.Name
	}
	return names
}

func findFilter(t *testing.T, filters []Filter, name string) Filter {
	t.Helper()
	for _, f := range filters {
		if f.Name == name {
			return f
		}
	}
	t.Fatalf("filter %s not in chain %v", name, filterNames(filters))
	return Filter{}
}

func TestPlanTiming(t *testing.T) {
	cfg := testCfg()
	tests := []struct {
		name          string
		seg           job.Segment
		voiceDuration float64
		sourceDur     float64
		wantTotal     float64
		wantDelay     float64
	}{
		{
			name:      "image without voice gets the default duration",
			seg:       job.Segment{ID: "s1", Image: &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}}},
			wantTotal: 4,
		},
		{
			name: "voice bounds the content and fades add on top",
			seg: job.Segment{
				ID:            "s2",
				Image:         &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
				VoiceOver:     &job.AudioRef{AssetRef: job.AssetRef{URL: "v.mp3"}},
				TransitionOut: &job.Transition{Type: "fade", Duration: 0.5},
			},
			voiceDuration: 2.0,
			wantTotal:     2.5,
		},
		{
			name: "voice delays stretch the content",
			seg: job.Segment{
				ID:           "s3",
				Image:        &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
				VoiceOver:    &job.AudioRef{AssetRef: job.AssetRef{URL: "v.mp3"}, StartDelay: 0.4, EndDelay: 0.6},
				TransitionIn: &job.Transition{Type: "fadeblack", Duration: 1},
			},
			voiceDuration: 3,
			wantTotal:     5, // 1 + (0.4 + 3 + 0.6)
			wantDelay:     1.4,
		},
		{
			name: "video without voice keeps its probed duration",
			seg: job.Segment{
				ID:            "s4",
				Video:         &job.VideoRef{AssetRef: job.AssetRef{URL: "clip.mp4"}},
				TransitionIn:  &job.Transition{Type: "fade", Duration: 0.5},
				TransitionOut: &job.Transition{Type: "fade", Duration: 0.5},
			},
			sourceDur: 6,
			wantTotal: 7,
		},
		{
			name: "cut transitions add nothing",
			seg: job.Segment{
				ID:            "s5",
				Image:         &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
				TransitionIn:  &job.Transition{Type: "cut", Duration: 3},
				TransitionOut: &job.Transition{Type: "cut"},
			},
			wantTotal: 4,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPlan(cfg, "req", &tt.seg, tt.voiceDuration, tt.sourceDur)
			require.InDelta(t, tt.wantTotal, p.total(), 1e-9)
			if tt.wantDelay > 0 {
				require.InDelta(t, tt.wantDelay, p.contentDelay(), 1e-9)
			}
		})
	}
}

func TestResolveTransition(t *testing.T) {
	require.Equal(t, transition{kind: "cut"}, resolveTransition("req", "s", nil))
	require.Equal(t, transition{kind: "cut"}, resolveTransition("req", "s", &job.Transition{Type: "cut", Duration: 2}))
	require.Equal(t, transition{kind: "fadewhite", duration: 1}, resolveTransition("req", "s", &job.Transition{Type: "fadewhite", Duration: 1}))

	degraded := resolveTransition("req", "s", &job.Transition{Type: "dissolve", Duration: 0.8})
	require.Equal(t, transition{kind: "fade", duration: 0.8}, degraded)
}

func TestVideoFilters_ImageBranch(t *testing.T) {
	cfg := testCfg()
	seg := job.Segment{
		ID:            "s1",
		Image:         &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
		TransitionIn:  &job.Transition{Type: "fadewhite", Duration: 1},
		TransitionOut: &job.Transition{Type: "fade", Duration: 0.5},
	}
	p := newPlan(cfg, "req", &seg, 0, 0)
	filters := videoFilters(cfg, p)

	require.Equal(t, []string{"scale", "pad", "fps", "format", "fade", "fade"}, filterNames(filters))

	fadeIn := filters[4]
	require.Equal(t, "in", fadeIn.KwArgs["t"])
	require.Equal(t, "0", fadeIn.KwArgs["st"])
	require.Equal(t, "1", fadeIn.KwArgs["d"])
	require.Equal(t, "white", fadeIn.KwArgs["color"])

	fadeOut := filters[5]
	require.Equal(t, "out", fadeOut.KwArgs["t"])
	require.Equal(t, "5", fadeOut.KwArgs["st"]) // 1 + 4s default content
	require.Equal(t, "0.5", fadeOut.KwArgs["d"])
	require.Equal(t, "black", fadeOut.KwArgs["color"])
}

func TestVideoFilters_VideoBranchFreezesFrames(t *testing.T) {
	cfg := testCfg()
	seg := job.Segment{
		ID:            "s1",
		Video:         &job.VideoRef{AssetRef: job.AssetRef{URL: "clip.mp4"}},
		VoiceOver:     &job.AudioRef{AssetRef: job.AssetRef{URL: "v.mp3"}},
		TransitionIn:  &job.Transition{Type: "fade", Duration: 1},
		TransitionOut: &job.Transition{Type: "fade", Duration: 1},
	}
	// voice runs 8s against a 5s source: the tail must freeze 3s of shortfall
	// plus the 1s fade-out
	p := newPlan(cfg, "req", &seg, 8, 5)
	filters := videoFilters(cfg, p)
	require.Equal(t, []string{"scale", "pad", "fps", "format", "tpad", "tpad", "fade", "fade"}, filterNames(filters))

	require.Equal(t, "clone", filters[4].KwArgs["start_mode"])
	require.Equal(t, "1", filters[4].KwArgs["start_duration"])
	require.Equal(t, "clone", filters[5].KwArgs["stop_mode"])
	require.Equal(t, "4", filters[5].KwArgs["stop_duration"])
}

func TestVideoFilters_LongVideoNotPadded(t *testing.T) {
	cfg := testCfg()
	seg := job.Segment{
		ID:        "s1",
		Video:     &job.VideoRef{AssetRef: job.AssetRef{URL: "clip.mp4"}},
		VoiceOver: &job.AudioRef{AssetRef: job.AssetRef{URL: "v.mp3"}},
	}
	// 3s of voice against a 10s source: no padding, output -t trims instead
	p := newPlan(cfg, "req", &seg, 3, 10)
	filters := videoFilters(cfg, p)
	require.NotContains(t, filterNames(filters), "tpad")
	require.InDelta(t, 3.0, p.total(), 1e-9)
}

func TestAudioFilters_VoiceChain(t *testing.T) {
	cfg := testCfg()
	seg := job.Segment{
		ID:           "s1",
		Image:        &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
		VoiceOver:    &job.AudioRef{AssetRef: job.AssetRef{URL: "v.mp3"}, StartDelay: 0.25},
		TransitionIn: &job.Transition{Type: "fade", Duration: 1},
	}
	p := newPlan(cfg, "req", &seg, 4, 0)
	filters := audioFilters(p)
	require.Equal(t, []string{"adelay", "loudnorm", "volume", "apad", "afade"}, filterNames(filters))

	// 1s fade-in plus 0.25s start delay, in milliseconds for both channels
	require.Equal(t, ffmpeg.Args{"1250|1250"}, filters[0].Args)
	require.Equal(t, "-8", filters[1].KwArgs["I"])
	require.Equal(t, ffmpeg.Args{"2.0"}, filters[2].Args)
}

func TestAudioFilters_SilenceOnlyFades(t *testing.T) {
	cfg := testCfg()
	seg := job.Segment{
		ID:            "s1",
		Image:         &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
		TransitionOut: &job.Transition{Type: "fade", Duration: 0.5},
	}
	p := newPlan(cfg, "req", &seg, 0, 0)
	filters := audioFilters(p)
	require.Equal(t, []string{"afade"}, filterNames(filters))
	require.Equal(t, "out", filters[0].KwArgs["t"])
	require.Equal(t, "4", filters[0].KwArgs["st"])
}

func TestDrawtextFilter(t *testing.T) {
	cfg := testCfg()
	seg := job.Segment{
		ID:           "s1",
		Image:        &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
		VoiceOver:    &job.AudioRef{AssetRef: job.AssetRef{URL: "v.mp3"}, StartDelay: 0.5},
		TransitionIn: &job.Transition{Type: "fade", Duration: 1},
		TextOver: []job.TextOverlay{
			{Text: "it's 100%, done", Start: 0.5, End: 2},
			{Text: "styled", Start: 2, End: 3, Font: "Arial", Size: 72, Color: "yellow", Position: "top", Box: true},
		},
	}
	p := newPlan(cfg, "req", &seg, 4, 0)
	filters := videoFilters(cfg, p)

	var drawtexts []Filter
	for _, f := range filters {
		if f.Name == "drawtext" {
			drawtexts = append(drawtexts, f)
		}
	}
	require.Len(t, drawtexts, 2)

	first := drawtexts[0]
	// windows shift by the fade-in only; overlay times already sit on the
	// content timeline, voice start delay included
	require.Equal(t, "between(t,1.5,3)", first.KwArgs["enable"])
	require.Equal(t, `it\'s 100\%\, done`, first.KwArgs["text"])
	require.Equal(t, "DejaVuSans", first.KwArgs["font"])
	require.Equal(t, 48, first.KwArgs["fontsize"])
	require.NotContains(t, first.KwArgs, "box")

	second := drawtexts[1]
	require.Equal(t, "Arial", second.KwArgs["font"])
	require.Equal(t, 72, second.KwArgs["fontsize"])
	require.Equal(t, "yellow", second.KwArgs["fontcolor"])
	require.Equal(t, "h/10", second.KwArgs["y"])
	require.Equal(t, 1, second.KwArgs["box"])
}

func TestDrawtextTracksDelayedVoice(t *testing.T) {
	cfg := testCfg()
	// Caption windows from the aligner already include the voice start delay:
	// a 2s utterance behind a 1s delay spans [1,3] on the content timeline.
	// The burned-in text must sit exactly where adelay puts the audio.
	seg := job.Segment{
		ID:        "s1",
		Image:     &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
		VoiceOver: &job.AudioRef{AssetRef: job.AssetRef{URL: "v.mp3"}, StartDelay: 1.0},
		TextOver:  []job.TextOverlay{{Text: "hello there world", Start: 1.0, End: 3.0}},
	}
	p := newPlan(cfg, "req", &seg, 2.0, 0)

	drawtext := findFilter(t, videoFilters(cfg, p), "drawtext")
	require.Equal(t, "between(t,1,3)", drawtext.KwArgs["enable"])

	adelay := findFilter(t, audioFilters(p), "adelay")
	require.Equal(t, ffmpeg.Args{"1000|1000"}, adelay.Args)
}

func TestFsec(t *testing.T) {
	require.Equal(t, "0", fsec(0))
	require.Equal(t, "1.5", fsec(1.5))
	require.Equal(t, "2", fsec(2.0000001))
	require.Equal(t, "0.333", fsec(1.0/3))
}

func TestRenderSegment(t *testing.T) {
	require := require.New(t)
	cfg := testCfg()
	prober := &fakeProber{audio: map[string]video.AudioInfo{"/tmp/v.mp3": {Duration: 2}}}
	renderer := NewRenderer(cfg, prober)

	sc := scope.New("req1", 1, 0)
	defer sc.Release()

	var compiled *ffmpeg.Stream
	oldRun := runFFmpeg
	runFFmpeg = func(requestID, dest string, cmd *ffmpeg.Stream) error {
		compiled = cmd
		// simulate ffmpeg writing the target
		return os.WriteFile(dest, []byte("mp4"), 0644)
	}
	defer func() { runFFmpeg = oldRun }()

	seg := job.Segment{
		ID:            "intro",
		Image:         &job.ImageRef{AssetRef: job.AssetRef{URL: "http://cdn/a.png", LocalPath: "/tmp/a.png"}},
		VoiceOver:     &job.AudioRef{AssetRef: job.AssetRef{URL: "http://cdn/v.mp3", LocalPath: "/tmp/v.mp3"}},
		TransitionOut: &job.Transition{Type: "fade", Duration: 0.5},
	}
	clip, err := renderer.RenderSegment(context.Background(), "req1", 0, &seg, sc)
	require.NoError(err)
	require.Equal("intro", clip.SegmentID)
	require.Equal("seg_0_intro.mp4", filepath.Base(clip.Path))
	require.InDelta(2.5, clip.Duration, 1e-9)
	require.True(clip.HasAudio)
	require.False(clip.TransitionInApplied)
	require.True(clip.TransitionOutApplied)
	require.NotNil(compiled)
}

func TestRenderSegment_Errors(t *testing.T) {
	cfg := testCfg()
	prober := &fakeProber{}
	renderer := NewRenderer(cfg, prober)
	sc := scope.New("req1", 1, 0)
	defer sc.Release()

	t.Run("no visual source", func(t *testing.T) {
		seg := job.Segment{ID: "s1"}
		_, err := renderer.RenderSegment(context.Background(), "req1", 0, &seg, sc)
		require.ErrorContains(t, err, "no visual source")
	})

	t.Run("voice probe failure", func(t *testing.T) {
		seg := job.Segment{
			ID:        "s1",
			Image:     &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}},
			VoiceOver: &job.AudioRef{AssetRef: job.AssetRef{URL: "missing.mp3"}},
		}
		_, err := renderer.RenderSegment(context.Background(), "req1", 0, &seg, sc)
		require.ErrorContains(t, err, "failed to probe voice-over")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		seg := job.Segment{ID: "s1", Image: &job.ImageRef{AssetRef: job.AssetRef{URL: "a.png"}}}
		_, err := renderer.RenderSegment(ctx, "req1", 0, &seg, sc)
		require.ErrorIs(t, err, context.Canceled)
	})
}
