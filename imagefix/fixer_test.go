package imagefix

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/scope"
	"github.com/vidforge/composer-api/video"
)

type fakeProber struct {
	images map[string]video.ImageInfo
}

func (f *fakeProber) ProbeFile(requestID, url string, ffProbeOptions ...string) (video.InputVideo, error) {
	return video.InputVideo{}, fmt.Errorf("not used in these tests")
}

func (f *fakeProber) ProbeImage(requestID, url string) (video.ImageInfo, error) {
	info, ok := f.images[url]
	if !ok {
		return video.ImageInfo{}, fmt.Errorf("unreadable image %s", url)
	}
	return info, nil
}

func (f *fakeProber) ProbeAudio(requestID, url string) (video.AudioInfo, error) {
	return video.AudioInfo{}, fmt.Errorf("not used in these tests")
}

type fakeSearcher struct {
	urls    map[string]string // query -> hit
	queries []string
}

func (f *fakeSearcher) SearchImage(ctx context.Context, query string, minWidth, minHeight int64) (string, error) {
	f.queries = append(f.queries, query)
	if hit, ok := f.urls[query]; ok {
		return hit, nil
	}
	return "", fmt.Errorf("no image of at least %dx%d found for query %q", minWidth, minHeight, query)
}

func fixerConfig() *config.Cli {
	return &config.Cli{
		ImageMinWidth:         800,
		ImageMinHeight:        600,
		VideoWidth:            1920,
		VideoHeight:           1080,
		ImageFallbackKeywords: []string{"abstract background"},
	}
}

func stubFetch(t *testing.T, fail bool) *int {
	t.Helper()
	calls := new(int)
	orig := fetchFile
	fetchFile = func(ctx context.Context, requestID, sourceURL, destPath string, maxBytes int64) error {
		*calls++
		if fail {
			return fmt.Errorf("simulated download failure")
		}
		return os.WriteFile(destPath, []byte("image bytes"), 0644)
	}
	t.Cleanup(func() { fetchFile = orig })
	return calls
}

func stubPlaceholder(t *testing.T, fail bool) *int {
	t.Helper()
	calls := new(int)
	orig := synthesizePlaceholder
	synthesizePlaceholder = func(destPath, label string, width, height int) error {
		*calls++
		if fail {
			return fmt.Errorf("simulated ffmpeg failure")
		}
		return os.WriteFile(destPath, []byte("png bytes"), 0644)
	}
	t.Cleanup(func() { synthesizePlaceholder = orig })
	return calls
}

func testScope(t *testing.T) *scope.ResourceScope {
	t.Helper()
	sc := scope.New("fixer-test", 1, time.Millisecond)
	t.Cleanup(sc.Release)
	return sc
}

func TestItLeavesValidImagesAlone(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "good.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("jpg"), 0644))

	prober := &fakeProber{images: map[string]video.ImageInfo{
		imagePath: {Width: 1920, Height: 1080},
	}}
	searcher := &fakeSearcher{}
	fixer := NewFixer(fixerConfig(), prober, searcher, nil)

	j := testJob()
	j.Segments[0].Image.LocalPath = imagePath

	results, err := fixer.FixSegments(context.Background(), "req-1", j, testScope(t))
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, ActionNone, results[0].Action)
	require.Empty(t, searcher.queries, "valid images must not trigger a search")
	require.Equal(t, imagePath, j.Segments[0].Image.LocalPath)
}

func TestItReplacesUndersizedImages(t *testing.T) {
	imagePath := filepath.Join(t.TempDir(), "small.jpg")
	require.NoError(t, os.WriteFile(imagePath, []byte("jpg"), 0644))

	prober := &fakeProber{images: map[string]video.ImageInfo{
		imagePath: {Width: 320, Height: 200},
	}}
	searcher := &fakeSearcher{urls: map[string]string{
		"summit at dawn": "http://images.local/replacement.jpg",
	}}
	fetchCalls := stubFetch(t, false)
	fixer := NewFixer(fixerConfig(), prober, searcher, nil)

	j := testJob()
	j.Segments[0].Image.LocalPath = imagePath

	results, err := fixer.FixSegments(context.Background(), "req-1", j, testScope(t))
	require.NoError(t, err)
	require.Equal(t, ActionReplaced, results[0].Action)
	require.Equal(t, 1, *fetchCalls)
	require.Equal(t, "http://images.local/replacement.jpg", j.Segments[0].Image.URL)
	require.NotEqual(t, imagePath, j.Segments[0].Image.LocalPath)
	require.FileExists(t, j.Segments[0].Image.LocalPath)
}

func TestItWalksTheKeywordChain(t *testing.T) {
	// No local file at all; only the niche query yields a hit
	prober := &fakeProber{}
	searcher := &fakeSearcher{urls: map[string]string{
		"hiking": "http://images.local/hiking.jpg",
	}}
	stubFetch(t, false)
	fixer := NewFixer(fixerConfig(), prober, searcher, nil)

	j := testJob()
	results, err := fixer.FixSegments(context.Background(), "req-1", j, testScope(t))
	require.NoError(t, err)
	require.Equal(t, ActionReplaced, results[0].Action)
	require.Equal(t, []string{"summit at dawn", "the summit glows red", "mountains sunrise travel", "hiking"}, searcher.queries)
}

func TestItSynthesizesAPlaceholderWhenSearchIsDry(t *testing.T) {
	prober := &fakeProber{}
	searcher := &fakeSearcher{} // every query misses
	placeholderCalls := stubPlaceholder(t, false)
	fixer := NewFixer(fixerConfig(), prober, searcher, nil)

	j := testJob()
	results, err := fixer.FixSegments(context.Background(), "req-1", j, testScope(t))
	require.NoError(t, err)
	require.Equal(t, ActionPlaceholder, results[0].Action)
	require.Equal(t, 1, *placeholderCalls)
	require.FileExists(t, j.Segments[0].Image.LocalPath)
	require.Contains(t, j.Segments[0].Image.LocalPath, "placeholder_seg-1")
}

func TestItSkipsVideoBackedSegments(t *testing.T) {
	prober := &fakeProber{}
	searcher := &fakeSearcher{}
	fixer := NewFixer(fixerConfig(), prober, searcher, nil)

	j := testJob()
	j.Segments[0].Video = &job.VideoRef{AssetRef: job.AssetRef{URL: "http://videos.local/clip.mp4"}}

	results, err := fixer.FixSegments(context.Background(), "req-1", j, testScope(t))
	require.NoError(t, err)
	require.Equal(t, ActionNone, results[0].Action)
	require.Empty(t, searcher.queries)
}

func TestPerSegmentFailuresAreIsolated(t *testing.T) {
	goodImage := filepath.Join(t.TempDir(), "good.jpg")
	require.NoError(t, os.WriteFile(goodImage, []byte("jpg"), 0644))

	prober := &fakeProber{images: map[string]video.ImageInfo{
		goodImage: {Width: 1920, Height: 1080},
	}}
	searcher := &fakeSearcher{}
	stubPlaceholder(t, true) // placeholder synthesis breaks
	fixer := NewFixer(fixerConfig(), prober, searcher, nil)

	j := testJob()
	j.Segments = append(j.Segments, job.Segment{
		ID:    "seg-2",
		Image: &job.ImageRef{AssetRef: job.AssetRef{URL: "http://images.local/gone.jpg", LocalPath: goodImage}},
	})

	results, err := fixer.FixSegments(context.Background(), "req-1", j, testScope(t))
	require.NoError(t, err, "segment failures must not fail the batch")
	require.Len(t, results, 2)

	byID := map[string]Result{}
	for _, r := range results {
		byID[r.SegmentID] = r
	}
	require.Error(t, byID["seg-1"].Err)
	require.Equal(t, ActionNone, byID["seg-1"].Action)
	require.NoError(t, byID["seg-2"].Err)
	require.Equal(t, ActionNone, byID["seg-2"].Action)
}

func TestCancelledContextStopsFixing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fixer := NewFixer(fixerConfig(), &fakeProber{}, &fakeSearcher{}, nil)
	j := testJob()
	_, err := fixer.FixSegments(ctx, "req-1", j, testScope(t))
	require.ErrorIs(t, err, context.Canceled)
}

func TestFetchFileEnforcesSizeCap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer server.Close()

	dir := t.TempDir()

	err := fetchFile(context.Background(), "req-1", server.URL+"/huge.jpg", filepath.Join(dir, "small.jpg"), 1024)
	require.ErrorContains(t, err, "download limit")

	err = fetchFile(context.Background(), "req-1", server.URL+"/ok.jpg", filepath.Join(dir, "ok.jpg"), 4096)
	require.NoError(t, err)
	content, err := os.ReadFile(filepath.Join(dir, "ok.jpg"))
	require.NoError(t, err)
	require.Len(t, content, 2048)
}
