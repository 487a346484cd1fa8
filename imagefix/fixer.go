package imagefix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/sync/errgroup"

	"github.com/vidforge/composer-api/clients"
	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/scope"
	"github.com/vidforge/composer-api/video"
)

const fixConcurrency = 5

type Action string

const (
	ActionNone        Action = "none"
	ActionReplaced    Action = "replaced"
	ActionPlaceholder Action = "placeholder"
)

// Result is the outcome for one segment. Err is informational: a segment the
// fixer could not heal keeps its original image and fails later, in
// isolation, at render time.
type Result struct {
	SegmentID string
	Action    Action
	Err       error
}

// Fixer replaces missing or undersized segment images with search hits, or
// with a synthesized placeholder when search yields nothing.
type Fixer struct {
	cfg      *config.Cli
	prober   video.Prober
	searcher clients.ImageSearcher
	llm      clients.LLM
}

func NewFixer(cfg *config.Cli, prober video.Prober, searcher clients.ImageSearcher, llm clients.LLM) *Fixer {
	return &Fixer{cfg: cfg, prober: prober, searcher: searcher, llm: llm}
}

// FixSegments checks every image-backed segment concurrently. It only errors
// on cancellation; per-segment failures land in the results.
func (f *Fixer) FixSegments(ctx context.Context, requestID string, j *job.Job, sc *scope.ResourceScope) ([]Result, error) {
	results := make([]Result, len(j.Segments))

	group, _ := errgroup.WithContext(ctx)
	group.SetLimit(fixConcurrency)
	for i := range j.Segments {
		i := i
		seg := &j.Segments[i]
		group.Go(func() error {
			action, err := f.fixSegment(ctx, requestID, j, seg, sc)
			results[i] = Result{SegmentID: seg.ID, Action: action, Err: err}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return results, err
	}
	if err := ctx.Err(); err != nil {
		return results, err
	}
	for _, r := range results {
		if r.Err != nil {
			log.LogError(requestID, "Image auto-fix failed for segment", r.Err, "segment_id", r.SegmentID)
		}
	}
	return results, nil
}

func (f *Fixer) fixSegment(ctx context.Context, requestID string, j *job.Job, seg *job.Segment, sc *scope.ResourceScope) (Action, error) {
	if err := ctx.Err(); err != nil {
		return ActionNone, err
	}
	if !seg.UsesImage() {
		return ActionNone, nil
	}
	if f.imageUsable(requestID, seg.Image.Resolved()) {
		return ActionNone, nil
	}

	keywords := f.deriveKeywords(ctx, requestID, j, seg)

	if f.searcher != nil {
		for _, query := range keywords.Candidates {
			if err := ctx.Err(); err != nil {
				return ActionNone, err
			}
			imageURL, err := f.searcher.SearchImage(ctx, query, int64(f.cfg.ImageMinWidth), int64(f.cfg.ImageMinHeight))
			if err != nil {
				log.Log(requestID, "Image search found nothing", "segment_id", seg.ID, "query", query, "err", err)
				continue
			}
			localPath, err := f.fetchSubstitute(ctx, requestID, imageURL, sc)
			if err != nil {
				log.LogError(requestID, "Failed to download substitute image", err, "segment_id", seg.ID, "url", log.RedactURL(imageURL))
				continue
			}
			log.Log(requestID, "Replaced invalid segment image", "segment_id", seg.ID,
				"original_url", log.RedactURL(seg.Image.URL), "substitute_url", log.RedactURL(imageURL), "query", query)
			seg.Image.URL = imageURL
			seg.Image.LocalPath = localPath
			metrics.Metrics.ImageAutoFixCount.WithLabelValues(string(ActionReplaced)).Inc()
			return ActionReplaced, nil
		}
	}

	localPath, err := f.placeholder(seg, sc, keywords.Primary)
	if err != nil {
		return ActionNone, err
	}
	log.Log(requestID, "Synthesized placeholder image", "segment_id", seg.ID,
		"original_url", log.RedactURL(seg.Image.URL), "label", keywords.Primary)
	seg.Image.LocalPath = localPath
	metrics.Metrics.ImageAutoFixCount.WithLabelValues(string(ActionPlaceholder)).Inc()
	return ActionPlaceholder, nil
}

// imageUsable reports whether the downloaded image exists and meets the
// minimum dimensions.
func (f *Fixer) imageUsable(requestID, localPath string) bool {
	if localPath == "" {
		return false
	}
	if _, err := os.Stat(localPath); err != nil {
		return false
	}
	info, err := f.prober.ProbeImage(requestID, localPath)
	if err != nil {
		log.Log(requestID, "Image failed probing, will replace", "path", localPath, "err", err)
		return false
	}
	return info.Width >= int64(f.cfg.ImageMinWidth) && info.Height >= int64(f.cfg.ImageMinHeight)
}

func (f *Fixer) fetchSubstitute(ctx context.Context, requestID, imageURL string, sc *scope.ResourceScope) (string, error) {
	dir, err := sc.AcquireTemp()
	if err != nil {
		return "", err
	}
	ext := ".jpg"
	if u, err := url.Parse(imageURL); err == nil {
		if e := path.Ext(u.Path); e != "" {
			ext = e
		}
	}
	dest := filepath.Join(dir, fmt.Sprintf("auto_image_%s%s", uuid.New().String(), ext))
	if err := fetchFile(ctx, requestID, imageURL, dest, f.cfg.DownloadMaxBytes); err != nil {
		return "", err
	}
	return dest, nil
}

func (f *Fixer) placeholder(seg *job.Segment, sc *scope.ResourceScope, label string) (string, error) {
	dir, err := sc.AcquireTemp()
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, fmt.Sprintf("placeholder_%s.png", seg.ID))
	if err := synthesizePlaceholder(dest, label, f.cfg.VideoWidth, f.cfg.VideoHeight); err != nil {
		return "", fmt.Errorf("failed to synthesize placeholder image: %w", err)
	}
	return dest, nil
}

// fetchFile streams a single remote asset to disk under the same size cap
// the downloader applies. Swappable for tests.
var fetchFile = func(ctx context.Context, requestID, sourceURL, destPath string, maxBytes int64) error {
	rc, err := clients.GetFile(ctx, requestID, sourceURL)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(destPath)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, io.LimitReader(rc, maxBytes+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if written > maxBytes {
		return fmt.Errorf("substitute image exceeds the %d byte download limit", maxBytes)
	}
	return nil
}

// synthesizePlaceholder renders a flat dark canvas with the primary keyword
// centered on it. Swappable for tests.
var synthesizePlaceholder = func(destPath, label string, width, height int) error {
	var ffmpegErr bytes.Buffer
	err := ffmpeg.
		Input(fmt.Sprintf("color=c=0x202830:s=%dx%d", width, height), ffmpeg.KwArgs{"f": "lavfi"}).
		Filter("drawtext", ffmpeg.Args{}, ffmpeg.KwArgs{
			"text":      video.EscapeDrawtext(label),
			"fontcolor": "white",
			"fontsize":  64,
			"x":         "(w-text_w)/2",
			"y":         "(h-text_h)/2",
		}).
		Output(destPath, ffmpeg.KwArgs{"frames:v": 1}).
		OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if err != nil {
		return fmt.Errorf("error running ffmpeg for placeholder %s [%s]: %w", destPath, ffmpegErr.String(), err)
	}
	return video.VerifyOutput(destPath)
}
