package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/vidforge/composer-api/clients"
	"github.com/vidforge/composer-api/config"
	xerrors "github.com/vidforge/composer-api/errors"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
	"github.com/vidforge/composer-api/scope"
)

// Downloader materializes every asset of a job on local disk. The input job
// is left untouched; the returned copy carries local_path on each ref.
type Downloader struct {
	cfg *config.Cli
}

func NewDownloader(cfg *config.Cli) *Downloader {
	return &Downloader{cfg: cfg}
}

// Download fetches all assets with bounded concurrency, one fetch per
// distinct URL. Failures on required assets abort; optional assets (music,
// and images since the fixer can heal them) log and stay unresolved.
func (d *Downloader) Download(ctx context.Context, requestID string, src *job.Job, sc *scope.ResourceScope) (*job.Job, error) {
	j, err := cloneJob(src)
	if err != nil {
		return nil, err
	}
	assets := j.Assets()
	if len(assets) == 0 {
		return j, nil
	}

	dir, err := sc.AcquireTemp()
	if err != nil {
		return nil, err
	}

	// dedup: every ref of the same URL shares one fetch and one file
	byURL := map[string][]job.Asset{}
	order := []string{}
	for _, asset := range assets {
		if _, seen := byURL[asset.Ref.URL]; !seen {
			order = append(order, asset.Ref.URL)
		}
		byURL[asset.Ref.URL] = append(byURL[asset.Ref.URL], asset)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.DownloadMaxConcurrent)
	for _, sourceURL := range order {
		sourceURL := sourceURL
		refs := byURL[sourceURL]
		group.Go(func() error {
			localPath, err := d.fetchOne(groupCtx, requestID, sourceURL, refs[0].Kind, dir)
			if err != nil {
				if required(refs) {
					wrapped := fmt.Errorf("failed to download %s asset %s: %w", refs[0].Kind, log.RedactURL(sourceURL), err)
					// unretriable means the asset itself is bad (missing,
					// rejected, over the size limit), not the transfer
					kind := xerrors.DownloadError
					if xerrors.IsUnretriable(err) {
						kind = xerrors.AssetError
					}
					return xerrors.Wrap(StageDownload, kind, wrapped)
				}
				log.LogError(requestID, "Optional asset failed to download, continuing without it", err,
					"kind", refs[0].Kind, "url", log.RedactURL(sourceURL))
				return nil
			}
			for _, asset := range refs {
				asset.Ref.LocalPath = localPath
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return j, nil
}

// required reports whether any ref of this URL must be on disk for the job
// to proceed. Images are always healable by the auto-fixer, music is
// declared optional by the job model.
func required(refs []job.Asset) bool {
	for _, asset := range refs {
		if asset.Required && asset.Kind != job.AssetImage {
			return true
		}
	}
	return false
}

func (d *Downloader) fetchOne(ctx context.Context, requestID, sourceURL string, kind job.AssetKind, dir string) (string, error) {
	if localPath, ok := localRef(sourceURL); ok {
		if _, err := os.Stat(localPath); err != nil {
			return "", xerrors.Unretriable(fmt.Errorf("local asset not readable: %w", err))
		}
		return localPath, nil
	}

	dest := filepath.Join(dir, localFilename(sourceURL, kind))
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.DownloadTimeout)
		defer cancel()
		err := d.fetchToFile(attemptCtx, requestID, sourceURL, dest)
		if xerrors.IsUnretriable(err) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(operation, clients.DownloadRetryBackoff()); err != nil {
		return "", err
	}
	log.Log(requestID, "Downloaded asset", "kind", kind, "url", log.RedactURL(sourceURL), "local_path", dest)
	return dest, nil
}

func (d *Downloader) fetchToFile(ctx context.Context, requestID, sourceURL, dest string) error {
	rc, err := clients.GetFile(ctx, requestID, sourceURL)
	if err != nil {
		return err
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	written, err := io.Copy(out, io.LimitReader(rc, d.cfg.DownloadMaxBytes+1))
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if written > d.cfg.DownloadMaxBytes {
		return xerrors.Unretriable(fmt.Errorf("asset exceeds the %d byte download limit", d.cfg.DownloadMaxBytes))
	}
	metrics.Metrics.DownloadedBytes.Add(float64(written))
	return nil
}

// localRef reports whether the URL is a plain filesystem path (or file://)
// rather than something to fetch, and resolves it to the path.
func localRef(sourceURL string) (string, bool) {
	u, err := url.Parse(sourceURL)
	if err != nil {
		return sourceURL, true
	}
	if u.Scheme == "file" {
		return u.Path, true
	}
	if u.Scheme == "" {
		return sourceURL, true
	}
	return "", false
}

// localFilename derives a stable per-URL name so deduped refs agree on the
// path regardless of which fetch won.
func localFilename(sourceURL string, kind job.AssetKind) string {
	sum := sha256.Sum256([]byte(sourceURL))
	ext := ""
	if u, err := url.Parse(sourceURL); err == nil {
		ext = path.Ext(u.Path)
	}
	if ext == "" {
		switch kind {
		case job.AssetImage:
			ext = ".jpg"
		case job.AssetVideo:
			ext = ".mp4"
		default:
			ext = ".mp3"
		}
	}
	return hex.EncodeToString(sum[:])[:16] + ext
}

func cloneJob(src *job.Job) (*job.Job, error) {
	payload, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("failed to clone job: %w", err)
	}
	var dst job.Job
	if err := json.Unmarshal(payload, &dst); err != nil {
		return nil, fmt.Errorf("failed to clone job: %w", err)
	}
	return &dst, nil
}
