package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/livepeer/go-tools/drivers"

	"github.com/vidforge/composer-api/clients"
	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/log"
)

// How long a single upload attempt may take before the object store client
// gives up on it.
const uploadTimeout = 5 * time.Minute

// Uploader pushes the final clip to object storage, or keeps it locally when
// no storage is configured.
type Uploader struct {
	cfg *config.Cli
}

func NewUploader(cfg *config.Cli) *Uploader {
	return &Uploader{cfg: cfg}
}

// Upload delivers the final clip and returns its public URL. With storage
// disabled the clip is moved to a stable path outside the request scope and
// a file:// URL is returned. On permanent upload failure the clip is also
// rescued out of scope so the deliverable survives cleanup; the rescue path
// rides along in the error.
func (u *Uploader) Upload(ctx context.Context, requestID, finalPath string) (string, error) {
	if !u.cfg.UploadEnabled() {
		keptPath := filepath.Join(os.TempDir(), fmt.Sprintf("composer-final-%s.mp4", requestID))
		if err := moveFile(finalPath, keptPath); err != nil {
			return "", fmt.Errorf("failed to keep final clip locally: %w", err)
		}
		log.Log(requestID, "Upload disabled, keeping final clip locally", "path", keptPath)
		return "file://" + keptPath, nil
	}

	key := u.storageKey(requestID)
	operation := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		file, err := os.Open(finalPath)
		if err != nil {
			return backoff.Permanent(err)
		}
		defer file.Close()
		var fields *drivers.FileProperties
		if len(u.cfg.StorageMetadata) > 0 {
			fields = &drivers.FileProperties{Metadata: u.cfg.StorageMetadata}
		}
		_, err = clients.UploadToOSURLFields(u.cfg.StorageOutputURL, key, file, uploadTimeout, fields)
		return err
	}
	if err := backoff.Retry(operation, clients.UploadRetryBackoff()); err != nil {
		rescuePath := filepath.Join(os.TempDir(), fmt.Sprintf("composer-failed-%s.mp4", requestID))
		if moveErr := moveFile(finalPath, rescuePath); moveErr != nil {
			log.LogError(requestID, "Failed to rescue final clip after upload failure", moveErr)
			return "", fmt.Errorf("failed to upload final clip: %w", err)
		}
		return "", fmt.Errorf("failed to upload final clip (kept at %s): %w", rescuePath, err)
	}

	publicURL, err := clients.SignURL(u.cfg.StorageOutputURL, key)
	if err != nil {
		log.LogError(requestID, "Failed to sign result URL, returning plain location", err)
		publicURL = strings.TrimSuffix(u.cfg.StorageOutputURL, "/") + "/" + key
	}
	log.Log(requestID, "Uploaded final clip", "key", key, "url", log.RedactURL(publicURL))
	return publicURL, nil
}

// storageKey fills the configured key pattern. The timestamp is UTC and
// filename-safe.
func (u *Uploader) storageKey(requestID string) string {
	ts := time.Unix(config.Clock.GetTimestampUTC(), 0).UTC().Format("20060102T150405Z")
	key := u.cfg.StorageKeyPattern
	key = strings.ReplaceAll(key, "{request_id}", requestID)
	key = strings.ReplaceAll(key, "{timestamp}", ts)
	return key
}

// moveFile renames when possible and falls back to copy+remove for
// cross-device moves out of the temp scope.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	return os.Remove(src)
}
