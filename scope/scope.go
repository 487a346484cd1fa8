package scope

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/vidforge/composer-api/log"
)

// TempDirPrefix marks every scope-owned temp directory so aged leftovers can
// be swept after a crash.
const TempDirPrefix = "composer-"

type ReleaseFunc func() error

// ResourceScope owns a job's temp directory and everything registered for
// cleanup. Invariant: once Release returns, nothing tracked by the scope
// outlives the job.
type ResourceScope struct {
	requestID     string
	retryAttempts uint64
	retryDelay    time.Duration

	mu       sync.Mutex
	tempDir  string
	releases []ReleaseFunc
	released bool
}

func New(requestID string, retryAttempts uint64, retryDelay time.Duration) *ResourceScope {
	return &ResourceScope{
		requestID:     requestID,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
	}
}

// AcquireTemp creates the scope's temp directory on first call and returns
// the same path afterwards.
func (s *ResourceScope) AcquireTemp() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return "", fmt.Errorf("scope for request %s already released", s.requestID)
	}
	if s.tempDir != "" {
		return s.tempDir, nil
	}
	dir, err := os.MkdirTemp(os.TempDir(), TempDirPrefix+s.requestID+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}
	s.tempDir = dir
	return dir, nil
}

// Track registers a cleanup callback. Callbacks run in LIFO order on
// Release. Tracking against an already-released scope runs the callback
// immediately so nothing leaks.
func (s *ResourceScope) Track(release ReleaseFunc) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		log.Log(s.requestID, "cleanup callback tracked after release, running now")
		s.runRelease(release)
		return
	}
	s.releases = append(s.releases, release)
	s.mu.Unlock()
}

// Release runs all callbacks in LIFO order and then deletes the temp
// directory. Failures are logged and skipped, never surfaced: teardown is
// best-effort and safe to call more than once.
func (s *ResourceScope) Release() {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return
	}
	s.released = true
	releases := s.releases
	s.releases = nil
	tempDir := s.tempDir
	s.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		s.runRelease(releases[i])
	}

	if tempDir == "" {
		return
	}
	removeOp := func() error {
		return os.RemoveAll(tempDir)
	}
	// Some filesystems briefly refuse to delete recently-closed files
	err := backoff.Retry(removeOp, backoff.WithMaxRetries(backoff.NewConstantBackOff(s.retryDelay), s.retryAttempts))
	if err != nil {
		log.LogError(s.requestID, "failed to remove scope temp dir", err, "temp_dir", tempDir)
		return
	}
	log.Log(s.requestID, "released resource scope", "temp_dir", tempDir, "cleanup_callbacks", len(releases))
}

func (s *ResourceScope) runRelease(release ReleaseFunc) {
	defer func() {
		if r := recover(); r != nil {
			log.Log(s.requestID, "panic in cleanup callback", "panic_value", r)
		}
	}()
	if err := release(); err != nil {
		log.LogError(s.requestID, "cleanup callback failed", err)
	}
}
