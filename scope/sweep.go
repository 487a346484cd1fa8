package scope

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vidforge/composer-api/log"
)

// SweepAged removes scope temp directories under dir that are older than
// maxAge. Crashed jobs leave their directories behind; a periodic sweep in
// main keeps the disk from filling up.
func SweepAged(dir string, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), TempDirPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if time.Since(info.ModTime()) <= maxAge {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.LogNoRequestID("failed to sweep aged temp dir", "path", path, "error", err)
			continue
		}
		log.LogNoRequestID("swept aged temp dir", "path", path, "age", time.Since(info.ModTime()).String())
		removed++
	}
	return removed, nil
}
