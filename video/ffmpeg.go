package video

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"
)

// formatTime converts seconds to ffmpeg's expected time syntax.
func FormatTime(timeSeconds float64) string {
	timeMillis := int64(timeSeconds * 1000)
	duration := time.Duration(timeMillis) * time.Millisecond
	formattedTime := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(duration)
	return formattedTime.Format("15:04:05.000")
}

// FormatSeconds renders seconds for filter parameters: millisecond precision
// with trailing zeros trimmed, so graphs stay byte-stable across runs.
func FormatSeconds(seconds float64) string {
	return strconv.FormatFloat(math.Round(seconds*1000)/1000, 'f', -1, 64)
}

var drawtextEscaper = strings.NewReplacer(
	`\`, `\\`,
	`'`, `\'`,
	`:`, `\:`,
	`%`, `\%`,
	`,`, `\,`,
)

// EscapeDrawtext escapes the characters the drawtext filter treats as syntax
// so arbitrary overlay text survives the filter graph.
func EscapeDrawtext(text string) string {
	return drawtextEscaper.Replace(text)
}

// VerifyOutput checks that an ffmpeg invocation actually produced a
// non-empty file; ffmpeg can exit zero with nothing written.
func VerifyOutput(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat media file: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("media file %s is empty", path)
	}
	return nil
}
