package clients

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

func DownloadRetryBackoffLong() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Second), 10)
}

// Swappable in tests so retries don't slow the suite down
var DownloadRetryBackoff = DownloadRetryBackoffLong

func UploadRetryBackoffLong() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(30*time.Second), 2)
}

var UploadRetryBackoff = UploadRetryBackoffLong

// saveRetryBackoff bounds the SaveData attempts inside a single
// UploadToOSURL call; UploadRetryBackoff wraps whole upload operations.
func saveRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 2)
}
