package clients

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/livepeer/go-tools/drivers"
	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/metrics"
)

// makeOperation wraps every retryable object store operation; tests swap it
// to inject failures.
var makeOperation = func(fn func() error) func() error { return fn }

func osURLRetryBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(250*time.Millisecond), config.DownloadOSURLRetries)
}

func DownloadOSURL(osURL string) (io.ReadCloser, error) {
	fileInfoReader, err := GetOSURL(osURL)
	if err != nil {
		return nil, err
	}
	return fileInfoReader.Body, nil
}

func GetOSURL(osURL string) (*drivers.FileInfoReader, error) {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return nil, fmt.Errorf("failed to parse OS URL %q: %s", osURL, err)
	}

	var fileInfoReader *drivers.FileInfoReader
	operation := func() error {
		var err error
		fileInfoReader, err = storageDriver.NewSession("").ReadData(context.Background(), "")
		return err
	}

	start := time.Now()
	err = backoff.Retry(makeOperation(operation), osURLRetryBackoff())
	recordOperation("read", osURL, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to read from OS URL %q: %s", osURL, err)
	}

	return fileInfoReader, nil
}

func UploadToOSURL(osURL, filename string, data io.Reader, timeout time.Duration) (string, error) {
	return UploadToOSURLFields(osURL, filename, data, timeout, nil)
}

func UploadToOSURLFields(osURL, filename string, data io.Reader, timeout time.Duration, fields *drivers.FileProperties) (string, error) {
	storageDriver, err := drivers.ParseOSURL(osURL, true)
	if err != nil {
		return "", fmt.Errorf("failed to parse OS URL %q: %s", osURL, err)
	}

	session := storageDriver.NewSession("")
	var uploadedPath string
	operation := func() error {
		var err error
		uploadedPath, err = session.SaveData(context.Background(), filename, data, fields, timeout)
		return err
	}

	start := time.Now()
	err = backoff.Retry(makeOperation(operation), saveRetryBackoff())
	recordOperation("write", osURL, start, err)
	if err != nil {
		return "", fmt.Errorf("failed to write file %q to OS URL %q: %s", filename, osURL, err)
	}

	return uploadedPath, nil
}

func recordOperation(operation, osURL string, start time.Time, err error) {
	host := "local"
	if u, parseErr := url.Parse(osURL); parseErr == nil && u.Host != "" {
		host = u.Host
	}
	if err != nil {
		metrics.Metrics.ObjectStoreClient.FailureCount.WithLabelValues(host, operation).Inc()
		return
	}
	metrics.Metrics.ObjectStoreClient.RequestDuration.WithLabelValues(host, operation).Observe(time.Since(start).Seconds())
}
