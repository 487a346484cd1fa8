package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
)

// Word case reported by the aligner for tokens it located in the audio.
const WordCaseSuccess = "success"

type AlignedWord struct {
	Word  string  `json:"word"`
	Case  string  `json:"case"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type AlignResult struct {
	Transcript string        `json:"transcript"`
	Words      []AlignedWord `json:"words"`
}

// SuccessRatio is the fraction of transcript words the aligner pinned to a
// time window.
func (r *AlignResult) SuccessRatio() float64 {
	if len(r.Words) == 0 {
		return 0
	}
	var matched int
	for _, w := range r.Words {
		if w.Case == WordCaseSuccess {
			matched++
		}
	}
	return float64(matched) / float64(len(r.Words))
}

type Aligner interface {
	Align(ctx context.Context, audioPath, transcript string) (*AlignResult, error)
}

// GentleAligner calls a Gentle-compatible forced-alignment service.
type GentleAligner struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewGentleAligner(baseURL *url.URL, timeout time.Duration) *GentleAligner {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 1 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.CheckRetry = metrics.HttpRetryHook
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: timeout, // Give up on requests that take more than this long
	}

	return &GentleAligner{
		baseURL:    baseURL,
		httpClient: client.StandardClient(),
	}
}

// Align sends the voice-over audio and its transcript to the aligner and
// returns per-word timings. Words the aligner could not place come back with a
// non-success case and no usable timing.
func (g *GentleAligner) Align(ctx context.Context, audioPath, transcript string) (*AlignResult, error) {
	audio, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("error opening audio file %q: %w", audioPath, err)
	}
	defer audio.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("error creating multipart audio part: %w", err)
	}
	if _, err := io.Copy(part, audio); err != nil {
		return nil, fmt.Errorf("error buffering audio file %q: %w", audioPath, err)
	}
	if err := mw.WriteField("transcript", transcript); err != nil {
		return nil, fmt.Errorf("error writing transcript part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("error finalizing multipart body: %w", err)
	}

	requestURL := *g.baseURL
	requestURL.Path = path.Join(requestURL.Path, "transcriptions")
	requestURL.RawQuery = "async=false"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL.String(), &body)
	if err != nil {
		return nil, fmt.Errorf("NewRequest POST for url %s: %w", requestURL.String(), err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	res, err := metrics.MonitorRequest(metrics.Metrics.AlignerClient, g.httpClient, req)
	if err != nil {
		return nil, fmt.Errorf("http do(%s): %w", requestURL.String(), err)
	}
	defer res.Body.Close()

	if !httpOk(res.StatusCode) {
		// Read the body, because the aligner returns error information in there
		b, _ := io.ReadAll(res.Body)
		bodyString := string(b)
		if len(bodyString) > 10_000 {
			bodyString = "<Too long to include in error>"
		}
		return nil, fmt.Errorf("http POST(%s) returned %d %s. Response Body: %s", requestURL.String(), res.StatusCode, res.Status, bodyString)
	}

	var result AlignResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("error parsing aligner response: %w", err)
	}
	return &result, nil
}

func httpOk(statusCode int) bool {
	return statusCode >= 200 && statusCode < 300
}
