package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
)

const searchPageSize = 10

type ImageSearcher interface {
	SearchImage(ctx context.Context, query string, minWidth, minHeight int64) (string, error)
}

// PexelsClient queries a Pexels-compatible photo search API for replacement
// imagery.
type PexelsClient struct {
	baseURL    *url.URL
	apiKey     string
	httpClient *http.Client
}

func NewPexelsClient(baseURL *url.URL, apiKey string, timeout time.Duration) *PexelsClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 2                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 200 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 1 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.CheckRetry = metrics.HttpRetryHook
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: timeout, // Give up on requests that take more than this long
	}

	return &PexelsClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: client.StandardClient(),
	}
}

type photoSearchResponse struct {
	Photos []struct {
		Width  int64 `json:"width"`
		Height int64 `json:"height"`
		Src    struct {
			Original string `json:"original"`
			Large    string `json:"large"`
		} `json:"src"`
	} `json:"photos"`
}

// SearchImage returns the URL of the first search hit at least minWidth x
// minHeight pixels.
func (c *PexelsClient) SearchImage(ctx context.Context, query string, minWidth, minHeight int64) (string, error) {
	requestURL := *c.baseURL
	requestURL.Path = path.Join(requestURL.Path, "v1", "search")
	requestURL.RawQuery = url.Values{
		"query":    {query},
		"per_page": {fmt.Sprint(searchPageSize)},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return "", fmt.Errorf("NewRequest GET for url %s: %w", requestURL.String(), err)
	}
	req.Header.Set("Authorization", c.apiKey)

	res, err := metrics.MonitorRequest(metrics.Metrics.ImageSearchClient, c.httpClient, req)
	if err != nil {
		return "", fmt.Errorf("http do(%s): %w", requestURL.String(), err)
	}
	defer res.Body.Close()

	if !httpOk(res.StatusCode) {
		b, _ := io.ReadAll(res.Body)
		bodyString := string(b)
		if len(bodyString) > 10_000 {
			bodyString = "<Too long to include in error>"
		}
		return "", fmt.Errorf("http GET(%s) returned %d %s. Response Body: %s", requestURL.String(), res.StatusCode, res.Status, bodyString)
	}

	var searchResult photoSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&searchResult); err != nil {
		return "", fmt.Errorf("error parsing image search response: %w", err)
	}
	for _, photo := range searchResult.Photos {
		if photo.Width >= minWidth && photo.Height >= minHeight {
			if photo.Src.Original != "" {
				return photo.Src.Original, nil
			}
			if photo.Src.Large != "" {
				return photo.Src.Large, nil
			}
		}
	}
	return "", fmt.Errorf("no image of at least %dx%d found for query %q", minWidth, minHeight, query)
}
