package clients

import (
	"bytes"
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

// LLM is a chat-completion backend used for transcript span splitting and
// image keyword extraction. Both callers must tolerate it being absent or
// returning garbage.
type LLM interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// OpenAIClient speaks the OpenAI chat-completions wire format against a
// self-hosted endpoint, so no API key is involved.
type OpenAIClient struct {
	endpoint   *url.URL
	model      string
	httpClient *http.Client
}

func NewOpenAIClient(endpoint *url.URL, model string, timeout time.Duration) *OpenAIClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 1                          // Retry a maximum of this+1 times
	client.RetryWaitMin = 500 * time.Millisecond // Wait at least this long between retries
	client.RetryWaitMax = 2 * time.Second        // Wait at most this long between retries (exponential backoff)
	client.CheckRetry = metrics.HttpRetryHook
	client.Logger = log.NewRetryableHTTPLogger()
	client.HTTPClient = &http.Client{
		Timeout: timeout, // Give up on requests that take more than this long
	}

	return &OpenAIClient{
		endpoint:   endpoint,
		model:      model,
		httpClient: client.StandardClient(),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

func (c *OpenAIClient) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	payload, err := json.Marshal(chatCompletionRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("error marshaling completion request: %w", err)
	}

	requestURL := *c.endpoint
	requestURL.Path = path.Join(requestURL.Path, "chat", "completions")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL.String(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("NewRequest POST for url %s: %w", requestURL.String(), err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := metrics.MonitorRequest(metrics.Metrics.LLMClient, c.httpClient, req)
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
		return "", fmt.Errorf("http POST(%s) returned %d %s. Response Body: %s", requestURL.String(), res.StatusCode, res.Status, bodyString)
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(res.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("error parsing completion response: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in completion response from %s", requestURL.String())
	}
	return completion.Choices[0].Message.Content, nil
}
