package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vidforge/composer-api/clients"
	"github.com/vidforge/composer-api/log"
	"github.com/xeipuuv/gojsonschema"
)

// The LLM must answer with this shape. Anything else is discarded and the
// deterministic splitter takes over.
var llmSpansSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(`{
		"type": "object",
		"properties": {
			"segments": {
				"type": "array",
				"minItems": 1,
				"items": {"type": "string", "minLength": 1}
			}
		},
		"required": ["segments"]
	}`))
	if err != nil {
		panic(fmt.Sprintf("error loading LLM spans schema: %s", err))
	}
	return schema
}()

const llmSpansSystemPrompt = "You split video voice-over transcripts into short caption lines. " +
	"Keep the exact original wording and word order, never split a word, and never add or rephrase text. " +
	"Answer with JSON only, shaped as {\"segments\": [\"line\", ...]}."

// Word preservation below this ratio means the LLM rewrote the transcript
// instead of splitting it, so its output is unusable for alignment.
const minWordPreservation = 0.95

type llmSpansResponse struct {
	Segments []string `json:"segments"`
}

// llmSplit asks the LLM for caption lines and sanitizes the answer: schema
// check, re-chunk overlong lines, verify the original words survived. Any
// failure returns an error so the caller can fall back to the deterministic
// splitter.
func llmSplit(ctx context.Context, llm clients.LLM, requestID, text string, limits SpanLimits) ([]string, error) {
	userPrompt := fmt.Sprintf("Limits: at most %d words and %d characters per line, aim for at least %d words.\n\nTranscript:\n%s",
		limits.MaxWords, limits.MaxChars, limits.MinWords, text)
	answer, err := llm.Complete(ctx, llmSpansSystemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	payload := extractJSONObject(answer)
	result, err := llmSpansSchema.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("error validating LLM spans: %w", err)
	}
	if !result.Valid() {
		return nil, fmt.Errorf("LLM spans do not match schema: %s", result.Errors())
	}

	var response llmSpansResponse
	if err := json.Unmarshal([]byte(payload), &response); err != nil {
		return nil, fmt.Errorf("error parsing LLM spans: %w", err)
	}

	spans := RepairSpans(response.Segments, limits)
	if len(spans) == 0 {
		return nil, fmt.Errorf("LLM returned no usable spans")
	}
	if ratio := PreservationRatio(Words(text), spans); ratio < minWordPreservation {
		return nil, fmt.Errorf("LLM rewrote the transcript: only %.0f%% of words preserved", ratio*100)
	}
	log.Log(requestID, "Split transcript via LLM", "spans", len(spans))
	return spans, nil
}

// extractJSONObject cuts the first {...} block out of an answer that may be
// wrapped in markdown fences or prose.
func extractJSONObject(answer string) string {
	start := strings.Index(answer, "{")
	end := strings.LastIndex(answer, "}")
	if start < 0 || end <= start {
		return answer
	}
	return answer[start : end+1]
}
