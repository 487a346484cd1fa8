package imagefix

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/xeipuuv/gojsonschema"
)

const (
	maxLLMKeywords   = 5
	keywordHeadWords = 4
)

// Keywords is an ordered list of search queries for one segment, best first.
// Primary doubles as the label on a synthesized placeholder.
type Keywords struct {
	Primary    string
	Candidates []string
}

var llmKeywordsSchema = func() *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(`{
		"type": "object",
		"properties": {
			"keywords": {
				"type": "array",
				"minItems": 1,
				"maxItems": 10,
				"items": {"type": "string", "minLength": 1}
			},
			"primary_keyword": {"type": "string", "minLength": 1},
			"search_strategy": {"type": "string"}
		},
		"required": ["keywords", "primary_keyword"]
	}`))
	if err != nil {
		panic(fmt.Sprintf("error loading LLM keywords schema: %s", err))
	}
	return schema
}()

const llmKeywordsSystemPrompt = "You are an expert image search specialist. " +
	"Extract 3-5 short English keywords to find suitable stock photos for the given content. " +
	"Focus on visual, concrete terms rather than abstract concepts, 1-2 words each. " +
	"Answer with JSON only, shaped as {\"keywords\": [\"...\"], \"primary_keyword\": \"...\", \"search_strategy\": \"progressive\"}."

type llmKeywordsResponse struct {
	Keywords       []string `json:"keywords"`
	PrimaryKeyword string   `json:"primary_keyword"`
	SearchStrategy string   `json:"search_strategy"`
}

// deriveKeywords prefers the LLM path when configured and falls back to the
// deterministic chain on any failure.
func (f *Fixer) deriveKeywords(ctx context.Context, requestID string, j *job.Job, seg *job.Segment) Keywords {
	if f.cfg.AIEnabled && f.llm != nil {
		keywords, err := f.llmKeywords(ctx, requestID, j, seg)
		if err == nil {
			return keywords
		}
		log.LogError(requestID, "LLM keyword extraction failed, using deterministic keywords", err, "segment_id", seg.ID)
	}
	return deterministicKeywords(j, seg, f.cfg.ImageFallbackKeywords)
}

func (f *Fixer) llmKeywords(ctx context.Context, requestID string, j *job.Job, seg *job.Segment) (Keywords, error) {
	answer, err := f.llm.Complete(ctx, llmKeywordsSystemPrompt, "Extract image search keywords for: "+segmentPrompt(j, seg))
	if err != nil {
		return Keywords{}, err
	}

	payload := extractJSONObject(answer)
	result, err := llmKeywordsSchema.Validate(gojsonschema.NewStringLoader(payload))
	if err != nil {
		return Keywords{}, fmt.Errorf("error validating LLM keywords: %w", err)
	}
	if !result.Valid() {
		return Keywords{}, fmt.Errorf("LLM keywords do not match schema: %s", result.Errors())
	}

	var response llmKeywordsResponse
	if err := json.Unmarshal([]byte(payload), &response); err != nil {
		return Keywords{}, fmt.Errorf("error parsing LLM keywords: %w", err)
	}

	keywords := Keywords{Primary: strings.TrimSpace(response.PrimaryKeyword)}
	appendCandidate(&keywords.Candidates, response.PrimaryKeyword)
	for _, kw := range response.Keywords {
		if len(keywords.Candidates) >= maxLLMKeywords {
			break
		}
		appendCandidate(&keywords.Candidates, kw)
	}
	for _, kw := range f.cfg.ImageFallbackKeywords {
		appendCandidate(&keywords.Candidates, kw)
	}
	if len(keywords.Candidates) == 0 {
		return Keywords{}, fmt.Errorf("LLM returned no usable keywords")
	}
	if keywords.Primary == "" {
		keywords.Primary = keywords.Candidates[0]
	}
	return keywords, nil
}

// segmentPrompt is the context handed to the LLM: whatever text the segment
// carries, then the job-level hints.
func segmentPrompt(j *job.Job, seg *job.Segment) string {
	var parts []string
	if seg.VoiceOver != nil && strings.TrimSpace(seg.VoiceOver.Content) != "" {
		parts = append(parts, strings.TrimSpace(seg.VoiceOver.Content))
	}
	for _, overlay := range seg.TextOver {
		if strings.TrimSpace(overlay.Text) != "" {
			parts = append(parts, strings.TrimSpace(overlay.Text))
		}
	}
	if len(j.Keywords) > 0 {
		parts = append(parts, strings.Join(j.Keywords, ", "))
	}
	if strings.TrimSpace(j.Niche) != "" {
		parts = append(parts, j.Niche)
	}
	if len(parts) == 0 {
		return "generic video background"
	}
	return strings.Join(parts, ". ")
}

// deterministicKeywords builds the no-LLM candidate chain: segment overlay
// text head, voice-over head, job keywords, niche, configured fallbacks.
func deterministicKeywords(j *job.Job, seg *job.Segment, fallbacks []string) Keywords {
	var candidates []string
	if len(seg.TextOver) > 0 {
		appendCandidate(&candidates, head(seg.TextOver[0].Text))
	}
	if seg.VoiceOver != nil {
		appendCandidate(&candidates, head(seg.VoiceOver.Content))
	}
	if len(j.Keywords) > 0 {
		limit := 3
		if len(j.Keywords) < limit {
			limit = len(j.Keywords)
		}
		appendCandidate(&candidates, strings.Join(j.Keywords[:limit], " "))
	}
	appendCandidate(&candidates, j.Niche)
	for _, fb := range fallbacks {
		appendCandidate(&candidates, fb)
	}
	if len(candidates) == 0 {
		candidates = []string{"abstract background"}
	}
	return Keywords{Primary: candidates[0], Candidates: candidates}
}

func head(text string) string {
	words := strings.Fields(text)
	if len(words) > keywordHeadWords {
		words = words[:keywordHeadWords]
	}
	return strings.Join(words, " ")
}

func appendCandidate(candidates *[]string, keyword string) {
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return
	}
	for _, existing := range *candidates {
		if strings.EqualFold(existing, keyword) {
			return
		}
	}
	*candidates = append(*candidates, keyword)
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
