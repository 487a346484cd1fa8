package transcript

import (
	"context"
	"strings"

	"github.com/vidforge/composer-api/clients"
	"github.com/vidforge/composer-api/config"
	"github.com/vidforge/composer-api/job"
	"github.com/vidforge/composer-api/log"
	"github.com/vidforge/composer-api/metrics"
)

const (
	// Timing assumed for a word the aligner could not place and that has no
	// timed neighbor on one side.
	defaultWordDuration = 0.15
	// Spans shorter than this are unreadable, so windows get stretched to it.
	minSpanDuration = 0.1
	// How far past the cursor we search the aligner output for a word before
	// giving up and interpolating.
	matchLookahead = 8
)

// Aligner turns a segment's voice-over into timed caption overlays. Every
// external failure degrades: LLM trouble falls back to the deterministic
// splitter, aligner trouble falls back to uniform timing. Only context
// cancellation propagates.
type Aligner struct {
	cfg    *config.Cli
	gentle clients.Aligner
	llm    clients.LLM
}

func NewAligner(cfg *config.Cli, gentle clients.Aligner, llm clients.LLM) *Aligner {
	return &Aligner{cfg: cfg, gentle: gentle, llm: llm}
}

func (a *Aligner) limits() SpanLimits {
	return SpanLimits{
		MinWords: a.cfg.TextMinSpanWords,
		MaxWords: a.cfg.TextMaxSpanWords,
		MaxChars: a.cfg.TextMaxSpanChars,
	}
}

// TimeSpans produces caption overlays for a voice-over with known audio
// duration. The supplied start delay shifts all windows onto the segment
// timeline. fellBack reports that span timing came from uniform distribution
// rather than forced alignment.
func (a *Aligner) TimeSpans(ctx context.Context, requestID string, voice *job.AudioRef, voiceDuration float64) (overlays []job.TextOverlay, fellBack bool, err error) {
	words := Words(voice.Content)
	if len(words) == 0 {
		return nil, false, nil
	}

	spans := a.split(ctx, requestID, voice.Content)
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	result, ok := a.align(ctx, requestID, voice)
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if !ok {
		return uniformOverlays(spans, voice.StartDelay, voiceDuration), true, nil
	}

	timings := assignTimings(words, result.Words)
	if timings == nil {
		log.Log(requestID, "Aligner matched no words, falling back to uniform timing")
		metrics.Metrics.TranscriptFallbackCount.Inc()
		return uniformOverlays(spans, voice.StartDelay, voiceDuration), true, nil
	}

	overlays = spanOverlays(spans, words, timings, voice.StartDelay)
	log.Log(requestID, "Timed transcript spans", "spans", len(overlays), "words", len(words), "success_ratio", result.SuccessRatio())
	return overlays, false, nil
}

// split picks the LLM splitter when configured and falls back to the
// deterministic one on any LLM failure.
func (a *Aligner) split(ctx context.Context, requestID, text string) []string {
	if a.cfg.AIEnabled && a.llm != nil {
		spans, err := llmSplit(ctx, a.llm, requestID, text, a.limits())
		if err == nil {
			return spans
		}
		log.LogError(requestID, "LLM transcript split failed, using rule-based splitter", err)
	}
	return SplitSpans(text, a.limits())
}

// align calls the forced aligner and decides whether its answer is usable.
func (a *Aligner) align(ctx context.Context, requestID string, voice *job.AudioRef) (*clients.AlignResult, bool) {
	if !a.cfg.AlignerEnabled() || a.gentle == nil {
		log.Log(requestID, "Aligner not configured, using uniform span timing")
		metrics.Metrics.TranscriptFallbackCount.Inc()
		return nil, false
	}
	result, err := a.gentle.Align(ctx, voice.LocalPath, voice.Content)
	if err != nil {
		log.LogError(requestID, "Aligner unavailable, using uniform span timing", err)
		metrics.Metrics.TranscriptFallbackCount.Inc()
		return nil, false
	}
	if ratio := result.SuccessRatio(); ratio < a.cfg.AlignerMinSuccessRatio {
		log.Log(requestID, "Aligner success ratio too low, using uniform span timing", "ratio", ratio, "min_ratio", a.cfg.AlignerMinSuccessRatio)
		metrics.Metrics.TranscriptFallbackCount.Inc()
		return nil, false
	}
	return result, true
}

type wordTiming struct {
	start, end float64
	matched    bool
}

// assignTimings maps every transcript word to a time window. Words found in
// the aligner output (exact first, then fuzzy, scanning a small window past
// the cursor) take their timings from it; the rest are interpolated between
// their timed neighbors. Returns nil when not a single word matched.
func assignTimings(words []string, aligned []clients.AlignedWord) []wordTiming {
	timings := make([]wordTiming, len(words))
	cursor := 0
	anyMatched := false
	for i, word := range words {
		key := normalizeToken(word)
		found := -1
		for j := cursor; j < len(aligned) && j < cursor+matchLookahead; j++ {
			if aligned[j].Case == clients.WordCaseSuccess && normalizeToken(aligned[j].Word) == key {
				found = j
				break
			}
		}
		if found < 0 {
			for j := cursor; j < len(aligned) && j < cursor+matchLookahead; j++ {
				if aligned[j].Case == clients.WordCaseSuccess && Similarity(normalizeToken(aligned[j].Word), key) >= minWordSimilarity {
					found = j
					break
				}
			}
		}
		if found >= 0 {
			timings[i] = wordTiming{start: aligned[found].Start, end: aligned[found].End, matched: true}
			cursor = found + 1
			anyMatched = true
		}
	}
	if !anyMatched {
		return nil
	}
	interpolateGaps(timings)
	return timings
}

// interpolateGaps fills unmatched runs. Between two timed neighbors the gap
// is divided evenly; at the edges words get defaultWordDuration each,
// counting backwards from the first timed word or forwards from the last.
func interpolateGaps(timings []wordTiming) {
	n := len(timings)
	for i := 0; i < n; {
		if timings[i].matched {
			i++
			continue
		}
		runStart := i
		for i < n && !timings[i].matched {
			i++
		}
		runEnd := i // exclusive
		runLen := runEnd - runStart

		switch {
		case runStart == 0 && runEnd == n:
			// handled by the caller via the anyMatched guard
		case runStart == 0:
			next := timings[runEnd].start
			for k := 0; k < runLen; k++ {
				start := next - float64(runLen-k)*defaultWordDuration
				if start < 0 {
					start = 0
				}
				end := next - float64(runLen-k-1)*defaultWordDuration
				if end < start {
					end = start
				}
				timings[runStart+k] = wordTiming{start: start, end: end, matched: true}
			}
		case runEnd == n:
			prev := timings[runStart-1].end
			for k := 0; k < runLen; k++ {
				timings[runStart+k] = wordTiming{
					start:   prev + float64(k)*defaultWordDuration,
					end:     prev + float64(k+1)*defaultWordDuration,
					matched: true,
				}
			}
		default:
			prev := timings[runStart-1].end
			next := timings[runEnd].start
			step := (next - prev) / float64(runLen)
			if step < 0 {
				step = 0
			}
			for k := 0; k < runLen; k++ {
				timings[runStart+k] = wordTiming{
					start:   prev + float64(k)*step,
					end:     prev + float64(k+1)*step,
					matched: true,
				}
			}
		}
	}
}

// spanOverlays derives each span's window from its first and last word,
// shifts by the voice-over start delay, and enforces monotonic
// non-overlapping windows of at least minSpanDuration.
func spanOverlays(spans, words []string, timings []wordTiming, startDelay float64) []job.TextOverlay {
	overlays := make([]job.TextOverlay, 0, len(spans))
	cursor := 0
	for _, span := range spans {
		n := len(strings.Fields(span))
		if n == 0 {
			continue
		}
		lo := cursor
		hi := cursor + n
		if hi > len(words) {
			hi = len(words)
		}
		if lo >= len(words) {
			break
		}
		cursor = hi
		overlays = append(overlays, job.TextOverlay{
			Text:  span,
			Start: timings[lo].start + startDelay,
			End:   timings[hi-1].end + startDelay,
		})
	}

	prevEnd := 0.0
	for i := range overlays {
		if overlays[i].Start < prevEnd {
			overlays[i].Start = prevEnd
		}
		if overlays[i].End < overlays[i].Start+minSpanDuration {
			overlays[i].End = overlays[i].Start + minSpanDuration
		}
		prevEnd = overlays[i].End
	}
	return overlays
}

// uniformOverlays distributes spans evenly across the voice-over window.
func uniformOverlays(spans []string, startDelay, voiceDuration float64) []job.TextOverlay {
	if len(spans) == 0 || voiceDuration <= 0 {
		return nil
	}
	per := voiceDuration / float64(len(spans))
	overlays := make([]job.TextOverlay, len(spans))
	for i, span := range spans {
		overlays[i] = job.TextOverlay{
			Text:  span,
			Start: startDelay + float64(i)*per,
			End:   startDelay + float64(i+1)*per,
		}
	}
	return overlays
}
