package transcript

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Words NFC-normalizes the transcript and splits it on whitespace. All span
// and timing logic operates on this word sequence, so compound words are
// never broken apart.
func Words(text string) []string {
	return strings.Fields(norm.NFC.String(text))
}

// SpanLimits bounds a single caption line. MaxWords and MaxChars are hard
// limits, MinWords is a target: short transcripts and leftovers can go below
// it.
type SpanLimits struct {
	MinWords int
	MaxWords int
	MaxChars int
}

// Fits reports whether the span obeys the hard limits. A single word longer
// than MaxChars fits by definition, as it cannot be split further.
func (l SpanLimits) Fits(span string) bool {
	words := strings.Fields(span)
	if len(words) > l.MaxWords {
		return false
	}
	if len(words) <= 1 {
		return true
	}
	return runeLen(span) <= l.MaxChars
}

func runeLen(s string) int {
	return len([]rune(s))
}

// SplitSpans chunks the transcript into caption-sized lines greedily. A short
// tail is merged back into the previous line when the merge still fits.
func SplitSpans(text string, limits SpanLimits) []string {
	return splitWords(Words(text), limits)
}

func splitWords(words []string, limits SpanLimits) []string {
	if len(words) == 0 {
		return nil
	}

	var spans []string
	var current []string
	currentLen := 0
	for _, word := range words {
		wordLen := runeLen(word)
		if len(current) > 0 && (len(current)+1 > limits.MaxWords || currentLen+1+wordLen > limits.MaxChars) {
			spans = append(spans, strings.Join(current, " "))
			current, currentLen = nil, 0
		}
		current = append(current, word)
		if currentLen == 0 {
			currentLen = wordLen
		} else {
			currentLen += 1 + wordLen
		}
	}
	spans = append(spans, strings.Join(current, " "))

	// Merge a stub tail into the previous span when the combined word count
	// still fits. Only words are checked: a slightly wide line reads better
	// than a one-word orphan.
	if len(spans) >= 2 {
		tailWords := len(strings.Fields(spans[len(spans)-1]))
		prevWords := len(strings.Fields(spans[len(spans)-2]))
		if tailWords < limits.MinWords && prevWords+tailWords <= limits.MaxWords {
			merged := spans[len(spans)-2] + " " + spans[len(spans)-1]
			spans = append(spans[:len(spans)-2], merged)
		}
	}
	return spans
}

// RepairSpans re-chunks any span that busts the hard limits and drops empty
// ones, leaving compliant spans untouched. Used to sanitize LLM output.
func RepairSpans(spans []string, limits SpanLimits) []string {
	var repaired []string
	for _, span := range spans {
		span = strings.TrimSpace(span)
		if span == "" {
			continue
		}
		if limits.Fits(span) {
			repaired = append(repaired, span)
			continue
		}
		repaired = append(repaired, splitWords(strings.Fields(span), limits)...)
	}
	return repaired
}

// PreservationRatio measures how much of the original word sequence survives
// in the spans, in order. Tokens are compared case- and punctuation-
// insensitively.
func PreservationRatio(original []string, spans []string) float64 {
	if len(original) == 0 {
		return 1
	}
	var spanWords []string
	for _, span := range spans {
		spanWords = append(spanWords, strings.Fields(span)...)
	}
	preserved, cursor := 0, 0
	for _, w := range original {
		key := normalizeToken(w)
		for j := cursor; j < len(spanWords); j++ {
			if normalizeToken(spanWords[j]) == key {
				preserved++
				cursor = j + 1
				break
			}
		}
	}
	return float64(preserved) / float64(len(original))
}
