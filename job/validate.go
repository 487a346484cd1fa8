package job

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// ValidationResult is the outcome of both validation phases. Errors are
// fatal; warnings travel with the job but never stop it.
type ValidationResult struct {
	OK       bool     `json:"ok"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Limits carries the few settings the semantic phase needs.
type Limits struct {
	DefaultImageDuration float64
}

func Parse(payload []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(payload, &j); err != nil {
		return nil, fmt.Errorf("cannot unmarshal job: %w", err)
	}
	return &j, nil
}

// ValidateBytes runs the structural phase (schema) and, when it passes, the
// semantic phase on the parsed job.
func ValidateBytes(payload []byte, limits Limits) (*Job, ValidationResult) {
	schemaResult, err := ValidateSchema(payload)
	if err != nil {
		return nil, ValidationResult{Errors: []string{fmt.Sprintf("schema check failed: %s", err)}}
	}
	if !schemaResult.Valid() {
		var result ValidationResult
		for _, schemaErr := range schemaResult.Errors() {
			result.Errors = append(result.Errors, schemaErr.String())
		}
		return nil, result
	}

	parsed, err := Parse(payload)
	if err != nil {
		return nil, ValidationResult{Errors: []string{err.Error()}}
	}
	return parsed, parsed.Validate(limits)
}

// Validate is the semantic phase. The schema has already guaranteed shapes
// and ranges; this phase checks everything that needs cross-field reasoning.
func (j *Job) Validate(limits Limits) ValidationResult {
	var errs, warns []string

	seenIDs := map[string]bool{}
	for i := range j.Segments {
		seg := &j.Segments[i]

		if seenIDs[seg.ID] {
			errs = append(errs, fmt.Sprintf("duplicate segment id %q", seg.ID))
		}
		seenIDs[seg.ID] = true

		if seg.Video != nil && seg.Image != nil {
			warns = append(warns, fmt.Sprintf("segment %s: both image and video are set, the video will be used", seg.ID))
		}

		if seg.UsesVideo() {
			if msg := checkAssetURL(seg.Video.URL); msg != "" {
				errs = append(errs, fmt.Sprintf("segment %s: video %s", seg.ID, msg))
			}
		} else if seg.UsesImage() {
			if msg := checkAssetURL(seg.Image.URL); msg != "" {
				errs = append(errs, fmt.Sprintf("segment %s: image %s", seg.ID, msg))
			}
		}
		if seg.HasVoiceOver() {
			if msg := checkAssetURL(seg.VoiceOver.URL); msg != "" {
				errs = append(errs, fmt.Sprintf("segment %s: voice_over %s", seg.ID, msg))
			}
		}

		for _, transition := range []*Transition{seg.TransitionIn, seg.TransitionOut} {
			if transition != nil && !IsKnownTransition(transition.Type) {
				warns = append(warns, fmt.Sprintf("segment %s: unknown transition type %q degrades to %q at render time", seg.ID, transition.Type, TransitionFade))
			}
		}

		for overlayIdx, overlay := range seg.TextOver {
			if overlay.End <= overlay.Start {
				errs = append(errs, fmt.Sprintf("segment %s: text_over[%d] window must end after it starts (start=%.2f end=%.2f)", seg.ID, overlayIdx, overlay.Start, overlay.End))
			}
		}

		// Content duration is only known up front for still images without a
		// voice-over; probed durations cover the rest at render time.
		if seg.UsesImage() && !seg.HasVoiceOver() && limits.DefaultImageDuration > 0 {
			bound := limits.DefaultImageDuration
			if sum := seg.TransitionIn.Seconds() + seg.TransitionOut.Seconds(); sum > bound {
				errs = append(errs, fmt.Sprintf("segment %s: transition durations sum to %.2fs, more than the %.2fs image duration", seg.ID, sum, bound))
			}
			for overlayIdx, overlay := range seg.TextOver {
				if overlay.End > bound {
					errs = append(errs, fmt.Sprintf("segment %s: text_over[%d] ends at %.2fs, past the %.2fs image duration", seg.ID, overlayIdx, overlay.End, bound))
				}
			}
		}
	}

	if j.BackgroundMusic != nil && j.BackgroundMusic.URL != "" {
		if msg := checkAssetURL(j.BackgroundMusic.URL); msg != "" {
			errs = append(errs, fmt.Sprintf("background_music %s", msg))
		}
	}

	return ValidationResult{OK: len(errs) == 0, Errors: errs, Warnings: warns}
}

// checkAssetURL accepts http(s) URLs and bare local paths.
func checkAssetURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Sprintf("url %q is not parseable: %s", raw, err)
	}
	switch u.Scheme {
	case "http", "https":
		if u.Host == "" {
			return fmt.Sprintf("url %q has no host", raw)
		}
		return ""
	case "":
		return ""
	default:
		return fmt.Sprintf("url %q has unsupported scheme %q", raw, u.Scheme)
	}
}
