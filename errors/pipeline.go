package errors

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure so upper layers can discriminate
// without string-matching on messages.
type Kind string

const (
	ValidationError    Kind = "ValidationError"
	AssetError         Kind = "AssetError"
	DownloadError      Kind = "DownloadError"
	ProcessingError    Kind = "ProcessingError"
	ConcatenationError Kind = "ConcatenationError"
	UploadError        Kind = "UploadError"
	ResourceError      Kind = "ResourceError"
	TimeoutError       Kind = "TimeoutError"
	Cancelled          Kind = "Cancelled"

	// UnknownError is what KindOf reports for errors that never passed
	// through Wrap. It is not a valid kind to wrap with.
	UnknownError Kind = "UnknownError"
)

// PipelineError is the one failure shape the pipeline surfaces: which stage
// failed, how the failure is classified and, for per-segment work, which
// segment produced it. The cause chain stays intact via Unwrap.
type PipelineError struct {
	Stage     string
	Kind      Kind
	SegmentID string
	Err       error
}

func (e *PipelineError) Error() string {
	if e.SegmentID != "" {
		return fmt.Sprintf("%s in stage %s (segment %s): %s", e.Kind, e.Stage, e.SegmentID, e.Err)
	}
	return fmt.Sprintf("%s in stage %s: %s", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Wrap classifies err as a PipelineError for the given stage. The innermost
// classification wins: an error that already carries a PipelineError is
// returned unchanged, so a downloader's AssetError is not relabelled
// ProcessingError by the stage that ran it. Context errors override kind.
func Wrap(stage string, kind Kind, err error) error {
	return WrapSegment(stage, kind, "", err)
}

// WrapSegment is Wrap for per-segment failures.
func WrapSegment(stage string, kind Kind, segmentID string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		kind = Cancelled
	} else if errors.Is(err, context.DeadlineExceeded) {
		kind = TimeoutError
	}
	return &PipelineError{Stage: stage, Kind: kind, SegmentID: segmentID, Err: err}
}

// KindOf reports the classification of err, or UnknownError if it never
// passed through Wrap. Bare context errors still classify.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return TimeoutError
	}
	return UnknownError
}

// StageOf reports which stage err was classified in, if any.
func StageOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsFatal reports whether a failure of this kind aborts the whole job.
// ProcessingError is isolated per item in batch contexts, so it is the only
// non-fatal kind at the segment level.
func (k Kind) IsFatal() bool {
	return k != ProcessingError
}
