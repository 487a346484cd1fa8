/*
Package log wraps go-kit logfmt logging with request-scoped loggers and
context-carried metadata.
*/
package log

import (
	"context"
)

// unique type to prevent assignment.
type logContextKeyType struct{}

var logContextKey = logContextKeyType{}

// logging metadata container; immutable after creation so no locking needed.
type metadata map[string]any

func (m metadata) Flat() []any {
	out := []any{}
	for k, v := range m {
		out = append(out, k, v)
	}
	return out
}

// WithLogValues returns a new context carrying the provided key/value pairs in
// its logging metadata. Values from parent contexts are preserved.
func WithLogValues(ctx context.Context, args ...string) context.Context {
	oldMetadata, _ := ctx.Value(logContextKey).(metadata)
	newMetadata := metadata{}
	for k, v := range oldMetadata {
		newMetadata[k] = v
	}
	for i := 1; i < len(args); i += 2 {
		newMetadata[args[i-1]] = args[i]
	}
	return context.WithValue(ctx, logContextKey, newMetadata)
}

func LogCtx(ctx context.Context, message string, args ...any) {
	var requestID string
	meta, _ := ctx.Value(logContextKey).(metadata)
	if meta != nil {
		requestID, _ = meta["request_id"].(string)
	}
	allArgs := append([]any{}, meta.Flat()...)
	allArgs = append(allArgs, args...)
	if requestID == "" {
		LogNoRequestID(message, allArgs...)
	} else {
		Log(requestID, message, allArgs...)
	}
}
