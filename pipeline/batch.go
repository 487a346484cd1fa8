package pipeline

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	xerrors "github.com/vidforge/composer-api/errors"
)

// ItemResult is the outcome of one item of a batch, in input order.
type ItemResult[T any] struct {
	Index int
	ID    string
	Value T
	Err   error
}

// RunBatch fans fn out over n items with at most limit running at once.
// Results come back in input order. Item failures classified non-fatal
// (ProcessingError) are isolated; fatal kinds, strict mode, every item
// failing, or cancellation fail the batch. Item panics count as item
// failures.
func RunBatch[T any](ctx context.Context, limit, n int, strict bool, fn func(ctx context.Context, index int) (T, string, error)) ([]ItemResult[T], error) {
	if limit < 1 {
		limit = 1
	}
	results := make([]ItemResult[T], n)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				results[i] = ItemResult[T]{Index: i, Err: err}
				return err
			}
			var id string
			value, err := recovered(func() (T, error) {
				v, itemID, err := fn(groupCtx, i)
				id = itemID
				return v, err
			})
			results[i] = ItemResult[T]{Index: i, ID: id, Value: value, Err: err}
			if err != nil && (strict || xerrors.KindOf(err).IsFatal()) {
				return err
			}
			return nil
		})
	}
	err := group.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return results, ctxErr
	}
	if err != nil {
		return results, err
	}

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	if n > 0 && failed == n {
		return results, fmt.Errorf("all %d items failed: %s", n, summarizeFailures(results))
	}
	return results, nil
}

// summarizeFailures lists each failed item with its error kind, for the
// all-items-failed diagnostic.
func summarizeFailures[T any](results []ItemResult[T]) string {
	var parts []string
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("#%d", r.Index)
		}
		parts = append(parts, fmt.Sprintf("%s=%s", id, xerrors.KindOf(r.Err)))
	}
	return strings.Join(parts, ", ")
}
