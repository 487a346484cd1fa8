package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	xerrors "github.com/vidforge/composer-api/errors"
)

func segmentErr(id string, err error) error {
	return xerrors.WrapSegment("render_segments", xerrors.ProcessingError, id, err)
}

func TestRunBatch_OrderPreserved(t *testing.T) {
	require := require.New(t)
	results, err := RunBatch(context.Background(), 4, 8, false,
		func(ctx context.Context, i int) (int, string, error) {
			// later items finish first
			time.Sleep(time.Duration(8-i) * time.Millisecond)
			return i * 10, fmt.Sprintf("seg%d", i), nil
		})
	require.NoError(err)
	require.Len(results, 8)
	for i, r := range results {
		require.Equal(i, r.Index)
		require.Equal(i*10, r.Value)
		require.Equal(fmt.Sprintf("seg%d", i), r.ID)
		require.NoError(r.Err)
	}
}

func TestRunBatch_ConcurrencyBounded(t *testing.T) {
	require := require.New(t)
	var current, peak int64
	var mu sync.Mutex
	_, err := RunBatch(context.Background(), 3, 12, false,
		func(ctx context.Context, i int) (struct{}, string, error) {
			n := atomic.AddInt64(&current, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&current, -1)
			return struct{}{}, "", nil
		})
	require.NoError(err)
	require.LessOrEqual(peak, int64(3))
}

func TestRunBatch_ItemFailuresIsolated(t *testing.T) {
	require := require.New(t)
	results, err := RunBatch(context.Background(), 2, 3, false,
		func(ctx context.Context, i int) (string, string, error) {
			id := fmt.Sprintf("seg%d", i)
			if i == 1 {
				return "", id, segmentErr(id, fmt.Errorf("render failed"))
			}
			return "clip" + id, id, nil
		})
	require.NoError(err)
	require.NoError(results[0].Err)
	require.Error(results[1].Err)
	require.NoError(results[2].Err)
	require.Equal(xerrors.ProcessingError, xerrors.KindOf(results[1].Err))
}

func TestRunBatch_AllFailedDiagnostic(t *testing.T) {
	require := require.New(t)
	_, err := RunBatch(context.Background(), 2, 2, false,
		func(ctx context.Context, i int) (string, string, error) {
			id := fmt.Sprintf("seg%d", i)
			return "", id, segmentErr(id, fmt.Errorf("render failed"))
		})
	require.Error(err)
	require.ErrorContains(err, "all 2 items failed")
	require.ErrorContains(err, "seg0=ProcessingError")
	require.ErrorContains(err, "seg1=ProcessingError")
}

func TestRunBatch_StrictModeAborts(t *testing.T) {
	require := require.New(t)
	_, err := RunBatch(context.Background(), 1, 3, true,
		func(ctx context.Context, i int) (string, string, error) {
			if i == 0 {
				return "", "seg0", segmentErr("seg0", fmt.Errorf("render failed"))
			}
			return "ok", "", nil
		})
	require.Error(err)
	require.Equal(xerrors.ProcessingError, xerrors.KindOf(err))
}

func TestRunBatch_FatalKindAborts(t *testing.T) {
	_, err := RunBatch(context.Background(), 1, 3, false,
		func(ctx context.Context, i int) (string, string, error) {
			if i == 0 {
				return "", "seg0", xerrors.WrapSegment("download", xerrors.DownloadError, "seg0", fmt.Errorf("gone"))
			}
			return "ok", "", nil
		})
	require.Error(t, err)
	require.Equal(t, xerrors.DownloadError, xerrors.KindOf(err))
}

func TestRunBatch_PanicIsItemFailure(t *testing.T) {
	require := require.New(t)
	results, err := RunBatch(context.Background(), 2, 2, false,
		func(ctx context.Context, i int) (string, string, error) {
			if i == 0 {
				panic("boom")
			}
			return "ok", "seg1", nil
		})
	// a panic is unclassified, so it aborts like any fatal failure
	require.Error(err)
	require.ErrorContains(err, "panic caught")
	require.Error(results[0].Err)
}

func TestRunBatch_Cancellation(t *testing.T) {
	require := require.New(t)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	go func() {
		<-started
		cancel()
	}()
	_, err := RunBatch(ctx, 1, 4, false,
		func(ctx context.Context, i int) (string, string, error) {
			if i == 0 {
				close(started)
			}
			<-ctx.Done()
			return "", fmt.Sprintf("seg%d", i), ctx.Err()
		})
	require.Error(err)
	require.Equal(xerrors.Cancelled, xerrors.KindOf(err))
}

func TestRunBatch_Empty(t *testing.T) {
	results, err := RunBatch(context.Background(), 2, 0, false,
		func(ctx context.Context, i int) (string, string, error) {
			return "", "", nil
		})
	require.NoError(t, err)
	require.Empty(t, results)
}
