package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	xerrors "github.com/vidforge/composer-api/errors"
)

func TestItDownloadsOverHTTP(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/assets/clip.mp4", r.URL.Path)
		_, err := w.Write([]byte("some video bytes"))
		require.NoError(t, err)
	}))
	defer svr.Close()

	body, err := GetFile(context.Background(), "request-id-123", svr.URL+"/assets/clip.mp4")
	require.NoError(t, err)
	defer body.Close()

	contents, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Equal(t, "some video bytes", string(contents))
}

func TestItDoesNotRetryClientErrors(t *testing.T) {
	var tries int64
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&tries, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer svr.Close()

	_, err := GetFile(context.Background(), "request-id-123", svr.URL+"/missing.mp4")
	require.Error(t, err)
	require.Contains(t, err.Error(), "bad status code from import request: 404")
	require.True(t, xerrors.IsUnretriable(err), "a 4xx should not be retried by callers either")
	require.Equal(t, int64(1), atomic.LoadInt64(&tries))
}

func TestByteAccumulatorCountsWithoutBuffering(t *testing.T) {
	var acc ByteAccumulatorWriter
	_, err := acc.Write([]byte("12345"))
	require.NoError(t, err)
	_, err = acc.Write([]byte("678"))
	require.NoError(t, err)
	require.Equal(t, int64(8), acc.Count())
}
