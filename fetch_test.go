package adpulse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer answers with the given status codes in order, then 200.
func scriptedServer(t *testing.T, body string, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(hits.Add(1))
		if n <= len(statuses) {
			w.WriteHeader(statuses[n-1])
			w.Write([]byte("boom"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func recordingFetcher(slept *[]time.Duration) *Fetcher {
	f := NewFetcher(nil, discardLogger())
	f.Sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return ctx.Err()
	}
	return f
}

func TestFetchWithRetryRecoversFromServerErrors(t *testing.T) {
	srv, hits := scriptedServer(t, `{"ok":true}`, 503, 503)
	var slept []time.Duration
	f := recordingFetcher(&slept)

	body, err := f.FetchWithRetry(context.Background(), srv.URL, ListRetryPolicy)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestFetchWithRetryGivesUp(t *testing.T) {
	srv, hits := scriptedServer(t, `{}`, 500, 502, 503, 504)
	var slept []time.Duration
	f := recordingFetcher(&slept)

	_, err := f.FetchWithRetry(context.Background(), srv.URL, ListRetryPolicy)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindServer, fe.Kind)
	assert.Equal(t, 503, fe.Status)
	assert.Equal(t, 3, fe.Attempts)
	assert.Equal(t, int32(3), hits.Load())
	assert.Len(t, slept, 2)
	assert.Contains(t, err.Error(), "failed after 3 attempts")
}

func TestFetchWithRetryClientErrorNotRetried(t *testing.T) {
	srv, hits := scriptedServer(t, `{}`, 404)
	var slept []time.Duration
	f := recordingFetcher(&slept)

	_, err := f.FetchWithRetry(context.Background(), srv.URL, ListRetryPolicy)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindClient, fe.Kind)
	assert.Equal(t, 404, fe.Status)
	assert.Equal(t, 1, fe.Attempts)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, slept)
}

func TestFetchWithRetryNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()

	var slept []time.Duration
	f := recordingFetcher(&slept)

	_, err := f.FetchWithRetry(context.Background(), target, PollRetryPolicy)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindNetwork, fe.Kind)
	assert.Zero(t, fe.Status)
	assert.Equal(t, 2, fe.Attempts)
	assert.Equal(t, []time.Duration{500 * time.Millisecond}, slept)
}

func TestFetchWithRetryStopsOnCancel(t *testing.T) {
	srv, hits := scriptedServer(t, `{}`, 503, 503, 503)
	ctx, cancel := context.WithCancel(context.Background())

	f := NewFetcher(nil, discardLogger())
	f.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := f.FetchWithRetry(ctx, srv.URL, ListRetryPolicy)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchWithRetrySingleAttempt(t *testing.T) {
	srv, hits := scriptedServer(t, `{}`, 503)
	var slept []time.Duration
	f := recordingFetcher(&slept)

	_, err := f.FetchWithRetry(context.Background(), srv.URL, RetryPolicy{})
	require.Error(t, err)
	assert.Equal(t, int32(1), hits.Load())
	assert.Empty(t, slept)
}

func TestRetryPolicyDelay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Backoff: []time.Duration{time.Second, 2 * time.Second}}

	assert.Equal(t, 5, p.Attempts())
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(4))

	assert.Equal(t, 1, RetryPolicy{}.Attempts())
	assert.Equal(t, time.Duration(0), RetryPolicy{MaxAttempts: 3}.Delay(1))
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), 0))
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
