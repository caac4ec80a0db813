package fetch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
)

func fastOptions() fetch.Options {
	return fetch.Options{
		RequestTimeout: 200 * time.Millisecond,
		MaxRetries:     2,
		BackoffInitial: time.Millisecond,
		BackoffMax:     2 * time.Millisecond,
	}
}

func TestGet_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("<html>hi</html>"))
	}))
	defer srv.Close()

	resp, err := fetch.New(fastOptions()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>hi</html>", string(resp.Body))
}

func TestGet_Retries5xxThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := fetch.New(fastOptions()).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(resp.Body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestGet_GivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := fetch.New(fastOptions()).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, fetch.IsTransient(err))
	assert.Equal(t, http.StatusServiceUnavailable, fetch.StatusCode(err))
	assert.Equal(t, int32(3), calls.Load(), "1 initial + 2 retries")
}

func TestGet_DoesNotRetry4xx(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "api_key=leaked123 not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := fetch.New(fastOptions()).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.False(t, fetch.IsTransient(err))
	assert.Equal(t, http.StatusNotFound, fetch.StatusCode(err))
	assert.NotContains(t, err.Error(), "leaked123")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGet_AttemptTimeoutIsTransient(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer func() {
		close(release)
		srv.Close()
	}()

	opts := fastOptions()
	opts.RequestTimeout = 20 * time.Millisecond
	opts.MaxRetries = 1
	_, err := fetch.New(opts).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.True(t, fetch.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestGet_CallerCancellationStops(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := fetch.New(fastOptions()).Get(ctx, srv.URL)
	require.ErrorIs(t, err, context.Canceled)
}
