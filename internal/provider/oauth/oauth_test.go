package oauth_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider/oauth"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func tokenServer(t *testing.T, calls *atomic.Int32, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "id", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret", r.PostForm.Get("client_secret"))
		time.Sleep(delay)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":3600}`, n)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newProvider(srv *httptest.Server, clk *clock) *oauth.TokenProvider {
	cfg := oauth.Config{TokenURL: srv.URL, ClientID: "id", ClientSecret: "secret", ExpirySkew: time.Minute}
	return oauth.NewTokenProvider(cfg, fetch.New(fetch.Options{RequestTimeout: 2 * time.Second}), oauth.WithClock(clk.Now))
}

func TestToken_ConcurrentCallersShareOneRefresh(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls, 50*time.Millisecond)
	p := newProvider(srv, &clock{t: time.Unix(1_700_000_000, 0)})

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	errs := make([]error, 20)
	for i := range tokens {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens[i], errs[i] = p.Token(context.Background())
		}()
	}
	wg.Wait()

	for i := range tokens {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestToken_RefreshesNearExpiry(t *testing.T) {
	var calls atomic.Int32
	srv := tokenServer(t, &calls, 0)
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	p := newProvider(srv, clk)
	ctx := context.Background()

	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)

	clk.Advance(58 * time.Minute)
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok, "still outside the skew window")

	clk.Advance(90 * time.Second)
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)

	p.Invalidate()
	tok, err = p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-3", tok)
}

func TestToken_Disabled(t *testing.T) {
	p := oauth.NewTokenProvider(oauth.Config{TokenURL: "https://auth.example"}, fetch.New(fetch.Options{}))
	assert.False(t, p.Enabled())
	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, provider.ErrDisabled)
}

func TestToken_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "client_secret=secret rejected", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"ok","expires_in":60}`))
	}))
	defer srv.Close()
	p := newProvider(srv, &clock{t: time.Unix(1_700_000_000, 0)})

	_, err := p.Token(context.Background())
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "=secret")

	tok, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", tok)
}

func TestToken_ShortLivedTokenIsReused(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"short-%d","expires_in":30}`, n)
	}))
	defer srv.Close()
	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	p := newProvider(srv, clk)
	ctx := context.Background()

	for range 3 {
		tok, err := p.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "short-1", tok)
		clk.Advance(4 * time.Second)
	}
	assert.Equal(t, int32(1), calls.Load(), "a skew longer than the lifetime must not force a refresh per call")

	clk.Advance(5 * time.Second)
	tok, err := p.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "short-2", tok)
}

func TestToken_CancelledCallerDoesNotFailSharedRefresh(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := calls.Add(1)
		if n == 1 {
			close(started)
		}
		<-release
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprintf(w, `{"access_token":"tok-%d","expires_in":3600}`, n)
	}))
	defer srv.Close()
	p := newProvider(srv, &clock{t: time.Unix(1_700_000_000, 0)})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := p.Token(firstCtx)
		firstErr <- err
	}()
	<-started

	type result struct {
		tok string
		err error
	}
	second := make(chan result, 1)
	go func() {
		tok, err := p.Token(context.Background())
		second <- result{tok, err}
	}()

	cancelFirst()
	assert.ErrorIs(t, <-firstErr, context.Canceled)
	close(release)

	r := <-second
	require.NoError(t, r.err)
	assert.Equal(t, "tok-1", r.tok)
	assert.Equal(t, int32(1), calls.Load())
}
