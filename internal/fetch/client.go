// Package fetch is the resilient HTTP layer shared by the scraping cascade and
// the provider clients: per-attempt timeouts, bounded exponential backoff and
// a strict transient/terminal split.
package fetch

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

const defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"

type Options struct {
	// RequestTimeout bounds a single attempt, not the whole retried call.
	RequestTimeout time.Duration
	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	UserAgent    string
	MaxBodyBytes int64

	HTTPClient *http.Client
}

func (o Options) withDefaults() Options {
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 15 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 250 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 2 * time.Second
	}
	if o.BackoffJitterFrac < 0 {
		o.BackoffJitterFrac = 0
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 2 << 20
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	return o
}

// DefaultOptions matches the documented failure semantics: two retries.
func DefaultOptions() Options {
	return Options{MaxRetries: 2, BackoffJitterFrac: 0.2}
}

type Client struct {
	opts   Options
	logger *zap.Logger
}

type Option func(*Client)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(opts Options, options ...Option) *Client {
	c := &Client{opts: opts.withDefaults(), logger: zap.NewNop()}
	for _, o := range options {
		o(c)
	}
	return c
}

// HTTPClient is the underlying transport, for libraries that take an
// *http.Client rather than a request builder.
func (c *Client) HTTPClient() *http.Client {
	return c.opts.HTTPClient
}

// Response is a fully-read 2xx response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

// RequestBuilder constructs a fresh request for each attempt.
type RequestBuilder func(ctx context.Context) (*http.Request, error)

// Get fetches rawURL with browser-like headers.
func (c *Client) Get(ctx context.Context, rawURL string) (*Response, error) {
	return c.Do(ctx, "get", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", "en-US,en;q=0.9")
		return req, nil
	})
}

// Do runs build+send with retries. Transient failures (transport errors,
// attempt timeouts, 5xx, 429) are retried up to MaxRetries times; any other
// non-2xx status returns an *HTTPError immediately.
func (c *Client) Do(ctx context.Context, op string, build RequestBuilder) (*Response, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		resp, err := c.attempt(ctx, op, build)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !IsTransient(err) || attempt >= c.opts.MaxRetries {
			return nil, lastErr
		}

		sleep := c.backoff(attempt)
		c.logger.Debug("fetch: retrying after transient failure",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("sleep", sleep),
			zap.String("error", redact.Secrets(err.Error())),
		)
		t := time.NewTimer(sleep)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}
}

func (c *Client) attempt(ctx context.Context, op string, build RequestBuilder) (*Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()

	req, err := build(reqCtx)
	if err != nil {
		return nil, err
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		// A cancelled or timed-out attempt is never success; only the caller's
		// own cancellation stops the retry loop.
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		return nil, &TransientError{Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.opts.MaxBodyBytes))
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	if resp.StatusCode/100 != 2 {
		he := newHTTPError(op, resp, body)
		if resp.StatusCode/100 == 5 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &TransientError{Err: he}
		}
		return nil, he
	}
	return &Response{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	sleep := c.opts.BackoffInitial
	for i := 0; i < attempt && sleep < c.opts.BackoffMax; i++ {
		sleep *= 2
		if sleep > c.opts.BackoffMax {
			sleep = c.opts.BackoffMax
			break
		}
	}
	if c.opts.BackoffJitterFrac <= 0 {
		return sleep
	}
	j := 1 + (rand.Float64()*2-1)*c.opts.BackoffJitterFrac
	return time.Duration(float64(sleep) * j)
}
