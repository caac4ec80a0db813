// Package search wraps public web search engines behind a single Engine
// interface so the scraping cascade can swap or chain them freely.
package search

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shpitdev/outreach-contact-pipeline/internal/metrics"
)

// ErrBlocked reports that the engine answered with a CAPTCHA/anti-bot page.
var ErrBlocked = errors.New("search engine blocked the request")

// Result is one organic search hit.
type Result struct {
	URL     string
	Title   string
	Snippet string
}

type Engine interface {
	Name() string
	Search(ctx context.Context, query string) ([]Result, error)
}

var captchaMarkers = [][]byte{[]byte("captcha"), []byte("unusual traffic"), []byte("are you a robot")}

// looksBlocked sniffs a response body for anti-bot markers.
func looksBlocked(body []byte) bool {
	lower := bytes.ToLower(body)
	for _, m := range captchaMarkers {
		if bytes.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Fallback queries Primary and falls back to Secondary when Primary errors or is blocked.
type Fallback struct {
	Primary   Engine
	Secondary Engine
	Logger    *zap.Logger
}

func (f *Fallback) Name() string {
	names := make([]string, 0, 2)
	if f.Primary != nil {
		names = append(names, f.Primary.Name())
	}
	if f.Secondary != nil {
		names = append(names, f.Secondary.Name())
	}
	return strings.Join(names, "->")
}

func (f *Fallback) Search(ctx context.Context, query string) ([]Result, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if f.Primary == nil && f.Secondary == nil {
		return nil, eris.New("no search engines configured")
	}
	if f.Primary != nil {
		res, err := f.Primary.Search(ctx, query)
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ErrBlocked) {
			metrics.SearchEngineBlocked.WithLabelValues(f.Primary.Name()).Inc()
		}
		if f.Secondary == nil {
			return nil, err
		}
		logger.Debug("search: primary engine failed, falling back",
			zap.String("primary", f.Primary.Name()),
			zap.String("secondary", f.Secondary.Name()),
			zap.Error(err),
		)
	}
	res, err := f.Secondary.Search(ctx, query)
	if errors.Is(err, ErrBlocked) {
		metrics.SearchEngineBlocked.WithLabelValues(f.Secondary.Name()).Inc()
	}
	return res, err
}

// Throttled spaces out consecutive calls to Next by at least the limiter's interval.
type Throttled struct {
	Next    Engine
	Limiter *rate.Limiter
}

// NewThrottled allows one immediate call, then one per interval.
func NewThrottled(next Engine, interval rate.Limit) *Throttled {
	return &Throttled{Next: next, Limiter: rate.NewLimiter(interval, 1)}
}

func (t *Throttled) Name() string { return t.Next.Name() }

func (t *Throttled) Search(ctx context.Context, query string) ([]Result, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	return t.Next.Search(ctx, query)
}
