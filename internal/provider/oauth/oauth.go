// Package oauth provides a concurrency-safe, lazily refreshing
// client-credentials token source for providers that require OAuth.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

type Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	// ExpirySkew refreshes this long before the server-side expiry. It is
	// capped at half the token lifetime so short-lived tokens are still reused.
	ExpirySkew time.Duration
	// RefreshTimeout bounds one token request. The request runs detached from
	// the caller that triggered it, since other callers may be waiting on it.
	RefreshTimeout time.Duration
}

type token struct {
	access    string
	refreshAt time.Time
}

// TokenProvider caches one access token. Concurrent callers that find it
// missing or stale share a single refresh request.
type TokenProvider struct {
	cfg    Config
	cc     *clientcredentials.Config
	http   *http.Client
	now    func() time.Time
	logger *zap.Logger

	mu    sync.Mutex
	tok   token
	group singleflight.Group
}

type Option func(*TokenProvider)

func WithClock(now func() time.Time) Option {
	return func(p *TokenProvider) {
		if now != nil {
			p.now = now
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *TokenProvider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewTokenProvider(cfg Config, client *fetch.Client, opts ...Option) *TokenProvider {
	if cfg.ExpirySkew <= 0 {
		cfg.ExpirySkew = time.Minute
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       strings.Fields(cfg.Scope),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	p := &TokenProvider{cfg: cfg, cc: cc, now: time.Now, logger: zap.NewNop()}
	if client != nil {
		p.http = client.HTTPClient()
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Enabled reports whether client credentials are configured.
func (p *TokenProvider) Enabled() bool {
	return p != nil && strings.TrimSpace(p.cfg.ClientID) != "" && strings.TrimSpace(p.cfg.ClientSecret) != "" &&
		strings.TrimSpace(p.cfg.TokenURL) != ""
}

// Token returns a valid access token, refreshing it if needed. A caller whose
// context ends stops waiting, but the shared refresh carries on for the rest.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if !p.Enabled() {
		return "", provider.ErrDisabled
	}
	if tok, ok := p.cached(); ok {
		return tok, nil
	}
	ch := p.group.DoChan("token", func() (any, error) {
		if tok, ok := p.cached(); ok {
			return tok, nil
		}
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.RefreshTimeout)
		defer cancel()
		return p.refresh(rctx)
	})
	select {
	case <-ctx.Done():
		return "", eris.Wrap(ctx.Err(), "oauth: waiting for token")
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// Invalidate drops the cached token, e.g. after the API rejected it.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.tok = token{}
	p.mu.Unlock()
}

func (p *TokenProvider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.tok.access == "" || !p.now().Before(p.tok.refreshAt) {
		return "", false
	}
	return p.tok.access, true
}

func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	if p.http != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)
	}
	t, err := p.cc.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			// The response body may echo submitted credentials, so only the
			// status and the OAuth error code are kept.
			status := re.Response.Status
			if re.ErrorCode != "" {
				status += " (" + redact.Secrets(re.ErrorCode) + ")"
			}
			return "", eris.Errorf("oauth: token endpoint returned %s", status)
		}
		return "", eris.Wrap(err, "oauth: token request")
	}

	// Expiry is computed on the wall clock; only its distance from now is kept.
	ttl := time.Hour
	if !t.Expiry.IsZero() {
		if d := time.Until(t.Expiry); d > 0 {
			ttl = d
		}
	}
	skew := min(p.cfg.ExpirySkew, ttl/2)

	p.mu.Lock()
	p.tok = token{access: t.AccessToken, refreshAt: p.now().Add(ttl - skew)}
	p.mu.Unlock()
	p.logger.Debug("oauth: refreshed access token", zap.Duration("ttl", ttl), zap.Duration("skew", skew))
	return t.AccessToken, nil
}
