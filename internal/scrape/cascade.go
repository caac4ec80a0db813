package scrape

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/metrics"
	"github.com/shpitdev/outreach-contact-pipeline/internal/search"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

// Strategy is one stage of the cascade. An empty result with a nil error
// means "nothing here"; the cascade moves on either way.
type Strategy interface {
	Name() string
	TryFind(ctx context.Context, run *Run) ([]contact.Candidate, error)
}

// Run is the state shared by the strategies of one FindByScraping call.
type Run struct {
	Domain  string
	SeedURL string
	// AuthorName is set by the author-page strategy for later stages.
	AuthorName string
	Search     search.Engine
	Logger     *zap.Logger

	client *fetch.Client

	mu    sync.Mutex
	pages map[string]*Page
}

// NewRun builds a Run outside a Cascade. Strategies rely on it for page fetches.
func NewRun(client *fetch.Client, domain, seedURL string, engine search.Engine) *Run {
	domain = contact.NormalizeDomain(domain)
	if strings.TrimSpace(seedURL) == "" {
		seedURL = "https://" + domain + "/"
	}
	return &Run{
		Domain:  domain,
		SeedURL: seedURL,
		Search:  engine,
		Logger:  zap.NewNop(),
		client:  client,
		pages:   make(map[string]*Page),
	}
}

// Origin is the scheme://host the seed URL lives on.
func (r *Run) Origin() string {
	if u, err := url.Parse(r.SeedURL); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return "https://" + r.Domain
}

// Page fetches and parses rawURL once per run.
func (r *Run) Page(ctx context.Context, rawURL string) (*Page, error) {
	r.mu.Lock()
	if p, ok := r.pages[rawURL]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	resp, err := r.client.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	p, err := ParsePage(resp.URL, resp.Body)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.pages[rawURL] = p
	r.mu.Unlock()
	return p, nil
}

// Seed returns the parsed seed page.
func (r *Run) Seed(ctx context.Context) (*Page, error) {
	return r.Page(ctx, r.SeedURL)
}

// Result is the cascade outcome. Strategy names the stage that produced
// Candidates, or is empty when nothing was found.
type Result struct {
	Candidates []contact.Candidate
	AuthorName string
	Strategy   string
}

type Cascade struct {
	client     *fetch.Client
	strategies []Strategy
	primary    search.Engine
	secondary  search.Engine
	// engineDelay spaces consecutive search requests within one run.
	engineDelay time.Duration
	logger      *zap.Logger
}

type Option func(*Cascade)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Cascade) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStrategies replaces the default strategy order.
func WithStrategies(strategies ...Strategy) Option {
	return func(c *Cascade) { c.strategies = strategies }
}

// WithSearchEngines sets the primary engine and its fallback. Either may be nil.
func WithSearchEngines(primary, secondary search.Engine) Option {
	return func(c *Cascade) {
		c.primary = primary
		c.secondary = secondary
	}
}

func WithEngineDelay(d time.Duration) Option {
	return func(c *Cascade) { c.engineDelay = d }
}

// DefaultStrategies is the standard order: seed page, author pages,
// conventional paths, RDAP, domain web search, name web search, social search.
func DefaultStrategies(rdapBaseURL string) []Strategy {
	return []Strategy{
		SeedPage{},
		AuthorPages{MaxPages: 3},
		ConventionalPaths{Paths: DefaultPaths, MaxProfiles: 5},
		RDAP{BaseURL: rdapBaseURL},
		WebSearch{MaxPages: 3},
		NameSearch{MaxPages: 2},
		SocialSearch{MaxHandles: 2},
	}
}

// NewCascade returns a cascade using DuckDuckGo then Bing for web search and
// the public RDAP bootstrap service, unless overridden.
func NewCascade(client *fetch.Client, opts ...Option) *Cascade {
	c := &Cascade{
		client:      client,
		primary:     &search.DuckDuckGo{Client: client},
		secondary:   &search.Bing{Client: client},
		engineDelay: 2 * time.Second,
		logger:      zap.NewNop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.strategies == nil {
		c.strategies = DefaultStrategies("")
	}
	return c
}

// newEngine builds the per-run engine chain so the inter-request delay applies
// within one run only.
func (c *Cascade) newEngine() search.Engine {
	if c.primary == nil && c.secondary == nil {
		return nil
	}
	var e search.Engine
	switch {
	case c.primary == nil:
		e = c.secondary
	case c.secondary == nil:
		e = c.primary
	default:
		e = &search.Fallback{Primary: c.primary, Secondary: c.secondary, Logger: c.logger}
	}
	limit := rate.Inf
	if c.engineDelay > 0 {
		limit = rate.Every(c.engineDelay)
	}
	return search.NewThrottled(e, limit)
}

// FindByScraping runs the strategies in order and returns the first non-empty
// result. It never fails: strategy errors are logged and skipped, and
// cancellation ends the run with whatever has been found (nothing).
func (c *Cascade) FindByScraping(ctx context.Context, domain, seedURL string) Result {
	run := NewRun(c.client, domain, seedURL, c.newEngine())
	logger := c.logger.With(zap.String("domain", run.Domain))
	run.Logger = logger
	if run.Domain == "" {
		return Result{}
	}

	for _, s := range c.strategies {
		if ctx.Err() != nil {
			break
		}
		found, err := s.TryFind(ctx, run)
		if err != nil {
			metrics.StrategyResults.WithLabelValues(s.Name(), "error").Inc()
			logger.Debug("scrape: strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("error", redact.Secrets(err.Error())),
			)
			continue
		}
		found = dedupe(contact.FilterJunk(found))
		if len(found) == 0 {
			metrics.StrategyResults.WithLabelValues(s.Name(), "empty").Inc()
			continue
		}
		metrics.StrategyResults.WithLabelValues(s.Name(), "found").Inc()
		logger.Debug("scrape: strategy found candidates",
			zap.String("strategy", s.Name()),
			zap.Int("count", len(found)),
		)
		return Result{Candidates: found, AuthorName: run.AuthorName, Strategy: s.Name()}
	}
	return Result{AuthorName: run.AuthorName}
}
