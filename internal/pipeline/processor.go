// Package pipeline runs one discovery job end to end: scraping cascade,
// provider orchestration, blocklist screening and persistence.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/metrics"
	"github.com/shpitdev/outreach-contact-pipeline/internal/orchestrator"
	"github.com/shpitdev/outreach-contact-pipeline/internal/scrape"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

// ErrInvalidJob is returned for jobs with neither a usable domain nor URL.
var ErrInvalidJob = eris.New("job has no usable domain")

type Cascade interface {
	FindByScraping(ctx context.Context, domain, seedURL string) scrape.Result
}

type ContactFinder interface {
	FindContacts(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

type Blocklist interface {
	IsEmailBlocked(ctx context.Context, email string) (bool, error)
}

type Repository interface {
	Create(ctx context.Context, prospectID string, c contact.Scored) error
}

type Job struct {
	Domain     string `json:"domain"`
	URL        string `json:"url,omitempty"`
	ProspectID string `json:"prospect_id,omitempty"`
}

type JobResult struct {
	ProspectID     string           `json:"prospect_id"`
	Domain         string           `json:"domain"`
	RunID          string           `json:"run_id"`
	Found          int              `json:"found"`
	Contacts       []contact.Scored `json:"contacts"`
	SourcesUsed    []string         `json:"sources_used"`
	TotalCostCents int              `json:"total_cost_cents"`
	Cached         bool             `json:"cached"`
	// Strategy is the cascade strategy that produced the scraped seed, if any.
	Strategy string `json:"scrape_strategy,omitempty"`
	Blocked  int    `json:"blocked"`
	// PersistFailures counts contacts the repository rejected.
	PersistFailures int `json:"persist_failures"`
}

type Processor struct {
	cascade   Cascade
	finder    ContactFinder
	blocklist Blocklist
	repo      Repository
	logger    *zap.Logger
}

type Option func(*Processor)

func WithBlocklist(b Blocklist) Option {
	return func(p *Processor) { p.blocklist = b }
}

func WithRepository(r Repository) Option {
	return func(p *Processor) { p.repo = r }
}

func WithLogger(logger *zap.Logger) Option {
	return func(p *Processor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewProcessor(cascade Cascade, finder ContactFinder, opts ...Option) *Processor {
	p := &Processor{cascade: cascade, finder: finder, logger: zap.NewNop()}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Process runs one job. Stage and per-contact failures are absorbed; the
// returned error is reserved for invalid input and cancellation, which the
// queue should see.
func (p *Processor) Process(ctx context.Context, job Job) (JobResult, error) {
	domain := contact.NormalizeDomain(job.Domain)
	if domain == "" {
		domain = contact.NormalizeDomain(job.URL)
	}
	if domain == "" {
		metrics.JobsTotal.WithLabelValues("error").Inc()
		return JobResult{ProspectID: job.ProspectID}, eris.Wrapf(ErrInvalidJob, "domain=%q url=%q", job.Domain, job.URL)
	}
	prospectID := strings.TrimSpace(job.ProspectID)
	if prospectID == "" {
		prospectID = domain
	}
	res := JobResult{ProspectID: prospectID, Domain: domain, RunID: uuid.NewString()}
	logger := p.logger.With(
		zap.String("domain", domain),
		zap.String("prospect_id", prospectID),
		zap.String("run_id", res.RunID),
	)

	start := time.Now()
	defer func() { metrics.JobDurationSeconds.Observe(time.Since(start).Seconds()) }()

	scraped := p.cascade.FindByScraping(ctx, domain, strings.TrimSpace(job.URL))
	res.Strategy = scraped.Strategy
	logger.Debug("pipeline: cascade done",
		zap.String("strategy", scraped.Strategy),
		zap.Int("candidates", len(scraped.Candidates)),
		zap.Bool("author_name", scraped.AuthorName != ""),
	)

	found, err := p.finder.FindContacts(ctx, orchestrator.Request{
		Domain:     domain,
		URL:        job.URL,
		Scraped:    scraped.Candidates,
		AuthorName: scraped.AuthorName,
		RunID:      res.RunID,
	})
	if err != nil {
		metrics.JobsTotal.WithLabelValues("error").Inc()
		return res, eris.Wrapf(err, "find contacts for %s", domain)
	}
	res.SourcesUsed = found.SourcesUsed
	res.TotalCostCents = found.TotalCostCents
	res.Cached = found.Cached

	for _, c := range found.Contacts {
		if p.blocked(ctx, logger, c) {
			res.Blocked++
			continue
		}
		if p.repo != nil {
			if err := p.repo.Create(ctx, prospectID, c); err != nil {
				res.PersistFailures++
				logger.Warn("pipeline: persist contact failed",
					zap.String("source", string(c.Source)),
					zap.String("error", redact.Secrets(err.Error())),
				)
				continue
			}
		}
		res.Contacts = append(res.Contacts, c)
	}
	res.Found = len(res.Contacts)

	outcome := "found"
	if res.Found == 0 {
		outcome = "empty"
	}
	metrics.JobsTotal.WithLabelValues(outcome).Inc()
	logger.Info("pipeline: job done",
		zap.Int("found", res.Found),
		zap.Int("blocked", res.Blocked),
		zap.Int("cost_cents", res.TotalCostCents),
		zap.Strings("sources", res.SourcesUsed),
		zap.Bool("cached", res.Cached),
		zap.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// blocked treats a blocklist error as blocked: an unchecked contact is never used.
func (p *Processor) blocked(ctx context.Context, logger *zap.Logger, c contact.Scored) bool {
	if p.blocklist == nil {
		return false
	}
	blocked, err := p.blocklist.IsEmailBlocked(ctx, c.Email)
	if err != nil {
		logger.Warn("pipeline: blocklist check failed, skipping contact",
			zap.String("error", redact.Secrets(err.Error())),
		)
		return true
	}
	return blocked
}
