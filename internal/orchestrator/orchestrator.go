// Package orchestrator turns a domain plus any free scraped candidates into
// ranked, validated contacts, calling paid providers in cost order under a
// per-prospect budget.
package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shpitdev/outreach-contact-pipeline/internal/contact"
	"github.com/shpitdev/outreach-contact-pipeline/internal/emailcheck"
	"github.com/shpitdev/outreach-contact-pipeline/internal/ledger"
	"github.com/shpitdev/outreach-contact-pipeline/internal/metrics"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/internal/score"
	"github.com/shpitdev/outreach-contact-pipeline/internal/validate"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

// Stage names, used for SourcesUsed, ledger entries and metrics.
const (
	StageCache        = "cache"
	StageScraping     = "scraping"
	StageDomainSearch = "domain_search"
	StageNameSearch   = "name_search"
	StagePeople       = "linkedin_search"
	StageAIExtract    = "ai_extracted"
	StageVerify       = "verify"
)

type DomainSearcher interface {
	DomainSearch(ctx context.Context, domain string) ([]contact.Candidate, error)
}

type EmailFinder interface {
	FindEmail(ctx context.Context, domain, fullName string) (provider.FoundEmail, error)
}

type PeopleSearcher interface {
	SearchPeople(ctx context.Context, domain string, limit int) ([]provider.Person, error)
}

type ContactExtractor interface {
	ExtractContacts(ctx context.Context, domain, pageURL string) ([]contact.Candidate, error)
}

type Validator interface {
	ValidateEmail(ctx context.Context, email string, allowPaid bool) validate.Result
	CanVerify() bool
	VerifyCostCents() int
}

// Cache is the subset of *cache.ContactCache the orchestrator reads and writes.
type Cache interface {
	GetDomainResult(ctx context.Context, domain string) (contact.DomainSearchResult, bool, error)
	SetDomainResult(ctx context.Context, res contact.DomainSearchResult) error
	DeleteDomainResult(ctx context.Context, domain string) error
	GetNameLookup(ctx context.Context, domain, name string) (contact.NameLookupRecord, bool, error)
	SetNameLookup(ctx context.Context, rec contact.NameLookupRecord) error
}

// Costs are the cents charged per provider call.
type Costs struct {
	DomainSearch int `yaml:"domain_search_cents"`
	FindEmail    int `yaml:"find_email_cents"`
	PeopleSearch int `yaml:"people_search_cents"`
	AIExtract    int `yaml:"ai_extract_cents"`
}

func DefaultCosts() Costs {
	return Costs{DomainSearch: 5, FindEmail: 2, PeopleSearch: 1, AIExtract: 2}
}

// DefaultMaxCostCents is the per-prospect budget when none is configured.
const DefaultMaxCostCents = 10

type Request struct {
	Domain string
	URL    string
	// Scraped is the cascade output; it is used before any paid stage.
	Scraped []contact.Candidate
	// AuthorName is a byline captured by the cascade, looked up by name when
	// nothing else turned up.
	AuthorName string
	RunID      string
}

type Result struct {
	Contacts       []contact.Scored `json:"contacts"`
	SourcesUsed    []string         `json:"sources_used"`
	TotalCostCents int              `json:"total_cost_cents"`
	Cached         bool             `json:"cached"`
	Costs          []ledger.Entry   `json:"costs,omitempty"`
}

type Orchestrator struct {
	scorer    *score.Scorer
	validator Validator
	cache     Cache

	domainSearch DomainSearcher
	finder       EmailFinder
	people       PeopleSearcher
	extractor    ContactExtractor

	costs       Costs
	maxCents    int
	peopleLimit int
	logger      *zap.Logger
}

type Option func(*Orchestrator)

func WithCache(c Cache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithDomainSearcher(d DomainSearcher) Option {
	return func(o *Orchestrator) { o.domainSearch = d }
}

func WithEmailFinder(f EmailFinder) Option {
	return func(o *Orchestrator) { o.finder = f }
}

func WithPeopleSearcher(p PeopleSearcher) Option {
	return func(o *Orchestrator) { o.people = p }
}

func WithContactExtractor(e ContactExtractor) Option {
	return func(o *Orchestrator) { o.extractor = e }
}

func WithCosts(c Costs) Option {
	return func(o *Orchestrator) { o.costs = c }
}

// WithBudget sets the per-prospect cap in cents.
func WithBudget(maxCents int) Option {
	return func(o *Orchestrator) { o.maxCents = maxCents }
}

// WithPeopleLimit caps how many profiles the professional-network stage asks for.
func WithPeopleLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.peopleLimit = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func New(scorer *score.Scorer, validator Validator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		scorer:      scorer,
		validator:   validator,
		costs:       DefaultCosts(),
		maxCents:    DefaultMaxCostCents,
		peopleLimit: 5,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// run is the per-call state. Nothing in it is shared between calls.
type run struct {
	domain  string
	url     string
	ledger  *ledger.Ledger
	sources []string
	logger  *zap.Logger
}

func (r *run) used(stage string) {
	for _, s := range r.sources {
		if s == stage {
			return
		}
	}
	r.sources = append(r.sources, stage)
}

// FindContacts runs the stages in order: cache, scraped seed, domain search,
// author name lookup, professional network, AI extraction. Each stage runs
// only while nothing usable has been found and the budget allows its cost.
// Provider failures degrade to an empty stage; only an unusable domain or a
// cancelled context is returned as an error.
func (o *Orchestrator) FindContacts(ctx context.Context, req Request) (Result, error) {
	domain := contact.NormalizeDomain(req.Domain)
	if domain == "" {
		return Result{}, eris.Errorf("orchestrator: no domain in %q", req.Domain)
	}
	r := &run{
		domain: domain,
		url:    strings.TrimSpace(req.URL),
		ledger: ledger.New(o.maxCents),
		logger: o.logger.With(zap.String("domain", domain), zap.String("run_id", req.RunID)),
	}

	if cached, ok := o.fromCache(ctx, r); ok {
		r.used(StageCache)
		contacts := o.finalize(ctx, r, cached, false)
		return o.result(r, contacts, true), ctx.Err()
	}

	found := usable(req.Scraped)
	if len(found) > 0 {
		r.used(StageScraping)
	}
	if len(found) == 0 {
		found = o.domainSearchStage(ctx, r)
	}
	if len(found) == 0 && strings.TrimSpace(req.AuthorName) != "" {
		found = o.nameStage(ctx, r, req.AuthorName)
	}
	if len(found) == 0 {
		found = o.peopleStage(ctx, r)
	}
	if len(found) == 0 {
		found = o.aiStage(ctx, r)
	}
	if err := ctx.Err(); err != nil {
		return o.result(r, nil, false), err
	}

	contacts := o.finalize(ctx, r, found, true)
	if len(contacts) > 0 && o.cache != nil {
		res := contact.DomainSearchResult{Domain: domain}
		for _, c := range contacts {
			res.Contacts = append(res.Contacts, c.Candidate)
		}
		if err := o.cache.SetDomainResult(ctx, res); err != nil {
			r.logger.Warn("orchestrator: cache write failed", zap.String("error", redact.Secrets(err.Error())))
		}
	}
	return o.result(r, contacts, false), nil
}

func (o *Orchestrator) result(r *run, contacts []contact.Scored, cached bool) Result {
	for _, c := range contacts {
		metrics.ContactsSelected.WithLabelValues(string(c.Source), string(c.Tier)).Inc()
	}
	sources := r.sources
	if sources == nil {
		sources = []string{}
	}
	return Result{
		Contacts:       contacts,
		SourcesUsed:    sources,
		TotalCostCents: r.ledger.Spent(),
		Cached:         cached,
		Costs:          r.ledger.Breakdown(),
	}
}

func (o *Orchestrator) fromCache(ctx context.Context, r *run) ([]contact.Candidate, bool) {
	if o.cache == nil {
		return nil, false
	}
	res, ok, err := o.cache.GetDomainResult(ctx, r.domain)
	if err != nil {
		r.logger.Warn("orchestrator: cache read failed", zap.String("error", redact.Secrets(err.Error())))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	clean := usable(res.Contacts)
	if len(clean) == 0 {
		r.logger.Info("orchestrator: invalidating unusable cached result", zap.Int("cached_contacts", len(res.Contacts)))
		if err := o.cache.DeleteDomainResult(ctx, r.domain); err != nil {
			r.logger.Warn("orchestrator: cache delete failed", zap.String("error", redact.Secrets(err.Error())))
		}
		return nil, false
	}
	return clean, true
}

func (o *Orchestrator) domainSearchStage(ctx context.Context, r *run) []contact.Candidate {
	if !o.stageReady(r, StageDomainSearch, o.domainSearch, o.costs.DomainSearch) {
		return nil
	}
	cands, err := o.domainSearch.DomainSearch(ctx, r.domain)
	if err != nil {
		o.stageFailed(r, StageDomainSearch, err)
		return nil
	}
	o.charge(r, StageDomainSearch, o.costs.DomainSearch)
	return o.collect(r, StageDomainSearch, cands)
}

// nameStage resolves the cascade's author byline to an address.
func (o *Orchestrator) nameStage(ctx context.Context, r *run, name string) []contact.Candidate {
	if !o.stageReady(r, StageNameSearch, o.finder, o.costs.FindEmail) {
		return nil
	}
	c, ok := o.lookupName(ctx, r, StageNameSearch, name)
	if !ok {
		return nil
	}
	c.Source = contact.SourceNameSearch
	return o.collect(r, StageNameSearch, []contact.Candidate{c})
}

// peopleStage finds decision makers on a professional network and resolves
// each to an address while the budget holds.
func (o *Orchestrator) peopleStage(ctx context.Context, r *run) []contact.Candidate {
	if !o.stageReady(r, StagePeople, o.people, o.costs.PeopleSearch) {
		return nil
	}
	if !enabled(o.finder) {
		r.logger.Info("orchestrator: stage skipped, no email finder", zap.String("stage", StagePeople))
		return nil
	}
	people, err := o.people.SearchPeople(ctx, r.domain, o.peopleLimit)
	if err != nil {
		o.stageFailed(r, StagePeople, err)
		return nil
	}
	o.charge(r, StagePeople, o.costs.PeopleSearch)

	var out []contact.Candidate
	for _, p := range people {
		if ctx.Err() != nil {
			break
		}
		c, ok := o.lookupName(ctx, r, StagePeople, p.DisplayName())
		if !ok {
			continue
		}
		c.Source = contact.SourceLinkedInSearch
		if c.Title == "" {
			c.Title = p.Title
		}
		if c.LinkedInURL == "" {
			c.LinkedInURL = p.LinkedInURL
		}
		out = append(out, c)
	}
	return o.collect(r, StagePeople, out)
}

func (o *Orchestrator) aiStage(ctx context.Context, r *run) []contact.Candidate {
	if !o.stageReady(r, StageAIExtract, o.extractor, o.costs.AIExtract) {
		return nil
	}
	cands, err := o.extractor.ExtractContacts(ctx, r.domain, r.url)
	if err != nil {
		o.stageFailed(r, StageAIExtract, err)
		return nil
	}
	o.charge(r, StageAIExtract, o.costs.AIExtract)
	return o.collect(r, StageAIExtract, cands)
}

// lookupName resolves name at the run's domain through the name lookup cache
// and then the paid finder. Every paid lookup is billed and cached, including
// ones that find nothing.
func (o *Orchestrator) lookupName(ctx context.Context, r *run, stage, name string) (contact.Candidate, bool) {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return contact.Candidate{}, false
	}
	if o.cache != nil {
		rec, ok, err := o.cache.GetNameLookup(ctx, r.domain, name)
		switch {
		case err != nil:
			r.logger.Warn("orchestrator: name cache read failed", zap.String("error", redact.Secrets(err.Error())))
		case ok && !rec.Found:
			return contact.Candidate{}, false
		case ok:
			return contact.Candidate{Email: rec.Email, Name: name, SourceMetadata: map[string]any{"cached": true}}, true
		}
	}
	if !r.ledger.CanAfford(o.costs.FindEmail) {
		r.logger.Info("orchestrator: name lookup skipped, over budget",
			zap.String("stage", stage),
			zap.Int("spent_cents", r.ledger.Spent()),
		)
		return contact.Candidate{}, false
	}
	found, err := o.finder.FindEmail(ctx, r.domain, name)
	if err != nil {
		o.stageFailed(r, stage, err)
		return contact.Candidate{}, false
	}
	o.charge(r, stage, o.costs.FindEmail)

	if o.cache != nil {
		rec := contact.NameLookupRecord{
			Domain: r.domain,
			Name:   name,
			Email:  found.Email,
			Score:  found.Score,
			Found:  found.Email != "",
		}
		if err := o.cache.SetNameLookup(ctx, rec); err != nil {
			r.logger.Warn("orchestrator: name cache write failed", zap.String("error", redact.Secrets(err.Error())))
		}
	}
	if found.Email == "" {
		return contact.Candidate{}, false
	}
	return contact.Candidate{
		Email:          found.Email,
		Name:           name,
		Title:          found.Title,
		LinkedInURL:    found.LinkedInURL,
		SourceMetadata: map[string]any{"finder_score": found.Score},
	}, true
}

// stageReady gates a paid stage on its provider being configured and the
// budget covering its first call.
func (o *Orchestrator) stageReady(r *run, stage string, p any, cost int) bool {
	if !enabled(p) {
		r.logger.Info("orchestrator: stage skipped, provider not configured", zap.String("stage", stage))
		return false
	}
	if !r.ledger.CanAfford(cost) {
		r.logger.Info("orchestrator: stage skipped, over budget",
			zap.String("stage", stage),
			zap.Int("cost_cents", cost),
			zap.Int("spent_cents", r.ledger.Spent()),
		)
		return false
	}
	return true
}

func (o *Orchestrator) stageFailed(r *run, stage string, err error) {
	if errors.Is(err, provider.ErrDisabled) {
		r.logger.Info("orchestrator: stage skipped, provider disabled", zap.String("stage", stage))
		return
	}
	r.logger.Warn("orchestrator: stage failed",
		zap.String("stage", stage),
		zap.String("error", redact.Secrets(err.Error())),
	)
}

func (o *Orchestrator) charge(r *run, stage string, cents int) {
	if err := r.ledger.Charge(stage, cents); err != nil {
		r.logger.Error("orchestrator: ledger rejected charge", zap.String("stage", stage), zap.Error(err))
		return
	}
	metrics.ProviderCostCents.WithLabelValues(stage).Add(float64(cents))
}

func (o *Orchestrator) collect(r *run, stage string, cands []contact.Candidate) []contact.Candidate {
	out := usable(cands)
	if len(out) > 0 {
		r.used(stage)
	}
	r.logger.Debug("orchestrator: stage done",
		zap.String("stage", stage),
		zap.Int("returned", len(cands)),
		zap.Int("usable", len(out)),
	)
	return out
}

// finalize scores, selects and validates. Paid verification is only offered
// for fresh runs, for contacts scoring high enough, while the budget allows.
// Contacts validated as invalid are dropped.
func (o *Orchestrator) finalize(ctx context.Context, r *run, cands []contact.Candidate, allowPaid bool) []contact.Scored {
	if len(cands) == 0 {
		return nil
	}
	selected := o.scorer.Select(o.scorer.ScoreAll(cands))
	out := make([]contact.Scored, 0, len(selected))
	for _, s := range selected {
		if o.validator == nil {
			out = append(out, s)
			continue
		}
		cost := o.validator.VerifyCostCents()
		paid := allowPaid &&
			o.validator.CanVerify() &&
			o.scorer.AllowPaidVerification(s) &&
			r.ledger.CanAfford(cost)
		res := o.validator.ValidateEmail(ctx, s.Email, paid)
		if res.APICostCents > 0 {
			o.charge(r, StageVerify, res.APICostCents)
		}
		if res.Status == contact.StatusInvalid {
			r.logger.Info("orchestrator: dropping invalid contact",
				zap.String("method", res.Method),
				zap.String("source", string(s.Source)),
			)
			continue
		}
		s.VerificationStatus = res.Status
		out = append(out, s)
	}
	return out
}

// usable drops junk and addresses that fail the extraction-time checks, then
// deduplicates by email.
func usable(cands []contact.Candidate) []contact.Candidate {
	var out []contact.Candidate
	for _, c := range contact.FilterJunk(contact.Merge(cands)) {
		if emailcheck.Acceptable(c.Email) {
			out = append(out, c)
		}
	}
	return out
}

// enabled reports whether p is non-nil and, when it can say so, configured.
func enabled(p any) bool {
	if p == nil {
		return false
	}
	if e, ok := p.(interface{ Enabled() bool }); ok {
		return e.Enabled()
	}
	return true
}
