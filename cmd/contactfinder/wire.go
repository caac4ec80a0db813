package main

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/shpitdev/outreach-contact-pipeline/internal/cache"
	"github.com/shpitdev/outreach-contact-pipeline/internal/config"
	"github.com/shpitdev/outreach-contact-pipeline/internal/emailcheck"
	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/internal/opsserver"
	"github.com/shpitdev/outreach-contact-pipeline/internal/orchestrator"
	"github.com/shpitdev/outreach-contact-pipeline/internal/pipeline"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider/gemini"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider/hunter"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider/oauth"
	"github.com/shpitdev/outreach-contact-pipeline/internal/provider/people"
	"github.com/shpitdev/outreach-contact-pipeline/internal/score"
	"github.com/shpitdev/outreach-contact-pipeline/internal/scrape"
	"github.com/shpitdev/outreach-contact-pipeline/internal/search"
	"github.com/shpitdev/outreach-contact-pipeline/internal/store"
	"github.com/shpitdev/outreach-contact-pipeline/internal/store/postgres"
	"github.com/shpitdev/outreach-contact-pipeline/internal/validate"
)

// deps is the wired object graph for one process.
type deps struct {
	processor *pipeline.Processor
	cache     *cache.ContactCache
	redis     *cache.RedisStore
	pool      *pgxpool.Pool
}

func (d *deps) Close() {
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.pool != nil {
		d.pool.Close()
	}
}

// healthChecks lists readiness checks for the external stores in use.
func (d *deps) healthChecks() []opsserver.Option {
	var opts []opsserver.Option
	if d.redis != nil {
		opts = append(opts, opsserver.WithCheck("redis", d.redis.Health))
	}
	if d.pool != nil {
		opts = append(opts, opsserver.WithCheck("postgres", d.pool.Ping))
	}
	return opts
}

// newCache connects to Redis when configured and falls back to an in-process store.
func newCache(ctx context.Context, cfg config.Config, logger *zap.Logger) (*cache.ContactCache, *cache.RedisStore, error) {
	rs, err := cache.NewRedisStore(ctx, cache.RedisConfig{URL: cfg.Cache.RedisURL})
	if err != nil {
		return nil, nil, err
	}
	var st cache.Store = cache.NewMemoryStore()
	if rs != nil {
		st = rs
		logger.Info("cache: using redis")
	} else {
		logger.Info("cache: REDIS_URL unset, using in-process store")
	}
	cc := cache.NewContactCache(st,
		cache.WithPrefix(cfg.Cache.KeyPrefix),
		cache.WithTTL(cfg.Cache.TTL),
		cache.WithLogger(logger),
	)
	return cc, rs, nil
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	d := &deps{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	client := fetch.New(cfg.HTTP.FetchOptions(), fetch.WithLogger(logger))

	cc, rs, err := newCache(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.cache, d.redis = cc, rs

	hunterClient := hunter.New(hunter.Config{
		APIKey:            cfg.Providers.Hunter.APIKey,
		BaseURL:           cfg.Providers.Hunter.BaseURL,
		DomainSearchLimit: cfg.Providers.Hunter.DomainSearchLimit,
	}, client)

	pc := cfg.Providers.People
	tokens := oauth.NewTokenProvider(oauth.Config{
		TokenURL:     pc.TokenURL,
		ClientID:     pc.ClientID,
		ClientSecret: pc.ClientSecret,
		Scope:        pc.Scope,
	}, client, oauth.WithLogger(logger))
	var ts people.TokenSource
	if tokens.Enabled() {
		ts = tokens
	}
	peopleClient := people.New(people.Config{BaseURL: pc.BaseURL, TitleKeywords: pc.TitleKeywords}, ts, client)

	validateOpts := []validate.Option{
		validate.WithCache(cc),
		validate.WithRoleAliases(cfg.Scoring.RoleAliases),
		validate.WithLogger(logger),
	}
	if hunterClient.Enabled() {
		validateOpts = append(validateOpts, validate.WithVerifier(hunterClient, cfg.Budget.VerifyCents))
	}
	validator := validate.New(emailcheck.NewChecker(net.DefaultResolver, cfg.HTTP.DNSTimeout), validateOpts...)

	orchOpts := []orchestrator.Option{
		orchestrator.WithCache(cc),
		orchestrator.WithDomainSearcher(hunterClient),
		orchestrator.WithEmailFinder(hunterClient),
		orchestrator.WithPeopleSearcher(peopleClient),
		orchestrator.WithCosts(cfg.Budget.Costs),
		orchestrator.WithBudget(cfg.Budget.MaxCostPerProspectCents),
		orchestrator.WithPeopleLimit(pc.SearchLimit),
		orchestrator.WithLogger(logger),
	}
	gc := cfg.Providers.Gemini
	extractor, err := gemini.New(ctx, gemini.Config{
		APIKey:       gc.APIKey,
		Model:        gc.Model,
		BaseURL:      gc.BaseURL,
		CaptureAudit: gc.CaptureAudit,
	})
	switch {
	case errors.Is(err, provider.ErrDisabled):
		logger.Info("gemini: GEMINI_API_KEY unset, AI extraction disabled")
	case err != nil:
		return nil, err
	default:
		orchOpts = append(orchOpts, orchestrator.WithContactExtractor(extractor))
	}
	orch := orchestrator.New(score.New(cfg.Scoring), validator, orchOpts...)

	cascade := scrape.NewCascade(client,
		scrape.WithLogger(logger),
		scrape.WithStrategies(strategies(cfg.Search)...),
		scrape.WithSearchEngines(
			&search.DuckDuckGo{BaseURL: cfg.Search.PrimaryBaseURL, Client: client},
			&search.Bing{BaseURL: cfg.Search.SecondaryBaseURL, Client: client},
		),
		scrape.WithEngineDelay(cfg.Search.EngineDelay),
	)

	procOpts := []pipeline.Option{pipeline.WithLogger(logger)}
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		d.pool = pool
		if err := postgres.InitSchema(ctx, pool); err != nil {
			return nil, err
		}
		procOpts = append(procOpts,
			pipeline.WithRepository(postgres.NewRepository(pool)),
			pipeline.WithBlocklist(postgres.NewBlocklist(pool)),
		)
		logger.Info("store: using postgres")
	} else {
		procOpts = append(procOpts, pipeline.WithRepository(store.NewMemoryRepository()))
		logger.Info("store: DATABASE_URL unset, contacts are not persisted beyond this process")
	}
	d.processor = pipeline.NewProcessor(cascade, orch, procOpts...)

	ok = true
	return d, nil
}

// strategies applies the search section to the default cascade order.
func strategies(sc config.SearchConfig) []scrape.Strategy {
	out := scrape.DefaultStrategies(sc.RDAPBaseURL)
	if sc.MaxResultPages <= 0 {
		return out
	}
	for i, s := range out {
		if ws, ok := s.(scrape.WebSearch); ok {
			ws.MaxPages = sc.MaxResultPages
			out[i] = ws
		}
	}
	return out
}
