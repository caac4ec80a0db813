package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/shpitdev/outreach-contact-pipeline/internal/app"
	"github.com/shpitdev/outreach-contact-pipeline/internal/config"
	"github.com/shpitdev/outreach-contact-pipeline/internal/jobqueue"
	"github.com/shpitdev/outreach-contact-pipeline/internal/opsserver"
	"github.com/shpitdev/outreach-contact-pipeline/internal/pipeline"
	"github.com/shpitdev/outreach-contact-pipeline/internal/version"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	var code int
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
	case "local":
		code = runLocal(ctx, os.Args[2:])
	case "find":
		code = runFind(ctx, os.Args[2:])
	case "worker":
		code = runWorker(ctx, os.Args[2:])
	case "purge-cache":
		code = runPurgeCache(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = 2
	}
	stop()
	os.Exit(code)
}

func fail(code int, format string, err error) int {
	_, _ = fmt.Fprintf(os.Stderr, format+": %s\n", redact.Secrets(err.Error()))
	return code
}

// setup loads .env, the YAML config and the environment, then builds the logger.
func setup() (config.Config, *zap.Logger, error) {
	if err := config.LoadDotEnv(); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load("")
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

// newLogger builds a JSON production logger, or a console logger when
// LOG_FORMAT=console.
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL=%q: %w", level, err)
	}
	zc := zap.NewProductionConfig()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("LOG_FORMAT")), "console") {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

func runLocal(ctx context.Context, args []string) int {
	cfg, logger, err := setup()
	if err != nil {
		return fail(2, "config error", err)
	}
	defer func() { _ = logger.Sync() }()

	fs := flag.NewFlagSet("local", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var inputPath string
	var outputPath string
	var workers int
	var maxRetries int
	var jobTimeout time.Duration
	var rateLimitRPS float64
	var failFast bool

	fs.StringVar(&inputPath, "input", "", "Input CSV file path (must include a 'domain' or 'url' column)")
	fs.StringVar(&outputPath, "output", "", "Output CSV file path")
	fs.IntVar(&workers, "workers", cfg.Pipeline.Workers, "Number of concurrent jobs (env: WORKERS)")
	fs.IntVar(&maxRetries, "max-retries", cfg.Pipeline.MaxRetries, "Max re-runs per job after a transient failure (env: MAX_RETRIES)")
	fs.DurationVar(&jobTimeout, "job-timeout", cfg.Pipeline.JobTimeout, "Per-job timeout (env: JOB_TIMEOUT)")
	fs.Float64Var(&rateLimitRPS, "rate-limit-rps", cfg.Pipeline.RateLimitRPS, "Global job start rate limit (RPS), 0 disables (env: RATE_LIMIT_RPS)")
	fs.BoolVar(&failFast, "fail-fast", cfg.Pipeline.FailFast, "Stop on the first job error (env: FAIL_FAST)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" || outputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "local requires --input and --output")
		return 2
	}

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return fail(2, "setup failed", err)
	}
	defer d.Close()

	if err := app.RunLocal(ctx, inputPath, outputPath, d.processor, pipeline.BatchOptions{
		Workers:      workers,
		RateLimitRPS: rateLimitRPS,
		JobTimeout:   jobTimeout,
		MaxRetries:   maxRetries,
		FailFast:     failFast,
	}, logger); err != nil {
		return fail(1, "local run failed", err)
	}
	return 0
}

func runFind(ctx context.Context, args []string) int {
	cfg, logger, err := setup()
	if err != nil {
		return fail(2, "config error", err)
	}
	defer func() { _ = logger.Sync() }()

	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	domain := fs.String("domain", "", "Prospect domain (e.g. example.com)")
	pageURL := fs.String("url", "", "Seed page URL on the prospect site")
	prospectID := fs.String("prospect-id", "", "Prospect identifier (defaults to the domain)")
	jobTimeout := fs.Duration("job-timeout", cfg.Pipeline.JobTimeout, "Job timeout (env: JOB_TIMEOUT)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *domain == "" && *pageURL == "" {
		_, _ = fmt.Fprintln(os.Stderr, "find requires --domain or --url")
		return 2
	}

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return fail(2, "setup failed", err)
	}
	defer d.Close()

	if *jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *jobTimeout)
		defer cancel()
	}
	res, err := d.processor.Process(ctx, pipeline.Job{Domain: *domain, URL: *pageURL, ProspectID: *prospectID})
	if err != nil {
		return fail(1, "find failed", err)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fail(1, "write result", err)
	}
	return 0
}

func runWorker(ctx context.Context, args []string) int {
	cfg, logger, err := setup()
	if err != nil {
		return fail(2, "config error", err)
	}
	defer func() { _ = logger.Sync() }()

	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	opsAddr := fs.String("ops-addr", cfg.OpsAddr, "Listen address for /healthz, /readyz and /metrics (env: OPS_ADDR)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	qcfg, ok, err := jobqueue.LoadConfigFromEnv()
	if err != nil {
		return fail(2, "job queue config error", err)
	}
	if !ok {
		_, _ = fmt.Fprintln(os.Stderr, "worker requires GET_JOB_URI and POST_RESULT_URI")
		return 2
	}
	if qcfg.Pollers <= 0 {
		qcfg.Pollers = cfg.Pipeline.Workers
	}
	qcfg.RateLimitRPS = cfg.Pipeline.RateLimitRPS

	d, err := build(ctx, cfg, logger)
	if err != nil {
		return fail(2, "setup failed", err)
	}
	defer d.Close()

	consumer, err := jobqueue.NewConsumer(qcfg, app.QueueHandler(d.processor, cfg.Pipeline.JobTimeout), jobqueue.WithLogger(logger))
	if err != nil {
		return fail(2, "job queue setup failed", err)
	}
	ops := opsserver.New(*opsAddr, append(d.healthChecks(), opsserver.WithLogger(logger))...)

	logger.Info("worker start", zap.String("version", version.Current), zap.Int("pollers", qcfg.Pollers))
	if err := app.RunWorker(ctx, consumer, ops); err != nil {
		return fail(1, "worker failed", err)
	}
	logger.Info("worker stopped")
	return 0
}

func runPurgeCache(ctx context.Context, args []string) int {
	cfg, logger, err := setup()
	if err != nil {
		return fail(2, "config error", err)
	}
	defer func() { _ = logger.Sync() }()

	fs := flag.NewFlagSet("purge-cache", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if cfg.Cache.RedisURL == "" {
		_, _ = fmt.Fprintln(os.Stderr, "purge-cache requires REDIS_URL")
		return 2
	}

	cc, rs, err := newCache(ctx, cfg, logger)
	if err != nil {
		return fail(2, "cache setup failed", err)
	}
	defer func() { _ = rs.Close() }()

	n, err := cc.PurgeJunk(ctx)
	if err != nil {
		return fail(1, "purge failed", err)
	}
	logger.Info("purged junk cache entries", zap.Int("deleted", n))
	_, _ = fmt.Fprintf(os.Stdout, "deleted %d cache entries\n", n)
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `contactfinder: discovers and ranks outreach contacts for prospect domains

Usage:
  contactfinder <command> [flags]

Commands:
  local        Run every row of a local jobs CSV and write a contacts CSV
  find         Run one prospect and print the result as JSON
  worker       Consume jobs from the queue (GET_JOB_URI/POST_RESULT_URI) and serve ops endpoints
  purge-cache  Delete cached domain results that hold only junk addresses
  version      Print the version

Examples:
  contactfinder local --input prospects.csv --output contacts.csv
  contactfinder find --domain example.com --url https://example.com/blog/post

Configuration:
  CONTACTFINDER_CONFIG  Optional YAML config file; environment variables override it
  .env                  Loaded from the working directory when present

Environment (providers, all optional):
  HUNTER_API_KEY                      Domain search, email finder and paid verification
  PEOPLE_API_BASE_URL                 Professional-network search endpoint
  PEOPLE_TOKEN_URL, PEOPLE_CLIENT_ID, PEOPLE_CLIENT_SECRET, PEOPLE_SCOPE
  GEMINI_API_KEY, GEMINI_MODEL        AI-assisted extraction (last resort)

Environment (stores):
  REDIS_URL      Shared cache (in-process cache when unset)
  DATABASE_URL   Postgres for contacts and the blocklist (in-memory when unset)

Environment (worker):
  GET_JOB_URI, POST_RESULT_URI  Job queue endpoints
  JOB_QUEUE_TOKEN               Bearer token or a file containing it
  JOB_QUEUE_CA_PATH             Optional CA bundle for the queue endpoints
  JOB_QUEUE_POLLERS             Jobs in flight (defaults to WORKERS)
  OPS_ADDR                      Ops listen address (default :9090)

Logging:
  LOG_LEVEL   debug, info, warn or error (default info)
  LOG_FORMAT  console for human-readable output, JSON otherwise

`)
}
