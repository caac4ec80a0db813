// Package jobqueue consumes contact-discovery jobs from an HTTP job endpoint
// and posts each outcome back so the queue can acknowledge or requeue it.
package jobqueue

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

type Config struct {
	GetJobURI     string
	PostResultURI string
	AuthToken     string
	// CAPath is an optional PEM bundle for the queue endpoints.
	CAPath string
	// Pollers is how many jobs may be in flight at once.
	Pollers int
	// RateLimitRPS caps job starts per second across all pollers.
	RateLimitRPS float64
	// IdleWait is the pause after an empty poll.
	IdleWait time.Duration
}

// LoadConfigFromEnv reads GET_JOB_URI and POST_RESULT_URI. ok is false when
// either is unset, meaning the worker has no queue to consume.
func LoadConfigFromEnv() (cfg Config, ok bool, err error) {
	getJob, err := normalizeLoopback(os.Getenv("GET_JOB_URI"))
	if err != nil {
		return Config{}, false, eris.Wrap(err, "invalid GET_JOB_URI")
	}
	postRes, err := normalizeLoopback(os.Getenv("POST_RESULT_URI"))
	if err != nil {
		return Config{}, false, eris.Wrap(err, "invalid POST_RESULT_URI")
	}
	if getJob == "" || postRes == "" {
		return Config{}, false, nil
	}
	token, err := readValueOrFile(os.Getenv("JOB_QUEUE_TOKEN"), "JOB_QUEUE_TOKEN")
	if err != nil {
		return Config{}, false, err
	}
	cfg = Config{
		GetJobURI:     getJob,
		PostResultURI: postRes,
		AuthToken:     token,
		CAPath:        strings.TrimSpace(os.Getenv("JOB_QUEUE_CA_PATH")),
	}
	if v := strings.TrimSpace(os.Getenv("JOB_QUEUE_POLLERS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, false, eris.Wrapf(err, "invalid JOB_QUEUE_POLLERS %q", v)
		}
		cfg.Pollers = n
	}
	return cfg, true, nil
}

// Job is one queued unit of work.
type Job struct {
	JobID string `json:"jobId"`
	Query Query  `json:"query"`
}

type Query struct {
	Domain     string `json:"domain"`
	URL        string `json:"url"`
	ProspectID string `json:"prospectId"`
}

// Outcome is posted back for every job. A non-empty Error tells the queue to
// apply its retry policy.
type Outcome struct {
	Found      int    `json:"found"`
	ProspectID string `json:"prospectId"`
	Error      string `json:"error,omitempty"`
}

type Handler func(ctx context.Context, job Job) (Outcome, error)

type Consumer struct {
	cfg     Config
	handle  Handler
	http    *fetch.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

type Option func(*Consumer)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithHTTPClient replaces the fetch client built from Config.CAPath.
func WithHTTPClient(client *fetch.Client) Option {
	return func(c *Consumer) { c.http = client }
}

func NewConsumer(cfg Config, handle Handler, opts ...Option) (*Consumer, error) {
	if cfg.Pollers <= 0 {
		cfg.Pollers = 1
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	c := &Consumer{cfg: cfg, handle: handle, logger: zap.NewNop()}
	for _, o := range opts {
		o(c)
	}
	if cfg.RateLimitRPS > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), 1)
	}
	if c.http == nil {
		hc, err := newHTTPClient(cfg.CAPath)
		if err != nil {
			return nil, err
		}
		c.http = fetch.New(fetch.Options{
			RequestTimeout: 30 * time.Second,
			MaxRetries:     2,
			HTTPClient:     hc,
		}, fetch.WithLogger(c.logger))
	}
	return c, nil
}

// Run polls until ctx is cancelled, with Pollers jobs in flight at most.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("jobqueue: polling",
		zap.String("get_job_uri", redact.Secrets(c.cfg.GetJobURI)),
		zap.Int("pollers", c.cfg.Pollers),
	)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.cfg.Pollers; i++ {
		g.Go(func() error { return c.poll(gctx) })
	}
	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (c *Consumer) poll(ctx context.Context) error {
	backoff := c.cfg.IdleWait
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job, ok, err := c.next(ctx)
		if err != nil {
			c.logger.Warn("jobqueue: get job failed", zap.String("error", redact.Secrets(err.Error())))
			if !wait(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = c.cfg.IdleWait
		if !ok {
			if !wait(ctx, c.cfg.IdleWait) {
				return ctx.Err()
			}
			continue
		}
		if strings.TrimSpace(job.JobID) == "" {
			c.logger.Warn("jobqueue: job without jobId skipped")
			continue
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		c.runJob(ctx, job)
	}
}

func (c *Consumer) runJob(ctx context.Context, job Job) {
	logger := c.logger.With(
		zap.String("job_id", job.JobID),
		zap.String("prospect_id", job.Query.ProspectID),
		zap.String("domain", job.Query.Domain),
	)
	out, err := c.handle(ctx, job)
	out.ProspectID = job.Query.ProspectID
	if err != nil {
		out.Error = redact.Secrets(err.Error())
		logger.Warn("jobqueue: job failed", zap.String("error", out.Error))
	} else {
		logger.Info("jobqueue: job done", zap.Int("found", out.Found))
	}
	// The result is posted even when ctx is done so the queue does not
	// wait out its lease on a job that already ran.
	postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Minute)
	defer cancel()
	if err := c.post(postCtx, job.JobID, out); err != nil {
		logger.Error("jobqueue: post result failed", zap.String("error", redact.Secrets(err.Error())))
	}
}

func (c *Consumer) next(ctx context.Context) (Job, bool, error) {
	resp, err := c.http.Do(ctx, "get job", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.GetJobURI, nil)
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return Job{}, false, err
	}
	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(resp.Body)) == 0 {
		return Job{}, false, nil
	}
	var job Job
	if err := json.Unmarshal(resp.Body, &job); err != nil {
		return Job{}, false, eris.Wrap(err, "decode job")
	}
	return job, true, nil
}

func (c *Consumer) post(ctx context.Context, jobID string, out Outcome) error {
	body, err := json.Marshal(out)
	if err != nil {
		return eris.Wrap(err, "encode outcome")
	}
	target := strings.TrimRight(c.cfg.PostResultURI, "/") + "/" + url.PathEscape(path.Clean("/" + jobID)[1:])
	_, err = c.http.Do(ctx, "post result", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		c.authorize(req)
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	return err
}

func (c *Consumer) authorize(req *http.Request) {
	if c.cfg.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.AuthToken)
	}
}

func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func newHTTPClient(caPath string) (*http.Client, error) {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if caPath != "" {
		b, err := os.ReadFile(caPath)
		if err != nil {
			return nil, eris.Wrap(err, "read job queue CA bundle")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(b) {
			return nil, eris.New("job queue CA bundle: no certificates found")
		}
		tr.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	}
	return &http.Client{Transport: tr}, nil
}

// normalizeLoopback pins localhost to IPv4; queue sidecars often listen on
// 127.0.0.1 only.
func normalizeLoopback(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "localhost" || host == "::1" {
		if port := u.Port(); port != "" {
			u.Host = "127.0.0.1:" + port
		} else {
			u.Host = "127.0.0.1"
		}
	}
	return u.String(), nil
}

// readValueOrFile returns v, or the contents of the file v names.
func readValueOrFile(v, name string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" || strings.ContainsAny(v, "\r\n") {
		return v, nil
	}
	if fi, err := os.Stat(v); err == nil && !fi.IsDir() {
		b, err := os.ReadFile(v)
		if err != nil {
			return "", eris.Wrapf(err, "read %s file", name)
		}
		return strings.TrimSpace(string(b)), nil
	}
	return v, nil
}
