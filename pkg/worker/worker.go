// Package worker runs a function over a batch of jobs on a bounded pool of
// goroutines, with a global job-start rate cap, a per-job timeout and
// optional retry of transient failures.
package worker

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type FailurePolicy int

const (
	// FailurePolicyPartialOutput records each job's error and keeps going.
	FailurePolicyPartialOutput FailurePolicy = iota
	// FailurePolicyFailFast cancels the batch on the first job error.
	FailurePolicyFailFast
)

type Options struct {
	Workers int
	// MaxRetries is the number of extra attempts for a transient failure.
	// Queue-driven callers leave it at 0 and let the queue redeliver.
	MaxRetries int
	JobTimeout time.Duration
	// RateLimitRPS caps job starts per second across all workers. <=0 disables it.
	RateLimitRPS  float64
	FailurePolicy FailurePolicy

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// BackoffJitterFrac applies +/- jitter to backoff sleeps (0.2 = +/-20%).
	BackoffJitterFrac float64

	// Retryable decides whether a job error is worth another attempt. Nil
	// retries deadline and network timeout errors only.
	Retryable func(error) bool
}

type Result[In any, Out any] struct {
	Input    In
	Output   Out
	Err      error
	Attempts int
	Elapsed  time.Duration
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 2 * time.Minute
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = 500 * time.Millisecond
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 10 * time.Second
	}
	if o.BackoffJitterFrac <= 0 {
		o.BackoffJitterFrac = 0.2
	}
	if o.Retryable == nil {
		o.Retryable = defaultRetryable
	}
	return o
}

// ProcessAll runs fn over every job and returns results in input order.
func ProcessAll[In any, Out any](
	ctx context.Context,
	jobs []In,
	fn func(context.Context, In) (Out, error),
	opts Options,
) ([]Result[In, Out], error) {
	return ProcessAllWithCallback(ctx, jobs, fn, nil, opts)
}

// ProcessAllWithCallback is ProcessAll with onResult invoked from a single
// goroutine as each job finishes, in completion order. An onResult error
// stops the batch and is returned.
func ProcessAllWithCallback[In any, Out any](
	ctx context.Context,
	jobs []In,
	fn func(context.Context, In) (Out, error),
	onResult func(Result[In, Out]) error,
	opts Options,
) ([]Result[In, Out], error) {
	p := &pool[In, Out]{fn: fn, opts: opts.withDefaults()}
	if p.opts.RateLimitRPS > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(p.opts.RateLimitRPS), 1)
	}
	return p.run(ctx, jobs, onResult)
}

type pool[In any, Out any] struct {
	fn      func(context.Context, In) (Out, error)
	opts    Options
	limiter *rate.Limiter

	mu       sync.Mutex
	firstErr error
	cancel   context.CancelFunc
}

type indexed[T any] struct {
	idx int
	val T
}

func (p *pool[In, Out]) run(ctx context.Context, jobs []In, onResult func(Result[In, Out]) error) ([]Result[In, Out], error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	p.cancel = cancel

	queue := make(chan indexed[In])
	done := make(chan indexed[Result[In, Out]], p.opts.Workers)

	var wg sync.WaitGroup
	for i := 0; i < p.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range queue {
				if runCtx.Err() != nil {
					return
				}
				res := p.process(runCtx, j.val)
				select {
				case done <- indexed[Result[In, Out]]{idx: j.idx, val: res}:
				case <-runCtx.Done():
					return
				}
				if res.Err != nil && p.opts.FailurePolicy == FailurePolicyFailFast {
					p.fail(res.Err)
					return
				}
			}
		}()
	}

	go func() {
		defer close(queue)
		for i, job := range jobs {
			select {
			case queue <- indexed[In]{idx: i, val: job}:
			case <-runCtx.Done():
				return
			}
		}
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	out := make([]Result[In, Out], len(jobs))
	for r := range done {
		out[r.idx] = r.val
		if onResult != nil {
			if err := onResult(r.val); err != nil {
				p.fail(err)
			}
		}
	}

	p.mu.Lock()
	err := p.firstErr
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *pool[In, Out]) fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.firstErr == nil {
		p.firstErr = err
		p.cancel()
	}
}

// process runs one job, retrying transient failures with jittered
// exponential backoff. Each attempt waits on the shared limiter first.
func (p *pool[In, Out]) process(ctx context.Context, job In) Result[In, Out] {
	start := time.Now()
	res := Result[In, Out]{Input: job}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				res.Err = err
				break
			}
		}
		res.Attempts++

		jobCtx, cancel := context.WithTimeout(ctx, p.opts.JobTimeout)
		out, err := p.fn(jobCtx, job)
		cancel()
		res.Output, res.Err = out, err
		if err == nil {
			break
		}
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			res.Err = ctx.Err()
			break
		}
		if attempt >= p.opts.MaxRetries || !p.opts.Retryable(err) {
			break
		}
		if !sleep(ctx, backoff(p.opts.BackoffInitial, p.opts.BackoffMax, p.opts.BackoffJitterFrac, attempt)) {
			res.Err = ctx.Err()
			break
		}
	}
	res.Elapsed = time.Since(start)
	return res
}

func defaultRetryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// backoff doubles initial per attempt up to max, then applies jitter.
func backoff(initial, max time.Duration, jitterFrac float64, attempt int) time.Duration {
	d := initial
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	if jitterFrac <= 0 {
		return d
	}
	j := 1 + (rand.Float64()*2-1)*jitterFrac
	return time.Duration(float64(d) * j)
}
