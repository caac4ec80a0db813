package pipeline

import (
	"context"
	"time"

	"github.com/shpitdev/outreach-contact-pipeline/internal/fetch"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/worker"
)

type BatchOptions struct {
	Workers      int
	RateLimitRPS float64
	JobTimeout   time.Duration
	// MaxRetries re-runs a job whose error is transient. Local batches only;
	// queue-driven runs leave retries to the queue.
	MaxRetries int
	FailFast   bool
}

// Outcome pairs a job with its result or error.
type Outcome struct {
	Job    Job
	Result JobResult
	Err    error
}

// RunBatch processes jobs on the bounded worker pool. onResult, when set, is
// called in completion order; the returned outcomes are in input order.
func (p *Processor) RunBatch(ctx context.Context, jobs []Job, opts BatchOptions, onResult func(Outcome) error) ([]Outcome, error) {
	policy := worker.FailurePolicyPartialOutput
	if opts.FailFast {
		policy = worker.FailurePolicyFailFast
	}
	var cb func(worker.Result[Job, JobResult]) error
	if onResult != nil {
		cb = func(r worker.Result[Job, JobResult]) error {
			return onResult(Outcome{Job: r.Input, Result: r.Output, Err: r.Err})
		}
	}
	results, err := worker.ProcessAllWithCallback(ctx, jobs, p.Process, cb, worker.Options{
		Workers:       opts.Workers,
		MaxRetries:    opts.MaxRetries,
		JobTimeout:    opts.JobTimeout,
		RateLimitRPS:  opts.RateLimitRPS,
		FailurePolicy: policy,
		Retryable:     fetch.IsTransient,
	})
	if err != nil {
		return nil, err
	}
	out := make([]Outcome, len(results))
	for i, r := range results {
		out[i] = Outcome{Job: r.Input, Result: r.Output, Err: r.Err}
	}
	return out, nil
}
