// Package app ties the pipeline to its run modes: a local CSV batch, and the
// queue-driven worker with its ops server.
package app

import (
	"context"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/shpitdev/outreach-contact-pipeline/internal/jobqueue"
	"github.com/shpitdev/outreach-contact-pipeline/internal/pipeline"
	"github.com/shpitdev/outreach-contact-pipeline/pkg/redact"
)

// RunLocal reads a jobs CSV, processes every row on the worker pool and writes
// one output row per contact (or per empty/failed job).
func RunLocal(ctx context.Context, inputPath, outputPath string, proc *pipeline.Processor, opts pipeline.BatchOptions, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	inF, err := os.Open(inputPath)
	if err != nil {
		return eris.Wrap(err, "open input")
	}
	defer func() {
		_ = inF.Close()
	}()

	jobs, err := pipeline.ReadJobsCSV(inF)
	if err != nil {
		return eris.Wrapf(err, "read jobs from %s", inputPath)
	}
	logger.Info("local run start",
		zap.Int("jobs", len(jobs)),
		zap.Int("workers", opts.Workers),
		zap.Float64("rate_limit_rps", opts.RateLimitRPS),
		zap.Bool("fail_fast", opts.FailFast),
	)

	start := time.Now()
	var done, found, failed int
	outcomes, err := proc.RunBatch(ctx, jobs, opts, func(o pipeline.Outcome) error {
		done++
		switch {
		case o.Err != nil:
			failed++
			logger.Warn("job failed",
				zap.String("domain", o.Job.Domain),
				zap.String("prospect_id", o.Job.ProspectID),
				zap.String("error", redact.Secrets(o.Err.Error())),
				zap.Int("completed", done),
				zap.Int("total", len(jobs)),
			)
		case o.Result.Found > 0:
			found++
		}
		return nil
	})
	if err != nil {
		return err
	}

	outF, err := os.Create(outputPath)
	if err != nil {
		return eris.Wrap(err, "create output")
	}
	defer func() {
		_ = outF.Close()
	}()
	if err := pipeline.WriteContactsCSV(outF, pipeline.Rows(outcomes)); err != nil {
		return eris.Wrap(err, "write output")
	}
	logger.Info("local run complete",
		zap.Int("jobs", len(jobs)),
		zap.Int("with_contacts", found),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	)
	return outF.Close()
}

// QueueHandler adapts the processor to the job queue, bounding each job by
// timeout when it is positive. Processing errors are returned so the queue
// records them and can requeue.
func QueueHandler(proc *pipeline.Processor, timeout time.Duration) jobqueue.Handler {
	return func(ctx context.Context, job jobqueue.Job) (jobqueue.Outcome, error) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		res, err := proc.Process(ctx, pipeline.Job{
			Domain:     job.Query.Domain,
			URL:        job.Query.URL,
			ProspectID: job.Query.ProspectID,
		})
		if err != nil {
			return jobqueue.Outcome{}, err
		}
		return jobqueue.Outcome{Found: res.Found}, nil
	}
}

// Runner is anything that runs until its context ends.
type Runner interface {
	Run(ctx context.Context) error
}

// RunWorker runs the queue consumer alongside the ops server. Either one
// failing stops both.
func RunWorker(ctx context.Context, consumer Runner, ops Runner) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return consumer.Run(gctx)
	})
	if ops != nil {
		g.Go(func() error {
			return ops.Run(gctx)
		})
	}
	return g.Wait()
}
