package runner

import (
	"context"
	"fmt"
	"runtime"

	"github.com/ethpandaops/visual-metrics/internal/catalog"
	"github.com/gammazero/workerpool"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/sirupsen/logrus"
)

// Pool dispatches jobs to a fixed number of workers. Each worker owns one
// tool process at a time; results are gathered over a channel.
type Pool struct {
	executor Executor
	workers  int
	log      logrus.FieldLogger
	onResult func(Result)
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers overrides the worker count. Values below one use the CPU count.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithResultHook registers fn to be called from the gathering goroutine as
// each job finishes.
func WithResultHook(fn func(Result)) PoolOption {
	return func(p *Pool) {
		p.onResult = fn
	}
}

// NewPool creates a pool sized to the logical CPU count.
func NewPool(log logrus.FieldLogger, executor Executor, opts ...PoolOption) *Pool {
	p := &Pool{
		executor: executor,
		workers:  DefaultWorkers(),
		log:      log.WithField("component", "runner_pool"),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Workers returns the pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes every job and returns one Result per job in completion order.
// A failing job never stops the others; cancelling ctx stops jobs that have
// not started and kills the ones in flight.
func (p *Pool) Run(ctx context.Context, jobs []catalog.Job) []Result {
	p.log.WithFields(logrus.Fields{
		"jobs":    len(jobs),
		"workers": p.workers,
	}).Info("running visual metrics")

	wp := workerpool.New(p.workers)
	results := make(chan Result, len(jobs))

	for _, job := range jobs {
		job := job
		wp.Submit(func() {
			if err := ctx.Err(); err != nil {
				results <- Result{Job: job, Err: fmt.Errorf("%w: %w", ErrToolFailure, err)}
				return
			}
			results <- p.executor.Execute(ctx, job)
		})
	}

	collected := make([]Result, 0, len(jobs))

	for range jobs {
		res := <-results

		if !res.OK {
			p.log.WithError(res.Err).WithFields(logrus.Fields{
				"job":        res.Job.Seq,
				"video_path": res.Job.VideoPath,
			}).Error("Failed to run visualmetrics.py")
		}

		if p.onResult != nil {
			p.onResult(res)
		}

		collected = append(collected, res)
	}

	wp.StopWait()

	return collected
}

// DefaultWorkers returns the number of logical CPUs.
func DefaultWorkers() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}

	return runtime.NumCPU()
}
