// Package queue runs asynchronous rollup jobs on a fixed worker pool.
package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stratahq/strata/internal/logging"
	"github.com/stratahq/strata/internal/models"
	rollerrors "github.com/stratahq/strata/internal/rollup/errors"
)

// Job is one unit of asynchronous work.
type Job func(ctx context.Context) error

// Config shapes the worker pool and its retry policy.
type Config struct {
	Concurrency  int           `json:"concurrency" yaml:"concurrency"`
	BufferSize   int           `json:"bufferSize" yaml:"bufferSize"`
	MaxAttempts  int           `json:"maxAttempts" yaml:"maxAttempts"`
	InitialDelay time.Duration `json:"initialDelay" yaml:"initialDelay"`
	MaxDelay     time.Duration `json:"maxDelay" yaml:"maxDelay"`
}

// DefaultConfig returns default pool settings.
func DefaultConfig() Config {
	return Config{
		Concurrency:  4,
		BufferSize:   64,
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
	}
}

// Validate checks pool settings.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return models.NewValidationError("queue concurrency must be positive, got %d", c.Concurrency)
	}
	if c.BufferSize < 1 {
		return models.NewValidationError("queue bufferSize must be positive, got %d", c.BufferSize)
	}
	if c.MaxAttempts < 1 {
		return models.NewValidationError("queue maxAttempts must be positive, got %d", c.MaxAttempts)
	}
	if c.InitialDelay <= 0 || c.MaxDelay < c.InitialDelay {
		return models.NewValidationError("queue delays must satisfy 0 < initialDelay <= maxDelay")
	}
	return nil
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Depth     int   `json:"depth"`
	InFlight  int   `json:"inFlight"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Retries   int64 `json:"retries"`
}

type queuedJob struct {
	name string
	run  Job
}

// Pool is a bounded worker pool with per-job retry. Jobs whose errors are
// retryable per the error catalogue are re-run with exponential backoff up
// to MaxAttempts; everything else fails immediately.
type Pool struct {
	config Config
	logger *logging.Logger

	jobs     chan queuedJob
	ctx      context.Context
	cancel   context.CancelFunc
	workers  sync.WaitGroup
	stopOnce sync.Once

	inFlight  atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	retries   atomic.Int64
}

// NewPool creates and starts a pool.
func NewPool(config Config) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, rollerrors.Wrap(rollerrors.CodeInvalidConfig, err, "invalid queue configuration")
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		config: config,
		logger: logging.GetLogger("queue"),
		jobs:   make(chan queuedJob, config.BufferSize),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < config.Concurrency; i++ {
		p.workers.Add(1)
		go p.worker()
	}
	return p, nil
}

// Enqueue submits a job. A full buffer rejects immediately instead of
// blocking the caller.
func (p *Pool) Enqueue(name string, job Job) error {
	select {
	case <-p.ctx.Done():
		return rollerrors.New(rollerrors.CodeInfraUnavailable, "queue is shut down")
	default:
	}
	select {
	case p.jobs <- queuedJob{name: name, run: job}:
		return nil
	default:
		return rollerrors.Newf(rollerrors.CodeInfraUnavailable,
			"queue buffer full (%d jobs)", p.config.BufferSize).
			WithDetail("retryAfterSeconds", 1)
	}
}

// Stop drains the pool: buffered and in-flight jobs finish, new submissions
// are rejected. The passed context bounds the wait.
func (p *Pool) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		close(p.jobs)
		done := make(chan struct{})
		go func() {
			p.workers.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			// Abandon the drain, cancel whatever is still running.
			p.cancel()
			err = rollerrors.Wrap(rollerrors.CodeExecTimeout, ctx.Err(), "queue drain timed out")
			return
		}
		p.cancel()
	})
	return err
}

// Stats returns a snapshot of pool activity.
func (p *Pool) Stats() Stats {
	return Stats{
		Depth:     len(p.jobs),
		InFlight:  int(p.inFlight.Load()),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Retries:   p.retries.Load(),
	}
}

func (p *Pool) worker() {
	defer p.workers.Done()
	for job := range p.jobs {
		p.inFlight.Add(1)
		err := p.runWithRetry(job)
		p.inFlight.Add(-1)
		if err != nil {
			p.failed.Add(1)
			p.logger.ErrorWithErr("Job failed", err, "name=%s", job.name)
		} else {
			p.completed.Add(1)
		}
	}
}

// runWithRetry executes one job, retrying retryable failures with jittered
// exponential backoff.
func (p *Pool) runWithRetry(job queuedJob) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.config.InitialDelay
	policy.MaxInterval = p.config.MaxDelay
	policy.MaxElapsedTime = 0

	attempts := 0
	operation := func() error {
		attempts++
		err := job.run(p.ctx)
		if err == nil {
			return nil
		}
		if attempts >= p.config.MaxAttempts || !rollerrors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		p.retries.Add(1)
		p.logger.Warn("Job %s attempt %d/%d failed, retrying: %v",
			job.name, attempts, p.config.MaxAttempts, err)
		return err
	}
	return backoff.Retry(operation, backoff.WithContext(policy, p.ctx))
}
