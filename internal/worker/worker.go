// Package worker pulls jobs for one stage, serializes them per trip with a
// lease and re-enqueues failures with backoff.
package worker

import (
	"context"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/lease"
)

// Handler processes one job. A returned error schedules a retry.
type Handler func(ctx context.Context, job *domain.Job) error

type Queue interface {
	Dequeue(ctx context.Context, stage domain.Stage) (*domain.Job, error)
	EnqueueAt(ctx context.Context, j *domain.Job, runAt time.Time) error
}

type Leases interface {
	Acquire(ctx context.Context, resourceID string, op domain.Operation, ttl time.Duration) (*domain.Lease, error)
	Extend(ctx context.Context, l *domain.Lease, ttl time.Duration) error
	Release(ctx context.Context, l *domain.Lease) bool
}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
	MaxRetries   int
	// LockRetryDelay is how long a job waits when its trip is leased elsewhere.
	LockRetryDelay time.Duration
	RetryBase      time.Duration
	RetryMax       time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.LockRetryDelay <= 0 {
		o.LockRetryDelay = 5 * time.Second
	}
	if o.RetryBase <= 0 {
		o.RetryBase = 2 * time.Second
	}
	if o.RetryMax <= 0 {
		o.RetryMax = 5 * time.Minute
	}
	return o
}

type Worker struct {
	stage  domain.Stage
	handle Handler
	q      Queue
	leases Leases
	opts   Options
	log    *zap.Logger
	now    func() time.Time
	jitter func(n int64) int64
}

func New(stage domain.Stage, h Handler, q Queue, leases Leases, opts Options, log *zap.Logger) *Worker {
	return &Worker{
		stage:  stage,
		handle: h,
		q:      q,
		leases: leases,
		opts:   opts.withDefaults(),
		log:    log.Named("worker").With(zap.String("stage", string(stage))),
		now:    time.Now,
		jitter: rand.Int63n,
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	for {
		handled, err := w.ProcessOne(ctx)
		if err != nil {
			w.log.Error("process job", zap.Error(err))
		}
		if handled && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(w.opts.PollInterval):
		}
	}
}

// ProcessOne handles at most one job and reports whether one was dequeued.
// Cancelling ctx stops new dequeues only: a dequeued job runs to completion
// and its requeue is still written, bounded by the lease ttl.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	if ctx.Err() != nil {
		return false, nil
	}
	ctx = context.WithoutCancel(ctx)
	job, err := w.q.Dequeue(ctx, w.stage)
	if err != nil || job == nil {
		return false, err
	}
	log := w.log.With(zap.String("job_id", job.ID), zap.String("trip_request_id", job.TripRequestID))

	l, err := w.leases.Acquire(ctx, job.TripRequestID, domain.OperationFor(w.stage), 0)
	if errors.Is(err, lease.ErrNotAcquired) {
		log.Debug("trip leased elsewhere, deferring")
		return true, errors.Wrap(w.q.EnqueueAt(ctx, job, w.now().Add(w.opts.LockRetryDelay)), "defer job")
	}
	if err != nil {
		return true, errors.Wrap(err, "acquire lease")
	}

	herr := w.runLeased(ctx, l, job, log)
	w.leases.Release(context.WithoutCancel(ctx), l)
	if herr == nil {
		return true, nil
	}
	return true, w.retry(ctx, job, herr, log)
}

// runLeased keeps the lease alive while the handler runs.
func (w *Worker) runLeased(ctx context.Context, l *domain.Lease, job *domain.Job, log *zap.Logger) error {
	ttl := l.Operation.DefaultTTL()
	hctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		t := time.NewTicker(ttl / 2)
		defer t.Stop()
		for {
			select {
			case <-hctx.Done():
				return
			case <-t.C:
				if err := w.leases.Extend(hctx, l, ttl); err != nil && hctx.Err() == nil {
					log.Warn("lease heartbeat failed", zap.Error(err))
				}
			}
		}
	}()
	return w.handle(hctx, job)
}

func (w *Worker) retry(ctx context.Context, job *domain.Job, cause error, log *zap.Logger) error {
	if job.RetryCount >= w.opts.MaxRetries {
		log.Error("job dropped after retries", zap.Int("retry_count", job.RetryCount), zap.Error(cause))
		return nil
	}
	next := *job
	next.RetryCount++
	delay := w.Backoff(job.RetryCount)
	log.Warn("job failed, retrying", zap.Int("retry_count", next.RetryCount), zap.Duration("delay", delay), zap.Error(cause))
	return errors.Wrap(w.q.EnqueueAt(ctx, &next, w.now().Add(delay)), "requeue job")
}

// Backoff is exponential in the retry count with jitter in [d/2, d).
func (w *Worker) Backoff(retry int) time.Duration {
	d := w.opts.RetryBase
	for i := 0; i < retry && d < w.opts.RetryMax; i++ {
		d *= 2
	}
	if d > w.opts.RetryMax {
		d = w.opts.RetryMax
	}
	half := int64(d / 2)
	if half <= 0 {
		return d
	}
	return time.Duration(half + w.jitter(half))
}

// Pool runs Concurrency goroutines for every worker until ctx ends and waits
// for in-flight jobs to finish.
func Pool(ctx context.Context, workers ...*Worker) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range workers {
		w := w
		for i := 0; i < w.opts.Concurrency; i++ {
			g.Go(func() error { return w.Run(ctx) })
		}
	}
	return g.Wait()
}
