package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/lease"
	"github.com/SirClappington/autobook/internal/queue"
)

type env struct {
	q      *queue.RedisQ
	leases *lease.Store
	mr     *miniredis.Miniredis
}

func newEnv(t *testing.T) env {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return env{q: queue.New(rdb), leases: lease.New(rdb, zaptest.NewLogger(t)), mr: mr}
}

func (e env) worker(t *testing.T, h Handler, opts Options) *Worker {
	w := New(domain.StageBook, h, e.q, e.leases, opts, zaptest.NewLogger(t))
	w.jitter = func(int64) int64 { return 0 }
	return w
}

func TestProcessOneRunsHandlerUnderLease(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.q.Enqueue(ctx, &domain.Job{TripRequestID: "trip-1", Stage: domain.StageBook}))

	var lockedDuring bool
	w := e.worker(t, func(ctx context.Context, job *domain.Job) error {
		lockedDuring, _ = e.leases.IsLocked(ctx, job.TripRequestID)
		return nil
	}, Options{})

	handled, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.True(t, lockedDuring)

	locked, err := e.leases.IsLocked(ctx, "trip-1")
	require.NoError(t, err)
	assert.False(t, locked, "lease released after handling")
}

func TestProcessOneEmptyQueue(t *testing.T) {
	e := newEnv(t)
	w := e.worker(t, func(context.Context, *domain.Job) error {
		t.Fatal("handler must not run")
		return nil
	}, Options{})

	handled, err := w.ProcessOne(context.Background())
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestLeasedTripIsDeferredWithoutRetry(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.leases.Acquire(ctx, "trip-1", domain.OpBook, 0)
	require.NoError(t, err)
	require.NoError(t, e.q.Enqueue(ctx, &domain.Job{TripRequestID: "trip-1", Stage: domain.StageBook}))

	var calls atomic.Int32
	w := e.worker(t, func(context.Context, *domain.Job) error {
		calls.Add(1)
		return nil
	}, Options{LockRetryDelay: 10 * time.Second})

	handled, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.Zero(t, calls.Load())

	delayed, err := e.q.Delayed(ctx, domain.StageBook)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)

	n, err := e.q.PromoteDue(ctx, domain.StageBook, time.Now().Add(11*time.Second), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	job, err := e.q.Dequeue(ctx, domain.StageBook)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Zero(t, job.RetryCount)
}

func TestFailedJobRetriesThenDrops(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.q.Enqueue(ctx, &domain.Job{TripRequestID: "trip-1", Stage: domain.StageBook}))

	w := e.worker(t, func(context.Context, *domain.Job) error {
		return errors.New("postgres unavailable")
	}, Options{MaxRetries: 1, RetryBase: time.Second, RetryMax: time.Minute})

	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	n, err := e.q.PromoteDue(ctx, domain.StageBook, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	// second failure exceeds MaxRetries and the job is not requeued
	_, err = w.ProcessOne(ctx)
	require.NoError(t, err)
	delayed, err := e.q.Delayed(ctx, domain.StageBook)
	require.NoError(t, err)
	assert.Zero(t, delayed)
	length, err := e.q.Length(ctx, domain.StageBook)
	require.NoError(t, err)
	assert.Zero(t, length)
}

func TestBackoff(t *testing.T) {
	e := newEnv(t)
	w := e.worker(t, nil, Options{RetryBase: time.Second, RetryMax: 10 * time.Second})

	assert.Equal(t, 500*time.Millisecond, w.Backoff(0))
	assert.Equal(t, time.Second, w.Backoff(1))
	assert.Equal(t, 2*time.Second, w.Backoff(2))
	assert.Equal(t, 5*time.Second, w.Backoff(10))
}

func TestPoolStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	var handled atomic.Int32
	w := e.worker(t, func(context.Context, *domain.Job) error {
		if handled.Add(1) == 3 {
			cancel()
		}
		return nil
	}, Options{Concurrency: 2, PollInterval: 5 * time.Millisecond})

	for _, trip := range []string{"trip-1", "trip-2", "trip-3"} {
		require.NoError(t, e.q.Enqueue(context.Background(), &domain.Job{TripRequestID: trip, Stage: domain.StageBook}))
	}

	done := make(chan error, 1)
	go func() { done <- Pool(ctx, w) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Equal(t, int32(3), handled.Load())
}

func TestShutdownLetsRunningJobFinish(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.q.Enqueue(ctx, &domain.Job{TripRequestID: "trip-1", Stage: domain.StageBook}))

	var jobErr error
	w := e.worker(t, func(ctx context.Context, job *domain.Job) error {
		// SIGTERM lands between payment capture and persistence
		cancel()
		jobErr = ctx.Err()
		return jobErr
	}, Options{MaxRetries: 5})

	handled, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)
	assert.NoError(t, jobErr)

	bg := context.Background()
	delayed, err := e.q.Delayed(bg, domain.StageBook)
	require.NoError(t, err)
	assert.Zero(t, delayed, "a completed job is not retried")
	locked, err := e.leases.IsLocked(bg, "trip-1")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestShutdownKeepsFailedJob(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, e.q.Enqueue(ctx, &domain.Job{TripRequestID: "trip-1", Stage: domain.StageBook}))

	w := e.worker(t, func(context.Context, *domain.Job) error {
		cancel()
		return errors.New("duffel unavailable")
	}, Options{MaxRetries: 5})

	_, err := w.ProcessOne(ctx)
	require.NoError(t, err)

	delayed, err := e.q.Delayed(context.Background(), domain.StageBook)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
}

// cancelAfterDequeue simulates shutdown arriving right after a job was popped.
type cancelAfterDequeue struct {
	*queue.RedisQ
	cancel context.CancelFunc
}

func (c cancelAfterDequeue) Dequeue(ctx context.Context, stage domain.Stage) (*domain.Job, error) {
	job, err := c.RedisQ.Dequeue(ctx, stage)
	c.cancel()
	return job, err
}

func TestShutdownKeepsDeferredJob(t *testing.T) {
	e := newEnv(t)
	bg := context.Background()
	_, err := e.leases.Acquire(bg, "trip-1", domain.OpBook, 0)
	require.NoError(t, err)
	require.NoError(t, e.q.Enqueue(bg, &domain.Job{TripRequestID: "trip-1", Stage: domain.StageBook}))

	ctx, cancel := context.WithCancel(bg)
	w := New(domain.StageBook, func(context.Context, *domain.Job) error { return nil },
		cancelAfterDequeue{RedisQ: e.q, cancel: cancel}, e.leases, Options{}, zaptest.NewLogger(t))

	handled, err := w.ProcessOne(ctx)
	require.NoError(t, err)
	assert.True(t, handled)

	delayed, err := e.q.Delayed(bg, domain.StageBook)
	require.NoError(t, err)
	assert.Equal(t, int64(1), delayed)
}
