package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/lease"
	"github.com/SirClappington/autobook/internal/monitor"
	"github.com/SirClappington/autobook/internal/queue"
)

type fixture struct {
	srv    *httptest.Server
	q      *queue.RedisQ
	ledger *monitor.Ledger
	leases *lease.Store
}

func newFixture(t *testing.T, checks map[string]Pinger) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := r.NewClient(&r.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	log := zaptest.NewLogger(t)

	f := &fixture{q: queue.New(rdb), ledger: monitor.NewLedger(rdb), leases: lease.New(rdb, log)}
	s := &Server{Queue: f.q, Ledger: f.ledger, Locks: f.leases, Checks: checks, Log: log}
	f.srv = httptest.NewServer(s.Routes())
	t.Cleanup(f.srv.Close)
	return f
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestEnqueueJob(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/v1/jobs", "application/json",
		strings.NewReader(`{"trip_request_id":"trip-1","stage":"search"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	var job domain.Job
	decode(t, resp, &job)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, 5, job.Priority)

	n, err := f.q.Length(context.Background(), domain.StageSearch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnqueueJobRejectsInvalid(t *testing.T) {
	f := newFixture(t, nil)

	for _, body := range []string{`{"stage":"search"}`, `{"trip_request_id":"trip-1","stage":"refund"}`, `{"trip_request_id":"trip-1","stage":"book","priority":-1}`} {
		resp, err := http.Post(f.srv.URL+"/v1/jobs", "application/json", strings.NewReader(body))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode, body)
	}

	resp, err := http.Post(f.srv.URL+"/v1/jobs", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookTripAndQueueStats(t *testing.T) {
	f := newFixture(t, nil)

	resp, err := http.Post(f.srv.URL+"/v1/trips/trip-9/book", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(f.srv.URL + "/v1/queues/book")
	require.NoError(t, err)
	var stats struct {
		Ready   int64 `json:"ready"`
		Delayed int64 `json:"delayed"`
	}
	decode(t, resp, &stats)
	assert.Equal(t, int64(1), stats.Ready)

	resp, err = http.Get(f.srv.URL + "/v1/queues/refund")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMonitoringAndLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	resp, err := http.Get(f.srv.URL + "/v1/trips/trip-1/monitoring")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err = f.ledger.RecordCheck(ctx, "trip-1", decimal.RequireFromString("299.99"), "USD", "off_1", time.Now())
	require.NoError(t, err)
	resp, err = http.Get(f.srv.URL + "/v1/trips/trip-1/monitoring")
	require.NoError(t, err)
	var rec monitoringResponse
	decode(t, resp, &rec)
	assert.Equal(t, "299.99", rec.LastPrice)
	assert.Equal(t, int64(1), rec.CheckCount)

	_, err = f.leases.Acquire(ctx, "trip-1", domain.OpBook, 0)
	require.NoError(t, err)
	resp, err = http.Get(f.srv.URL + "/v1/trips/trip-1/lock")
	require.NoError(t, err)
	var lock struct {
		Locked bool `json:"locked"`
	}
	decode(t, resp, &lock)
	assert.True(t, lock.Locked)
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, map[string]Pinger{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	})

	resp, err := http.Get(f.srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	var out map[string]string
	decode(t, resp, &out)
	assert.Equal(t, "ok", out["redis"])
	assert.Equal(t, "connection refused", out["postgres"])
}
