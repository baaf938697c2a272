package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/SirClappington/autobook/internal/domain"
)

type fakeStore struct {
	stale      []domain.BookingAttempt
	cutoff     time.Time
	outcomes   map[string]domain.AutoBookStatus
	messages   map[string]string
	outcomeErr error
}

func (s *fakeStore) StaleAttempts(_ context.Context, cutoff time.Time, _ int) ([]domain.BookingAttempt, error) {
	s.cutoff = cutoff
	return s.stale, nil
}

func (s *fakeStore) SetTripOutcome(_ context.Context, id string, status domain.AutoBookStatus, msg string) error {
	if s.outcomeErr != nil {
		return s.outcomeErr
	}
	s.outcomes[id] = status
	s.messages[id] = msg
	return nil
}

func newStore(stale ...domain.BookingAttempt) *fakeStore {
	return &fakeStore{stale: stale, outcomes: map[string]domain.AutoBookStatus{}, messages: map[string]string{}}
}

func TestSweepFlagsAndPages(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newStore(domain.BookingAttempt{ID: "att-1", TripRequestID: "trip-1", StartedAt: now.Add(-20 * time.Minute)})
	core, logs := observer.New(zapcore.InfoLevel)

	n, err := NewSweeper(store, 15*time.Minute, zap.New(core)).Sweep(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, now.Add(-15*time.Minute), store.cutoff)
	assert.Equal(t, domain.AutoBookReconciliation, store.outcomes["trip-1"])
	assert.Equal(t, "attempt att-1 still processing after 20m0s", store.messages["trip-1"])
	assert.Equal(t, 1, logs.FilterField(zap.Bool("page", true)).Len())
}

func TestSweepNothingStale(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	n, err := NewSweeper(newStore(), time.Minute, zap.New(core)).Sweep(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Zero(t, logs.Len())
}

func TestSweepStopsOnStoreError(t *testing.T) {
	now := time.Now()
	store := newStore(
		domain.BookingAttempt{ID: "att-1", TripRequestID: "trip-1", StartedAt: now.Add(-time.Hour)},
		domain.BookingAttempt{ID: "att-2", TripRequestID: "trip-2", StartedAt: now.Add(-time.Hour)},
	)
	store.outcomeErr = errors.New("connection refused")

	n, err := NewSweeper(store, time.Minute, zap.NewNop()).Sweep(context.Background(), now)
	assert.Error(t, err)
	assert.Zero(t, n)
}
