// Package reconcile surfaces booking attempts abandoned in processing by a
// worker that died mid-saga.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/logging"
)

type Store interface {
	StaleAttempts(ctx context.Context, cutoff time.Time, limit int) ([]domain.BookingAttempt, error)
	SetTripOutcome(ctx context.Context, tripRequestID string, status domain.AutoBookStatus, errMsg string) error
}

// Sweeper pages on stale attempts and moves their trips to
// RECONCILIATION_REQUIRED. The attempt itself is left processing: an order or
// a capture may exist, so releasing the trip for another booking is unsafe.
type Sweeper struct {
	store    Store
	after    time.Duration
	batch    int
	critical *zap.Logger
}

func NewSweeper(store Store, after time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{store: store, after: after, batch: 100, critical: logging.Reconciliation(log)}
}

// Sweep handles every attempt started more than after before now and reports
// how many trips it flagged.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	stale, err := s.store.StaleAttempts(ctx, now.Add(-s.after), s.batch)
	if err != nil {
		return 0, err
	}
	flagged := 0
	for _, a := range stale {
		age := now.Sub(a.StartedAt).Round(time.Second)
		s.critical.Error("booking attempt abandoned in processing",
			zap.String("trip_request_id", a.TripRequestID),
			zap.String("attempt_id", a.ID),
			zap.Duration("age", age))
		msg := fmt.Sprintf("attempt %s still processing after %s", a.ID, age)
		if err := s.store.SetTripOutcome(ctx, a.TripRequestID, domain.AutoBookReconciliation, msg); err != nil {
			return flagged, errors.Wrapf(err, "flag trip %s", a.TripRequestID)
		}
		flagged++
	}
	return flagged, nil
}
