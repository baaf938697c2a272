// Package monitor keeps the per-trip price snapshot used to decide when a
// trip is ready to book.
package monitor

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/SirClappington/autobook/internal/domain"
)

const (
	fieldLastPrice  = "last_price"
	fieldCurrency   = "currency"
	fieldOfferID    = "offer_id"
	fieldCheckedAt  = "last_checked_at"
	fieldCheckCount = "check_count"
)

type Ledger struct {
	rdb *r.Client
	ttl time.Duration
}

func NewLedger(rdb *r.Client) *Ledger {
	return &Ledger{rdb: rdb, ttl: domain.MonitoringTTL}
}

func key(tripRequestID string) string { return "monitor:" + tripRequestID }

// SetMonitoringData overwrites the snapshot and refreshes its TTL.
func (l *Ledger) SetMonitoringData(ctx context.Context, rec domain.MonitoringRecord) error {
	k := key(rec.TripRequestID)
	pipe := l.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		fieldLastPrice:  rec.LastPrice.String(),
		fieldCurrency:   rec.Currency,
		fieldOfferID:    rec.OfferID,
		fieldCheckedAt:  rec.LastCheckedAt.Unix(),
		fieldCheckCount: rec.CheckCount,
	})
	pipe.Expire(ctx, k, l.ttl)
	_, err := pipe.Exec(ctx)
	return errors.Wrapf(err, "set monitoring %s", rec.TripRequestID)
}

// RecordCheck stores a fresh observation and bumps check_count server-side.
func (l *Ledger) RecordCheck(ctx context.Context, tripRequestID string, price decimal.Decimal, currency, offerID string, at time.Time) (*domain.MonitoringRecord, error) {
	k := key(tripRequestID)
	pipe := l.rdb.TxPipeline()
	pipe.HSet(ctx, k, map[string]interface{}{
		fieldLastPrice: price.String(),
		fieldCurrency:  currency,
		fieldOfferID:   offerID,
		fieldCheckedAt: at.Unix(),
	})
	count := pipe.HIncrBy(ctx, k, fieldCheckCount, 1)
	pipe.Expire(ctx, k, l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrapf(err, "record check %s", tripRequestID)
	}
	return &domain.MonitoringRecord{
		TripRequestID: tripRequestID,
		LastPrice:     price,
		Currency:      currency,
		OfferID:       offerID,
		LastCheckedAt: time.Unix(at.Unix(), 0),
		CheckCount:    count.Val(),
	}, nil
}

// GetMonitoringData returns nil when the trip has no live snapshot.
func (l *Ledger) GetMonitoringData(ctx context.Context, tripRequestID string) (*domain.MonitoringRecord, error) {
	m, err := l.rdb.HGetAll(ctx, key(tripRequestID)).Result()
	if err != nil {
		return nil, errors.Wrapf(err, "get monitoring %s", tripRequestID)
	}
	if len(m) == 0 {
		return nil, nil
	}
	rec := &domain.MonitoringRecord{
		TripRequestID: tripRequestID,
		Currency:      m[fieldCurrency],
		OfferID:       m[fieldOfferID],
	}
	if rec.LastPrice, err = decimal.NewFromString(m[fieldLastPrice]); err != nil {
		return nil, errors.Wrapf(err, "parse last_price for %s", tripRequestID)
	}
	if ts, err := strconv.ParseInt(m[fieldCheckedAt], 10, 64); err == nil {
		rec.LastCheckedAt = time.Unix(ts, 0)
	}
	rec.CheckCount, _ = strconv.ParseInt(m[fieldCheckCount], 10, 64)
	return rec, nil
}

// ShouldBook reports whether an observed price is good enough to trigger a booking.
func ShouldBook(trip domain.TripRequest, observed decimal.Decimal) bool {
	if trip.AutoBookStatus != domain.AutoBookPending {
		return false
	}
	if !trip.MaxPrice.IsPositive() || !observed.IsPositive() {
		return false
	}
	return observed.LessThanOrEqual(trip.MaxPrice)
}

// Due reports whether a trip needs another check given its last snapshot.
func Due(rec *domain.MonitoringRecord, now time.Time, interval time.Duration) bool {
	return rec == nil || now.Sub(rec.LastCheckedAt) >= interval
}
