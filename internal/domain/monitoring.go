package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// MonitoringTTL bounds how long an idle trip's snapshot survives.
const MonitoringTTL = 7 * 24 * time.Hour

// MonitoringRecord is the last observed price snapshot for a trip.
type MonitoringRecord struct {
	TripRequestID string          `json:"trip_request_id"`
	LastPrice     decimal.Decimal `json:"last_price"`
	Currency      string          `json:"currency,omitempty"`
	OfferID       string          `json:"offer_id,omitempty"`
	LastCheckedAt time.Time       `json:"last_checked_at"`
	CheckCount    int64           `json:"check_count"`
}
