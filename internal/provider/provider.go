// Package provider defines the contracts the booking core needs from the
// flight and payment providers. Adapters translate their wire formats into
// these types and classify failures with *Error.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SirClappington/autobook/internal/domain"
)

type OfferQuery struct {
	Origin        string     `validate:"required,len=3"`
	Destination   string     `validate:"required,len=3"`
	DepartureDate time.Time  `validate:"required"`
	ReturnDate    *time.Time `validate:"omitempty"`
	Adults        int        `validate:"gte=1"`
	CabinClass    string
}

type Offer struct {
	ID          string          `validate:"required"`
	TotalAmount decimal.Decimal `validate:"gte=0"`
	Currency    string          `validate:"required,len=3"`
	ExpiresAt   time.Time
}

type PricedOffer struct {
	OfferID      string          `validate:"required"`
	TotalAmount  decimal.Decimal `validate:"gt=0"`
	Currency     string          `validate:"required,len=3"`
	PassengerIDs []string        `validate:"required,min=1,dive,required"`
}

type SeatType string

const (
	SeatAisle  SeatType = "aisle"
	SeatWindow SeatType = "window"
	SeatMiddle SeatType = "middle"
)

type Seat struct {
	ID         string          `validate:"required"`
	Designator string          `validate:"required"`
	Type       SeatType        `validate:"required,oneof=aisle window middle"`
	Price      decimal.Decimal `validate:"gte=0"`
	Available  bool
}

type SeatMap struct {
	OfferID string
	Seats   []Seat `validate:"dive"`
}

type OrderRequest struct {
	OfferID        string
	PassengerIDs   []string
	Traveler       domain.Traveler
	Seat           *Seat
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type Order struct {
	ID          string          `validate:"required"`
	PNR         string          `validate:"required"`
	TotalAmount decimal.Decimal `validate:"gte=0"`
	Currency    string
}

type CaptureRequest struct {
	PaymentIntentID string
	Amount          decimal.Decimal
	Currency        string
	IdempotencyKey  string
}

// CaptureSucceeded is the only capture status that counts as money moved.
const CaptureSucceeded = "succeeded"

type CaptureResult struct {
	ID     string `validate:"required"`
	Status string `validate:"required"`
}

type FlightProvider interface {
	SearchOffers(ctx context.Context, q OfferQuery) ([]Offer, error)
	PriceOffer(ctx context.Context, offerID string) (PricedOffer, error)
	SeatMap(ctx context.Context, offerID string) (SeatMap, error)
	CreateOrder(ctx context.Context, req OrderRequest) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

type PaymentProvider interface {
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
}
