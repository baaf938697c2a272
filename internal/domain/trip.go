package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AttemptStatus string

const (
	AttemptProcessing AttemptStatus = "processing"
	AttemptCompleted  AttemptStatus = "completed"
	AttemptFailed     AttemptStatus = "failed"
)

// AutoBookStatus is the user-visible outcome stored on trip_requests.
type AutoBookStatus string

const (
	AutoBookPending AutoBookStatus = "PENDING"
	AutoBookBooked  AutoBookStatus = "BOOKED"
	AutoBookFailed  AutoBookStatus = "FAILED"

	// AutoBookReconciliation marks a trip whose payment or attempt state needs a human.
	AutoBookReconciliation AutoBookStatus = "RECONCILIATION_REQUIRED"
)

type BookingAttempt struct {
	ID            string
	TripRequestID string
	Status        AttemptStatus
	StartedAt     time.Time
	EndedAt       *time.Time
	FlightOrderID *string
	ErrorMessage  *string
}

type Traveler struct {
	GivenName  string `json:"given_name" validate:"required"`
	FamilyName string `json:"family_name" validate:"required"`
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone,omitempty"`
	BornOn     string `json:"born_on,omitempty"`
}

type TripRequest struct {
	ID              string
	UserID          string
	Origin          string
	Destination     string
	DepartureDate   time.Time
	ReturnDate      *time.Time
	Adults          int
	CabinClass      string
	MaxPrice        decimal.Decimal
	Currency        string
	AllowMiddleSeat bool
	PaymentIntentID string
	SelectedOfferID string
	Status          string
	AutoBookStatus  AutoBookStatus
	PNR             string
	Traveler        Traveler
}

// Booking is the confirmed result written in the persistence step.
type Booking struct {
	TripRequestID   string
	AttemptID       string
	FlightOrderID   string
	PNR             string
	OfferID         string
	TotalAmount     decimal.Decimal
	Currency        string
	SeatDesignator  string
	PaymentIntentID string
}
