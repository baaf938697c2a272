package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/SirClappington/autobook/internal/domain"
)

var (
	// ErrAttemptExists means another attempt for the trip is processing or completed.
	ErrAttemptExists = errors.New("booking attempt already exists")
	ErrNotFound      = errors.New("not found")
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct{ db DB }

func New(db DB) *Store { return &Store{db} }

// CreateAttempt inserts the processing row that guards a trip's booking.
func (s *Store) CreateAttempt(ctx context.Context, tripRequestID string) (*domain.BookingAttempt, error) {
	a := &domain.BookingAttempt{
		ID:            uuid.NewString(),
		TripRequestID: tripRequestID,
		Status:        domain.AttemptProcessing,
	}
	err := s.db.QueryRow(ctx, `insert into booking_attempts(id, trip_request_id, status, started_at)
values ($1, $2, 'processing', now()) returning started_at`, a.ID, tripRequestID).Scan(&a.StartedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAttemptExists
		}
		return nil, errors.Wrap(err, "insert booking attempt")
	}
	return a, nil
}

func (s *Store) FinalizeAttempt(ctx context.Context, attemptID string, status domain.AttemptStatus, flightOrderID, errMsg string) error {
	_, err := s.db.Exec(ctx, `update booking_attempts
   set status = $2,
       ended_at = now(),
       flight_order_id = nullif($3, ''),
       error_message = nullif($4, '')
 where id = $1`, attemptID, string(status), flightOrderID, errMsg)
	return errors.Wrap(err, "finalize booking attempt")
}

func (s *Store) LatestAttempt(ctx context.Context, tripRequestID string) (*domain.BookingAttempt, error) {
	var a domain.BookingAttempt
	var status string
	err := s.db.QueryRow(ctx, `select id, trip_request_id, status, started_at, ended_at, flight_order_id, error_message
  from booking_attempts
 where trip_request_id = $1
 order by started_at desc
 limit 1`, tripRequestID).Scan(&a.ID, &a.TripRequestID, &status, &a.StartedAt, &a.EndedAt, &a.FlightOrderID, &a.ErrorMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "latest booking attempt")
	}
	a.Status = domain.AttemptStatus(status)
	return &a, nil
}

func (s *Store) GetTripRequest(ctx context.Context, id string) (*domain.TripRequest, error) {
	var (
		t        domain.TripRequest
		maxPrice string
		status   string
		traveler []byte
	)
	err := s.db.QueryRow(ctx, `select id, user_id, origin, destination, departure_date, return_date, adults,
       cabin_class, max_price::text, currency, allow_middle_seat,
       coalesce(payment_intent_id, ''), coalesce(selected_offer_id, ''),
       status, auto_book_status, coalesce(pnr, ''), traveler
  from trip_requests
 where id = $1`, id).Scan(
		&t.ID, &t.UserID, &t.Origin, &t.Destination, &t.DepartureDate, &t.ReturnDate, &t.Adults,
		&t.CabinClass, &maxPrice, &t.Currency, &t.AllowMiddleSeat,
		&t.PaymentIntentID, &t.SelectedOfferID,
		&t.Status, &status, &t.PNR, &traveler,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "trip request %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select trip request")
	}
	if t.MaxPrice, err = decimal.NewFromString(maxPrice); err != nil {
		return nil, errors.Wrap(err, "parse max_price")
	}
	if len(traveler) > 0 {
		if err := json.Unmarshal(traveler, &t.Traveler); err != nil {
			return nil, errors.Wrap(err, "decode traveler")
		}
	}
	t.AutoBookStatus = domain.AutoBookStatus(status)
	return &t, nil
}

// PendingTrips lists trips still waiting for an auto-booking whose departure has not passed.
func (s *Store) PendingTrips(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.Query(ctx, `select id from trip_requests
 where auto_book_status = 'PENDING' and departure_date >= current_date
 order by created_at asc
 limit $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "pending trips")
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan pending trip")
		}
		out = append(out, id)
	}
	return out, errors.Wrap(rows.Err(), "pending trips")
}

// StaleAttempts lists processing attempts started before cutoff on trips that
// are still PENDING, oldest first.
func (s *Store) StaleAttempts(ctx context.Context, cutoff time.Time, limit int) ([]domain.BookingAttempt, error) {
	rows, err := s.db.Query(ctx, `select a.id, a.trip_request_id, a.started_at
  from booking_attempts a
  join trip_requests t on t.id = a.trip_request_id
 where a.status = 'processing' and a.started_at < $1 and t.auto_book_status = 'PENDING'
 order by a.started_at asc
 limit $2`, cutoff, limit)
	if err != nil {
		return nil, errors.Wrap(err, "stale attempts")
	}
	defer rows.Close()
	var out []domain.BookingAttempt
	for rows.Next() {
		a := domain.BookingAttempt{Status: domain.AttemptProcessing}
		if err := rows.Scan(&a.ID, &a.TripRequestID, &a.StartedAt); err != nil {
			return nil, errors.Wrap(err, "scan stale attempt")
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "stale attempts")
}

func (s *Store) SetSelectedOffer(ctx context.Context, tripRequestID, offerID string, checkedAt time.Time) error {
	_, err := s.db.Exec(ctx, `update trip_requests
   set selected_offer_id = $2, last_checked_at = $3, updated_at = now()
 where id = $1`, tripRequestID, offerID, checkedAt)
	return errors.Wrap(err, "set selected offer")
}

// CompleteBooking writes the booking row and flips the trip to booked in one transaction.
func (s *Store) CompleteBooking(ctx context.Context, b domain.Booking) error {
	return pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `insert into bookings(
id, trip_request_id, booking_attempt_id, flight_order_id, pnr, offer_id,
total_amount, currency, seat_designator, payment_intent_id, status
) values ($1,$2,$3,$4,$5,$6,$7::numeric,$8,nullif($9,''),$10,'confirmed')`,
			uuid.NewString(), b.TripRequestID, b.AttemptID, b.FlightOrderID, b.PNR, b.OfferID,
			b.TotalAmount.String(), b.Currency, b.SeatDesignator, b.PaymentIntentID,
		); err != nil {
			return errors.Wrap(err, "insert booking")
		}
		tag, err := tx.Exec(ctx, `update trip_requests
   set status = 'booked',
       auto_book_status = 'BOOKED',
       pnr = $2,
       selected_offer_id = $3,
       booked_price = $4::numeric,
       last_error = null,
       updated_at = now()
 where id = $1`, b.TripRequestID, b.PNR, b.OfferID, b.TotalAmount.String())
		if err != nil {
			return errors.Wrap(err, "update trip request")
		}
		if tag.RowsAffected() == 0 {
			return errors.Wrapf(ErrNotFound, "trip request %s", b.TripRequestID)
		}
		return nil
	})
}

// SetTripOutcome records a non-booked outcome on the trip request.
func (s *Store) SetTripOutcome(ctx context.Context, tripRequestID string, status domain.AutoBookStatus, errMsg string) error {
	_, err := s.db.Exec(ctx, `update trip_requests
   set auto_book_status = $2::text,
       status = case when $2::text = 'FAILED' then 'failed' else status end,
       last_error = nullif($3, ''),
       updated_at = now()
 where id = $1`, tripRequestID, string(status), errMsg)
	return errors.Wrap(err, "set trip outcome")
}
