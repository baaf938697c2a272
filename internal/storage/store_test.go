package storage

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/autobook/internal/domain"
)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock, New(mock)
}

func TestCreateAttempt(t *testing.T) {
	mock, s := newMock(t)
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery("insert into booking_attempts").
		WithArgs(pgxmock.AnyArg(), "trip-1").
		WillReturnRows(pgxmock.NewRows([]string{"started_at"}).AddRow(started))

	a, err := s.CreateAttempt(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, domain.AttemptProcessing, a.Status)
	assert.Equal(t, started, a.StartedAt)
}

func TestCreateAttemptUniqueViolation(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("insert into booking_attempts").
		WithArgs(pgxmock.AnyArg(), "trip-1").
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "booking_attempts_active_uq"})

	_, err := s.CreateAttempt(context.Background(), "trip-1")
	assert.ErrorIs(t, err, ErrAttemptExists)
}

func TestCreateAttemptOtherError(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("insert into booking_attempts").
		WithArgs(pgxmock.AnyArg(), "trip-1").
		WillReturnError(errors.New("connection reset"))

	_, err := s.CreateAttempt(context.Background(), "trip-1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAttemptExists)
}

func TestFinalizeAttempt(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("update booking_attempts").
		WithArgs("att-1", "failed", "", "PaymentFailed: declined").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FinalizeAttempt(context.Background(), "att-1", domain.AttemptFailed, "", "PaymentFailed: declined"))
}

func TestGetTripRequest(t *testing.T) {
	mock, s := newMock(t)
	dep := time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC)
	ret := dep.AddDate(0, 0, 7)
	mock.ExpectQuery("from trip_requests").
		WithArgs("trip-1").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "user_id", "origin", "destination", "departure_date", "return_date", "adults",
			"cabin_class", "max_price", "currency", "allow_middle_seat",
			"payment_intent_id", "selected_offer_id", "status", "auto_book_status", "pnr", "traveler",
		}).AddRow(
			"trip-1", "user-1", "JFK", "LAX", dep, &ret, 1,
			"economy", "450.50", "USD", false,
			"pi_1", "", "active", "PENDING", "", []byte(`{"given_name":"Ada","family_name":"Lovelace","email":"ada@example.com"}`),
		))

	trip, err := s.GetTripRequest(context.Background(), "trip-1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("450.5").Equal(trip.MaxPrice))
	assert.Equal(t, domain.AutoBookPending, trip.AutoBookStatus)
	assert.Equal(t, "Ada", trip.Traveler.GivenName)
	require.NotNil(t, trip.ReturnDate)
	assert.Equal(t, ret, *trip.ReturnDate)
}

func TestGetTripRequestNotFound(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("from trip_requests").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := s.GetTripRequest(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCompleteBookingCommits(t *testing.T) {
	mock, s := newMock(t)
	b := domain.Booking{
		TripRequestID: "trip-1", AttemptID: "att-1", FlightOrderID: "ord_1", PNR: "ABC123",
		OfferID: "off_1", TotalAmount: decimal.RequireFromString("215.00"), Currency: "USD",
		SeatDesignator: "12C", PaymentIntentID: "pi_1",
	}
	mock.ExpectBegin()
	mock.ExpectExec("insert into bookings").
		WithArgs(pgxmock.AnyArg(), "trip-1", "att-1", "ord_1", "ABC123", "off_1", "215", "USD", "12C", "pi_1").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("update trip_requests").
		WithArgs("trip-1", "ABC123", "off_1", "215").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.CompleteBooking(context.Background(), b))
}

func TestCompleteBookingRollsBack(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into bookings").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.CompleteBooking(context.Background(), domain.Booking{TripRequestID: "trip-1", TotalAmount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert booking")
}

func TestCompleteBookingMissingTrip(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectBegin()
	mock.ExpectExec("insert into bookings").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("update trip_requests").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := s.CompleteBooking(context.Background(), domain.Booking{TripRequestID: "gone", TotalAmount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetTripOutcome(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("update trip_requests").
		WithArgs("trip-1", "FAILED", "OrderCreationFailed: sold out").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.SetTripOutcome(context.Background(), "trip-1", domain.AutoBookFailed, "OrderCreationFailed: sold out"))
}

func TestPendingTrips(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectQuery("select id from trip_requests").
		WithArgs(100).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("trip-1").AddRow("trip-2"))

	ids, err := s.PendingTrips(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"trip-1", "trip-2"}, ids)
}

func TestStaleAttempts(t *testing.T) {
	mock, s := newMock(t)
	cutoff := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	started := cutoff.Add(-time.Hour)
	mock.ExpectQuery("from booking_attempts a").
		WithArgs(cutoff, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "trip_request_id", "started_at"}).
			AddRow("att-1", "trip-1", started))

	got, err := s.StaleAttempts(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "att-1", got[0].ID)
	assert.Equal(t, "trip-1", got[0].TripRequestID)
	assert.Equal(t, domain.AttemptProcessing, got[0].Status)
	assert.Equal(t, started, got[0].StartedAt)
}
