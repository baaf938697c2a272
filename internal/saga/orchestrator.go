// Package saga drives a single trip through search, pricing, seat selection,
// order creation, payment capture and persistence, cancelling the order when a
// later step fails after it was created.
package saga

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/logging"
	"github.com/SirClappington/autobook/internal/provider"
	"github.com/SirClappington/autobook/internal/storage"
)

// Store is the persistence the saga needs; *storage.Store satisfies it.
type Store interface {
	CreateAttempt(ctx context.Context, tripRequestID string) (*domain.BookingAttempt, error)
	FinalizeAttempt(ctx context.Context, attemptID string, status domain.AttemptStatus, flightOrderID, errMsg string) error
	GetTripRequest(ctx context.Context, id string) (*domain.TripRequest, error)
	CompleteBooking(ctx context.Context, b domain.Booking) error
	SetTripOutcome(ctx context.Context, tripRequestID string, status domain.AutoBookStatus, errMsg string) error
}

type Options struct {
	PricingCandidates int
	ErrorMessageLimit int
	Retry             provider.Retrier
	// FinalizeTimeout bounds the cleanup writes, which run even after ctx is cancelled.
	FinalizeTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.PricingCandidates <= 0 {
		o.PricingCandidates = 3
	}
	if o.ErrorMessageLimit <= 0 {
		o.ErrorMessageLimit = 500
	}
	if o.Retry.MaxAttempts <= 0 {
		o.Retry = provider.NewRetrier(3)
	}
	if o.FinalizeTimeout <= 0 {
		o.FinalizeTimeout = 10 * time.Second
	}
	return o
}

// Result is what ProcessBookingJob reports to the worker.
type Result struct {
	Success bool
	// Skipped is set when another attempt already owns the trip.
	Skipped       bool
	AttemptID     string
	FlightOrderID string
	PNR           string
	Err           error
}

type Orchestrator struct {
	store    Store
	flights  provider.FlightProvider
	payments provider.PaymentProvider
	opts     Options
	validate *validator.Validate
	log      *zap.Logger
	critical *zap.Logger
	now      func() time.Time
}

func New(store Store, flights provider.FlightProvider, payments provider.PaymentProvider, opts Options, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		flights:  flights,
		payments: payments,
		opts:     opts.withDefaults(),
		validate: validator.New(),
		log:      log.Named("saga"),
		critical: logging.Reconciliation(log),
		now:      time.Now,
	}
}

// run is the state carried between saga steps.
type run struct {
	tripID    string
	attempt   *domain.BookingAttempt
	trip      *domain.TripRequest
	priced    provider.PricedOffer
	seat      *provider.Seat
	amount    decimal.Decimal
	order     *provider.Order
	paid      bool
	persisted bool
	log       *zap.Logger
}

func (st *run) orderID() string {
	if st.order == nil {
		return ""
	}
	return st.order.ID
}

// ProcessBookingJob books tripRequestID at most once. A trip that already has
// a processing or completed attempt is reported as a successful no-op.
func (o *Orchestrator) ProcessBookingJob(ctx context.Context, tripRequestID string) Result {
	attempt, err := o.store.CreateAttempt(ctx, tripRequestID)
	if errors.Is(err, storage.ErrAttemptExists) {
		o.log.Info("booking already owned by another attempt", zap.String("trip_request_id", tripRequestID))
		return Result{Success: true, Skipped: true}
	}
	if err != nil {
		return Result{Err: fail(KindUnexpected, errors.Wrap(err, "create attempt"))}
	}

	st := &run{
		tripID:  tripRequestID,
		attempt: attempt,
		log:     o.log.With(zap.String("trip_request_id", tripRequestID), zap.String("attempt_id", attempt.ID)),
	}
	err = o.execute(ctx, st)
	o.finalize(ctx, st, err)

	res := Result{Success: err == nil, AttemptID: attempt.ID, FlightOrderID: st.orderID(), Err: err}
	if st.order != nil {
		res.PNR = st.order.PNR
	}
	return res
}

func (o *Orchestrator) execute(ctx context.Context, st *run) (err error) {
	defer func() {
		if p := recover(); p != nil {
			st.log.Error("saga panicked", zap.Any("panic", p), zap.Stack("stack"))
			kind := KindUnexpected
			if st.paid && !st.persisted {
				kind = KindPersistenceFailedAfterPayment
			}
			err = fail(kind, errors.Errorf("panic: %v", p))
		}
		if err != nil && st.order != nil && !st.paid {
			err = o.compensate(ctx, st, err)
		}
	}()
	return o.book(ctx, st)
}

func (o *Orchestrator) book(ctx context.Context, st *run) error {
	trip, err := o.store.GetTripRequest(ctx, st.tripID)
	if errors.Is(err, storage.ErrNotFound) {
		return fail(KindInvalidTrip, err)
	}
	if err != nil {
		return fail(KindUnexpected, err)
	}
	st.trip = trip
	if trip.AutoBookStatus != domain.AutoBookPending {
		return fail(KindInvalidTrip, errors.Errorf("auto-book status %s", trip.AutoBookStatus))
	}
	if err := o.checkTrip(trip); err != nil {
		return fail(KindInvalidTrip, err)
	}

	offers, err := provider.Retry(ctx, o.opts.Retry, func() ([]provider.Offer, error) {
		return o.flights.SearchOffers(ctx, provider.OfferQuery{
			Origin:        trip.Origin,
			Destination:   trip.Destination,
			DepartureDate: trip.DepartureDate,
			ReturnDate:    trip.ReturnDate,
			Adults:        trip.Adults,
			CabinClass:    trip.CabinClass,
		})
	})
	if err != nil {
		return fail(KindNoOffersFound, errors.Wrap(err, "search"))
	}
	candidates := RankOffers(offers, trip, o.now())
	if len(candidates) == 0 {
		return fail(KindNoOffersFound, errors.Errorf("%d offers, none within %s %s", len(offers), trip.MaxPrice, trip.Currency))
	}
	st.log.Info("offers searched", zap.Int("offers", len(offers)), zap.Int("candidates", len(candidates)))

	if err := o.price(ctx, st, candidates); err != nil {
		return err
	}

	o.selectSeat(ctx, st)
	st.amount = st.priced.TotalAmount
	if st.seat != nil {
		st.amount = st.amount.Add(st.seat.Price)
	}

	order, err := provider.Retry(ctx, o.opts.Retry, func() (provider.Order, error) {
		return o.flights.CreateOrder(ctx, provider.OrderRequest{
			OfferID:        st.priced.OfferID,
			PassengerIDs:   st.priced.PassengerIDs,
			Traveler:       trip.Traveler,
			Seat:           st.seat,
			Amount:         st.amount,
			Currency:       st.priced.Currency,
			IdempotencyKey: st.attempt.ID,
		})
	})
	if err != nil {
		return fail(KindOrderCreationFailed, err)
	}
	st.order = &order
	st.log.Info("order created", zap.String("flight_order_id", order.ID), zap.String("pnr", order.PNR))

	if err := o.capture(ctx, st); err != nil {
		return err
	}

	booking := domain.Booking{
		TripRequestID:   trip.ID,
		AttemptID:       st.attempt.ID,
		FlightOrderID:   order.ID,
		PNR:             order.PNR,
		OfferID:         st.priced.OfferID,
		TotalAmount:     st.amount,
		Currency:        st.priced.Currency,
		PaymentIntentID: trip.PaymentIntentID,
	}
	if st.seat != nil {
		booking.SeatDesignator = st.seat.Designator
	}
	if err := o.store.CompleteBooking(ctx, booking); err != nil {
		o.critical.Error("booking not persisted after payment capture",
			zap.String("trip_request_id", trip.ID),
			zap.String("attempt_id", st.attempt.ID),
			zap.String("flight_order_id", order.ID),
			zap.String("pnr", order.PNR),
			zap.String("payment_intent_id", trip.PaymentIntentID),
			zap.String("amount", st.amount.String()),
			zap.Error(err))
		return fail(KindPersistenceFailedAfterPayment, err)
	}
	st.persisted = true
	st.log.Info("booking completed", zap.String("flight_order_id", order.ID), zap.String("amount", st.amount.String()))
	return nil
}

func (o *Orchestrator) checkTrip(trip *domain.TripRequest) error {
	if !trip.MaxPrice.IsPositive() {
		return errors.Errorf("max price %s", trip.MaxPrice)
	}
	return errors.Wrap(o.validate.Struct(trip.Traveler), "traveler")
}

// price walks the ranked candidates until one prices within budget.
func (o *Orchestrator) price(ctx context.Context, st *run, candidates []provider.Offer) error {
	if len(candidates) > o.opts.PricingCandidates {
		candidates = candidates[:o.opts.PricingCandidates]
	}
	var skipped error
	for _, c := range candidates {
		res := o.priceCandidate(ctx, c, st.trip)
		switch res.Outcome {
		case PriceOK:
			st.priced = res.Offer
			st.log.Info("offer priced", zap.String("offer_id", c.ID), zap.String("total", res.Offer.TotalAmount.String()))
			return nil
		case PriceRetryable:
			st.log.Info("skipping candidate", zap.String("offer_id", c.ID), zap.Error(res.Reason))
			skipped = multierr.Append(skipped, res.Reason)
		case PriceFatal:
			return fail(KindPricingExhausted, res.Reason)
		}
	}
	return fail(KindPricingExhausted, errors.Wrapf(skipped, "%d candidates", len(candidates)))
}

// selectSeat is best effort: any failure leaves st.seat nil.
func (o *Orchestrator) selectSeat(ctx context.Context, st *run) {
	remaining := st.trip.MaxPrice.Sub(st.priced.TotalAmount)
	if !remaining.IsPositive() {
		return
	}
	sm, err := o.flights.SeatMap(ctx, st.priced.OfferID)
	if err != nil {
		st.log.Warn("seat map unavailable, booking without seat", zap.Error(err))
		return
	}
	st.seat = SelectSeat(sm.Seats, remaining, st.trip.AllowMiddleSeat)
	if st.seat != nil {
		st.log.Info("seat selected", zap.String("seat", st.seat.Designator), zap.String("price", st.seat.Price.String()))
	}
}

func (o *Orchestrator) capture(ctx context.Context, st *run) error {
	intent := st.trip.PaymentIntentID
	if intent == "" {
		return fail(KindPaymentFailed, errors.New("trip has no payment intent"))
	}
	res, err := provider.Retry(ctx, o.opts.Retry, func() (provider.CaptureResult, error) {
		return o.payments.Capture(ctx, provider.CaptureRequest{
			PaymentIntentID: intent,
			Amount:          st.amount,
			Currency:        st.priced.Currency,
			IdempotencyKey:  intent + ":" + st.order.ID,
		})
	})
	if err != nil {
		return fail(KindPaymentFailed, err)
	}
	if res.Status != provider.CaptureSucceeded {
		return fail(KindPaymentFailed, errors.Errorf("capture %s status %q", res.ID, res.Status))
	}
	st.paid = true
	st.log.Info("payment captured", zap.String("capture_id", res.ID))
	return nil
}

// compensate cancels the order after a failure that left it unpaid. The
// reported kind stays the original one unless the cancel itself fails.
func (o *Orchestrator) compensate(ctx context.Context, st *run, cause error) error {
	ctx = context.WithoutCancel(ctx)
	_, err := provider.Retry(ctx, o.opts.Retry, func() (struct{}, error) {
		return struct{}{}, o.flights.CancelOrder(ctx, st.order.ID)
	})
	if err == nil {
		st.log.Info("order cancelled", zap.String("flight_order_id", st.order.ID), zap.Error(cause))
		return cause
	}
	o.critical.Error("order cancel failed, manual reconciliation required",
		zap.String("trip_request_id", st.tripID),
		zap.String("attempt_id", st.attempt.ID),
		zap.String("flight_order_id", st.order.ID),
		zap.String("cause", cause.Error()),
		zap.Error(err))
	var se *Error
	if errors.As(cause, &se) {
		cause = se.Err
	}
	return &Error{Kind: KindCompensationFailed, Err: cause, Compensation: err}
}

// finalize always records the attempt outcome and the trip's auto-book status.
func (o *Orchestrator) finalize(ctx context.Context, st *run, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.FinalizeTimeout)
	defer cancel()

	status := domain.AttemptCompleted
	var msg string
	if err != nil {
		msg = truncate(err.Error(), o.opts.ErrorMessageLimit)
		status = domain.AttemptFailed
	}
	kind := KindOf(err)
	// money has moved; keep the attempt blocking so the trip is never booked twice
	if err != nil && kind == KindPersistenceFailedAfterPayment {
		status = domain.AttemptCompleted
	}

	cleanup := o.store.FinalizeAttempt(ctx, st.attempt.ID, status, st.orderID(), msg)
	if err != nil && st.ownsOutcome() {
		outcome := domain.AutoBookFailed
		switch kind {
		case KindNoOffersFound, KindPricingExhausted:
			outcome = domain.AutoBookPending
		case KindPersistenceFailedAfterPayment:
			// takes the trip out of the pending set so monitoring stops
			outcome = domain.AutoBookReconciliation
		}
		cleanup = multierr.Append(cleanup, o.store.SetTripOutcome(ctx, st.tripID, outcome, msg))
	}

	switch {
	case cleanup != nil && status == domain.AttemptCompleted && st.order != nil:
		o.critical.Error("outcome not recorded for paid order", zap.String("attempt_id", st.attempt.ID), zap.Error(cleanup))
	case cleanup != nil:
		st.log.Error("finalize failed", zap.Error(cleanup))
	}
	if err != nil && !kind.Critical() {
		st.log.Warn("booking failed", zap.String("kind", string(kind)), zap.Error(err))
	}
}

// ownsOutcome is false when the trip had already left PENDING before this
// attempt, so a refused attempt never overwrites an earlier outcome.
func (st *run) ownsOutcome() bool {
	return st.trip == nil || st.trip.AutoBookStatus == domain.AutoBookPending
}

func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
