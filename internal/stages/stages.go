// Package stages holds the job handlers for each pipeline stage.
package stages

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/monitor"
	"github.com/SirClappington/autobook/internal/notify"
	"github.com/SirClappington/autobook/internal/provider"
	"github.com/SirClappington/autobook/internal/saga"
	"github.com/SirClappington/autobook/internal/storage"
)

// Queue priorities; lower runs first.
const (
	PriorityBook    = 0
	PriorityNotify  = 1
	PrioritySearch  = 5
	PriorityMonitor = 10
)

type TripStore interface {
	GetTripRequest(ctx context.Context, id string) (*domain.TripRequest, error)
	SetSelectedOffer(ctx context.Context, tripRequestID, offerID string, checkedAt time.Time) error
	LatestAttempt(ctx context.Context, tripRequestID string) (*domain.BookingAttempt, error)
}

type Ledger interface {
	RecordCheck(ctx context.Context, tripRequestID string, price decimal.Decimal, currency, offerID string, at time.Time) (*domain.MonitoringRecord, error)
	GetMonitoringData(ctx context.Context, tripRequestID string) (*domain.MonitoringRecord, error)
}

type Enqueuer interface {
	Enqueue(ctx context.Context, j *domain.Job) error
}

type Booker interface {
	ProcessBookingJob(ctx context.Context, tripRequestID string) saga.Result
}

type Publisher interface {
	Publish(ctx context.Context, ev notify.BookingEvent) error
}

type Handlers struct {
	Store           TripStore
	Flights         provider.FlightProvider
	Ledger          Ledger
	Queue           Enqueuer
	Saga            Booker
	Events          Publisher
	Retry           provider.Retrier
	MonitorInterval time.Duration
	Log             *zap.Logger
	Now             func() time.Time
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// pendingTrip loads the trip and reports whether it still waits for a booking.
func (h *Handlers) pendingTrip(ctx context.Context, id string) (*domain.TripRequest, bool, error) {
	trip, err := h.Store.GetTripRequest(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return trip, trip.AutoBookStatus == domain.AutoBookPending, nil
}

// Search runs the first offer search for a new trip.
func (h *Handlers) Search(ctx context.Context, job *domain.Job) error {
	trip, ok, err := h.pendingTrip(ctx, job.TripRequestID)
	if err != nil || !ok {
		return err
	}
	return h.observe(ctx, trip)
}

// Monitor re-checks prices for a trip whose snapshot is older than MonitorInterval.
func (h *Handlers) Monitor(ctx context.Context, job *domain.Job) error {
	trip, ok, err := h.pendingTrip(ctx, job.TripRequestID)
	if err != nil || !ok {
		return err
	}
	rec, err := h.Ledger.GetMonitoringData(ctx, trip.ID)
	if err != nil {
		return err
	}
	if !monitor.Due(rec, h.now(), h.MonitorInterval) {
		return nil
	}
	return h.observe(ctx, trip)
}

// observe searches, records the cheapest acceptable offer and queues a
// booking when it is within budget.
func (h *Handlers) observe(ctx context.Context, trip *domain.TripRequest) error {
	log := h.Log.With(zap.String("trip_request_id", trip.ID))
	offers, err := provider.Retry(ctx, h.Retry, func() ([]provider.Offer, error) {
		return h.Flights.SearchOffers(ctx, provider.OfferQuery{
			Origin:        trip.Origin,
			Destination:   trip.Destination,
			DepartureDate: trip.DepartureDate,
			ReturnDate:    trip.ReturnDate,
			Adults:        trip.Adults,
			CabinClass:    trip.CabinClass,
		})
	})
	if err != nil {
		if provider.ClassOf(err) == provider.Transient {
			return err
		}
		log.Warn("offer search failed", zap.Error(err))
		return nil
	}

	now := h.now()
	cheapest := cheapestLive(offers, now)
	if cheapest == nil {
		log.Info("no live offers")
		return nil
	}
	if _, err := h.Ledger.RecordCheck(ctx, trip.ID, cheapest.TotalAmount, cheapest.Currency, cheapest.ID, now); err != nil {
		return err
	}
	if !monitor.ShouldBook(*trip, cheapest.TotalAmount) {
		log.Debug("price above budget", zap.String("price", cheapest.TotalAmount.String()), zap.String("max_price", trip.MaxPrice.String()))
		return nil
	}
	if err := h.Store.SetSelectedOffer(ctx, trip.ID, cheapest.ID, now); err != nil {
		return err
	}
	log.Info("price within budget, queueing booking", zap.String("offer_id", cheapest.ID), zap.String("price", cheapest.TotalAmount.String()))
	return h.Queue.Enqueue(ctx, &domain.Job{
		TripRequestID: trip.ID,
		OfferID:       cheapest.ID,
		Stage:         domain.StageBook,
		Priority:      PriorityBook,
	})
}

func cheapestLive(offers []provider.Offer, now time.Time) *provider.Offer {
	var best *provider.Offer
	for i := range offers {
		o := &offers[i]
		if !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now) {
			continue
		}
		if best == nil || o.TotalAmount.LessThan(best.TotalAmount) {
			best = o
		}
	}
	return best
}

// Book runs the saga. Terminal outcomes are final and produce a notify job;
// only a failure before any attempt was recorded is retried.
func (h *Handlers) Book(ctx context.Context, job *domain.Job) error {
	res := h.Saga.ProcessBookingJob(ctx, job.TripRequestID)
	if res.Skipped {
		return nil
	}
	if res.AttemptID == "" && res.Err != nil {
		return res.Err
	}
	// the attempt is finalized; retrying the book job would start a new saga
	err := h.Queue.Enqueue(context.WithoutCancel(ctx), &domain.Job{
		TripRequestID: job.TripRequestID,
		Stage:         domain.StageNotify,
		Priority:      PriorityNotify,
	})
	if err != nil {
		h.Log.Error("notify not queued", zap.String("trip_request_id", job.TripRequestID),
			zap.String("attempt_id", res.AttemptID), zap.Error(err))
	}
	return nil
}

// Notify publishes the outcome of the trip's latest attempt.
func (h *Handlers) Notify(ctx context.Context, job *domain.Job) error {
	a, err := h.Store.LatestAttempt(ctx, job.TripRequestID)
	if errors.Is(err, storage.ErrNotFound) {
		h.Log.Warn("notify without attempt", zap.String("trip_request_id", job.TripRequestID))
		return nil
	}
	if err != nil {
		return err
	}
	ev := notify.BookingEvent{
		TripRequestID: job.TripRequestID,
		AttemptID:     a.ID,
		Status:        notify.EventFailed,
	}
	if a.FlightOrderID != nil {
		ev.FlightOrderID = *a.FlightOrderID
	}
	if a.ErrorMessage != nil {
		ev.Error = *a.ErrorMessage
	}
	switch {
	case a.Status == domain.AttemptCompleted && a.ErrorMessage != nil:
		ev.Status = notify.EventReconciliation
	case a.Status == domain.AttemptCompleted:
		ev.Status = notify.EventBooked
		if trip, err := h.Store.GetTripRequest(ctx, job.TripRequestID); err == nil {
			ev.PNR = trip.PNR
		}
	case a.Status == domain.AttemptProcessing:
		// still running; the book stage enqueues another notify when it ends
		return nil
	}
	return h.Events.Publish(ctx, ev)
}
