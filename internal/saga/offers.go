package saga

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/SirClappington/autobook/internal/domain"
	"github.com/SirClappington/autobook/internal/provider"
)

// RankOffers drops offers that are over budget or already expired and orders
// the rest cheapest first. The trip's previously selected offer, if still
// present, goes to the front.
func RankOffers(offers []provider.Offer, trip *domain.TripRequest, now time.Time) []provider.Offer {
	out := make([]provider.Offer, 0, len(offers))
	for _, o := range offers {
		if o.TotalAmount.GreaterThan(trip.MaxPrice) {
			continue
		}
		if !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now) {
			continue
		}
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if trip.SelectedOfferID != "" {
			if out[i].ID == trip.SelectedOfferID {
				return out[j].ID != trip.SelectedOfferID
			}
			if out[j].ID == trip.SelectedOfferID {
				return false
			}
		}
		return out[i].TotalAmount.LessThan(out[j].TotalAmount)
	})
	return out
}

type PriceOutcome int

const (
	PriceOK PriceOutcome = iota
	// PriceRetryable means this candidate is unusable but the next one may work.
	PriceRetryable
	PriceFatal
)

// PriceResult is the outcome of pricing a single candidate offer.
type PriceResult struct {
	Outcome PriceOutcome
	Offer   provider.PricedOffer
	Reason  error
}

func (o *Orchestrator) priceCandidate(ctx context.Context, offer provider.Offer, trip *domain.TripRequest) PriceResult {
	priced, err := provider.Retry(ctx, o.opts.Retry, func() (provider.PricedOffer, error) {
		return o.flights.PriceOffer(ctx, offer.ID)
	})
	if err != nil {
		switch provider.ClassOf(err) {
		case provider.Stale, provider.Transient:
			return PriceResult{Outcome: PriceRetryable, Reason: err}
		default:
			return PriceResult{Outcome: PriceFatal, Reason: err}
		}
	}
	if trip.Currency != "" && priced.Currency != trip.Currency {
		return PriceResult{Outcome: PriceRetryable, Reason: errors.Errorf("offer %s priced in %s, budget is %s", offer.ID, priced.Currency, trip.Currency)}
	}
	if priced.TotalAmount.GreaterThan(trip.MaxPrice) {
		return PriceResult{Outcome: PriceRetryable, Reason: errors.Errorf("offer %s repriced to %s over budget %s", offer.ID, priced.TotalAmount, trip.MaxPrice)}
	}
	return PriceResult{Outcome: PriceOK, Offer: priced}
}
