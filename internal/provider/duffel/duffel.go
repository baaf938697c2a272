package duffel

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SirClappington/autobook/internal/provider"
)

const dateLayout = "2006-01-02"

type slice struct {
	Origin        string `json:"origin"`
	Destination   string `json:"destination"`
	DepartureDate string `json:"departure_date"`
}

type passengerType struct {
	Type string `json:"type"`
}

type offerRequest struct {
	Slices     []slice         `json:"slices"`
	Passengers []passengerType `json:"passengers"`
	CabinClass string          `json:"cabin_class,omitempty"`
}

type offer struct {
	ID            string          `json:"id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalCurrency string          `json:"total_currency"`
	ExpiresAt     time.Time       `json:"expires_at"`
	Passengers    []struct {
		ID string `json:"id"`
	} `json:"passengers"`
}

func (c *Client) SearchOffers(ctx context.Context, q provider.OfferQuery) ([]provider.Offer, error) {
	if _, err := provider.Check("search", q); err != nil {
		return nil, err
	}
	req := offerRequest{
		Slices: []slice{{
			Origin:        q.Origin,
			Destination:   q.Destination,
			DepartureDate: q.DepartureDate.Format(dateLayout),
		}},
		CabinClass: strings.ToLower(q.CabinClass),
	}
	if q.ReturnDate != nil {
		req.Slices = append(req.Slices, slice{
			Origin:        q.Destination,
			Destination:   q.Origin,
			DepartureDate: q.ReturnDate.Format(dateLayout),
		})
	}
	for i := 0; i < q.Adults; i++ {
		req.Passengers = append(req.Passengers, passengerType{Type: "adult"})
	}

	var out struct {
		Offers []offer `json:"offers"`
	}
	if err := c.do(ctx, "search", http.MethodPost, "/air/offer_requests?return_offers=true", req, nil, &out); err != nil {
		return nil, err
	}
	offers := make([]provider.Offer, 0, len(out.Offers))
	for _, o := range out.Offers {
		offers = append(offers, provider.Offer{
			ID:          o.ID,
			TotalAmount: o.TotalAmount,
			Currency:    o.TotalCurrency,
			ExpiresAt:   o.ExpiresAt,
		})
	}
	return provider.CheckAll("search", offers)
}

func (c *Client) PriceOffer(ctx context.Context, offerID string) (provider.PricedOffer, error) {
	var o offer
	path := "/air/offers/" + url.PathEscape(offerID) + "?return_available_services=false"
	if err := c.do(ctx, "price", http.MethodGet, path, nil, nil, &o); err != nil {
		return provider.PricedOffer{}, err
	}
	p := provider.PricedOffer{
		OfferID:     o.ID,
		TotalAmount: o.TotalAmount,
		Currency:    o.TotalCurrency,
	}
	for _, pas := range o.Passengers {
		p.PassengerIDs = append(p.PassengerIDs, pas.ID)
	}
	return provider.Check("price", p)
}

type orderPassenger struct {
	ID          string `json:"id"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number,omitempty"`
	BornOn      string `json:"born_on,omitempty"`
}

type service struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type payment struct {
	Type     string `json:"type"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

type orderCreate struct {
	Type           string           `json:"type"`
	SelectedOffers []string         `json:"selected_offers"`
	Passengers     []orderPassenger `json:"passengers"`
	Services       []service        `json:"services,omitempty"`
	Payments       []payment        `json:"payments"`
}

type order struct {
	ID               string          `json:"id"`
	BookingReference string          `json:"booking_reference"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	TotalCurrency    string          `json:"total_currency"`
}

// CreateOrder books the offer for every passenger with the lead traveler's
// details. The order is paid from the Duffel balance; the customer's card is
// captured separately.
func (c *Client) CreateOrder(ctx context.Context, req provider.OrderRequest) (provider.Order, error) {
	body := orderCreate{
		Type:           "instant",
		SelectedOffers: []string{req.OfferID},
		Payments: []payment{{
			Type:     "balance",
			Amount:   req.Amount.StringFixed(2),
			Currency: req.Currency,
		}},
	}
	for _, id := range req.PassengerIDs {
		body.Passengers = append(body.Passengers, orderPassenger{
			ID:          id,
			GivenName:   req.Traveler.GivenName,
			FamilyName:  req.Traveler.FamilyName,
			Email:       req.Traveler.Email,
			PhoneNumber: req.Traveler.Phone,
			BornOn:      req.Traveler.BornOn,
		})
	}
	if req.Seat != nil {
		body.Services = []service{{ID: req.Seat.ID, Quantity: 1}}
	}
	var headers map[string]string
	if req.IdempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": req.IdempotencyKey}
	}

	var o order
	if err := c.do(ctx, "order", http.MethodPost, "/air/orders", body, headers, &o); err != nil {
		return provider.Order{}, err
	}
	return provider.Check("order", provider.Order{
		ID:          o.ID,
		PNR:         o.BookingReference,
		TotalAmount: o.TotalAmount,
		Currency:    o.TotalCurrency,
	})
}

// CancelOrder creates a pending cancellation and confirms it.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	var pending struct {
		ID string `json:"id"`
	}
	body := map[string]string{"order_id": orderID}
	if err := c.do(ctx, "cancel", http.MethodPost, "/air/order_cancellations", body, nil, &pending); err != nil {
		return err
	}
	if pending.ID == "" {
		return &provider.Error{Op: "cancel", Class: provider.Fatal, Code: "invalid_response"}
	}
	path := "/air/order_cancellations/" + url.PathEscape(pending.ID) + "/actions/confirm"
	return c.do(ctx, "cancel", http.MethodPost, path, nil, nil, nil)
}

var _ provider.FlightProvider = (*Client)(nil)
