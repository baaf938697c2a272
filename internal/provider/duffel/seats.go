package duffel

import (
	"context"
	"net/http"
	"net/url"

	"github.com/shopspring/decimal"

	"github.com/SirClappington/autobook/internal/provider"
)

type seatService struct {
	ID            string          `json:"id"`
	PassengerID   string          `json:"passenger_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	TotalCurrency string          `json:"total_currency"`
}

type element struct {
	Type              string        `json:"type"`
	Designator        string        `json:"designator"`
	AvailableServices []seatService `json:"available_services"`
}

type section struct {
	Elements []element `json:"elements"`
}

type row struct {
	Sections []section `json:"sections"`
}

type cabin struct {
	Rows []row `json:"rows"`
}

type seatMap struct {
	ID     string  `json:"id"`
	Cabins []cabin `json:"cabins"`
}

func (c *Client) SeatMap(ctx context.Context, offerID string) (provider.SeatMap, error) {
	var maps []seatMap
	path := "/air/seat_maps?offer_id=" + url.QueryEscape(offerID)
	if err := c.do(ctx, "seatmap", http.MethodGet, path, nil, nil, &maps); err != nil {
		return provider.SeatMap{}, err
	}
	sm := provider.SeatMap{OfferID: offerID}
	// first segment only; the seat service applies per segment
	if len(maps) > 0 {
		sm.Seats = flatten(maps[0])
	}
	return provider.Check("seatmap", sm)
}

// flatten walks a seat map and types each seat by its position: seats at the
// outer edge of a row are windows, seats next to an aisle are aisles.
func flatten(m seatMap) []provider.Seat {
	var out []provider.Seat
	for _, cb := range m.Cabins {
		for _, r := range cb.Rows {
			for si, sec := range r.Sections {
				seats := seatElements(sec)
				for i, el := range seats {
					s := provider.Seat{
						ID:         el.Designator,
						Designator: el.Designator,
						Type:       seatType(si, len(r.Sections), i, len(seats)),
					}
					if len(el.AvailableServices) > 0 {
						svc := el.AvailableServices[0]
						s.ID = svc.ID
						s.Price = svc.TotalAmount
						s.Available = true
					}
					out = append(out, s)
				}
			}
		}
	}
	return out
}

func seatElements(sec section) []element {
	out := make([]element, 0, len(sec.Elements))
	for _, el := range sec.Elements {
		if el.Type == "seat" && el.Designator != "" {
			out = append(out, el)
		}
	}
	return out
}

func seatType(section, sections, pos, n int) provider.SeatType {
	first, last := pos == 0, pos == n-1
	switch {
	case (section == 0 && first) || (section == sections-1 && last):
		return provider.SeatWindow
	case first || last:
		return provider.SeatAisle
	default:
		return provider.SeatMiddle
	}
}
