package saga

import (
	"github.com/shopspring/decimal"

	"github.com/SirClappington/autobook/internal/provider"
)

var seatPreference = []provider.SeatType{provider.SeatAisle, provider.SeatWindow, provider.SeatMiddle}

// SelectSeat picks the preferred affordable seat: aisle, then window, then
// middle (only if allowed), cheapest within each class, first one on ties.
// It returns nil when nothing fits in remaining.
func SelectSeat(seats []provider.Seat, remaining decimal.Decimal, allowMiddle bool) *provider.Seat {
	if !remaining.IsPositive() {
		return nil
	}
	best := make(map[provider.SeatType]int, len(seatPreference))
	for i, s := range seats {
		if !s.Available || s.Price.IsNegative() || s.Price.GreaterThan(remaining) {
			continue
		}
		if s.Type == provider.SeatMiddle && !allowMiddle {
			continue
		}
		if j, ok := best[s.Type]; !ok || s.Price.LessThan(seats[j].Price) {
			best[s.Type] = i
		}
	}
	for _, t := range seatPreference {
		if i, ok := best[t]; ok {
			seat := seats[i]
			return &seat
		}
	}
	return nil
}
