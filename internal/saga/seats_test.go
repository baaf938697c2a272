package saga

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SirClappington/autobook/internal/provider"
)

func seat(id string, typ provider.SeatType, price string) provider.Seat {
	return provider.Seat{ID: id, Designator: id, Type: typ, Price: decimal.RequireFromString(price), Available: true}
}

func remaining(total, base string) decimal.Decimal {
	return decimal.RequireFromString(total).Sub(decimal.RequireFromString(base))
}

func TestSelectSeat(t *testing.T) {
	standard := []provider.Seat{
		seat("aisle", provider.SeatAisle, "20"),
		seat("window", provider.SeatWindow, "10"),
		seat("middle", provider.SeatMiddle, "5"),
	}

	tests := []struct {
		name        string
		seats       []provider.Seat
		remaining   decimal.Decimal
		allowMiddle bool
		want        string
	}{
		{"aisle preferred when it fits", standard, remaining("120", "100"), false, "aisle"},
		{"nothing fits without middle", standard, remaining("105", "100"), false, ""},
		{"middle allowed and only option", standard, remaining("105", "100"), true, "middle"},
		{"window when aisle too expensive", standard, remaining("115", "100"), false, "window"},
		{"no budget left", standard, remaining("100", "100"), true, ""},
		{"over budget", standard, remaining("90", "100"), true, ""},
		{"free seat counts", []provider.Seat{seat("w0", provider.SeatWindow, "0")}, decimal.NewFromInt(1), false, "w0"},
		{
			"cheapest within class, first on tie",
			[]provider.Seat{
				seat("a1", provider.SeatAisle, "15"),
				seat("a2", provider.SeatAisle, "8"),
				seat("a3", provider.SeatAisle, "8"),
			},
			decimal.NewFromInt(20), false, "a2",
		},
		{
			"unavailable seats skipped",
			[]provider.Seat{
				{ID: "a1", Designator: "1C", Type: provider.SeatAisle, Price: decimal.NewFromInt(1)},
				seat("w1", provider.SeatWindow, "3"),
			},
			decimal.NewFromInt(20), false, "w1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SelectSeat(tt.seats, tt.remaining, tt.allowMiddle)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.ID)
		})
	}
}

func TestSelectSeatReturnsCopy(t *testing.T) {
	seats := []provider.Seat{seat("aisle", provider.SeatAisle, "20")}
	got := SelectSeat(seats, decimal.NewFromInt(50), false)
	require.NotNil(t, got)
	got.ID = "changed"
	assert.Equal(t, "aisle", seats[0].ID)
}
