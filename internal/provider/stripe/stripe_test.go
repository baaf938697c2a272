package stripe

import (
	"context"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v76"

	"github.com/SirClappington/autobook/internal/provider"
)

type fakeIntents struct {
	id     string
	params *stripego.PaymentIntentCaptureParams
	pi     *stripego.PaymentIntent
	err    error
}

func (f *fakeIntents) Capture(id string, params *stripego.PaymentIntentCaptureParams) (*stripego.PaymentIntent, error) {
	f.id, f.params = id, params
	return f.pi, f.err
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(23240), MinorUnits(decimal.RequireFromString("232.40"), "USD"))
	assert.Equal(t, int64(1999), MinorUnits(decimal.RequireFromString("19.985"), "eur"))
	assert.Equal(t, int64(15000), MinorUnits(decimal.RequireFromString("15000"), "JPY"))
}

func TestCaptureSendsAmountAndIdempotencyKey(t *testing.T) {
	f := &fakeIntents{pi: &stripego.PaymentIntent{ID: "pi_1", Status: stripego.PaymentIntentStatusSucceeded}}
	p := &Payments{intents: f}

	res, err := p.Capture(context.Background(), provider.CaptureRequest{
		PaymentIntentID: "pi_1",
		Amount:          decimal.RequireFromString("270.00"),
		Currency:        "USD",
		IdempotencyKey:  "pi_1:ord_1",
	})
	require.NoError(t, err)
	assert.Equal(t, provider.CaptureSucceeded, res.Status)
	assert.Equal(t, "pi_1", f.id)
	assert.Equal(t, int64(27000), *f.params.AmountToCapture)
	require.NotNil(t, f.params.IdempotencyKey)
	assert.Equal(t, "pi_1:ord_1", *f.params.IdempotencyKey)
}

func TestCaptureClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want provider.Class
	}{
		{"declined", &stripego.Error{HTTPStatusCode: http.StatusPaymentRequired, Code: stripego.ErrorCodeCardDeclined}, provider.Fatal},
		{"rate limited", &stripego.Error{HTTPStatusCode: http.StatusTooManyRequests}, provider.Transient},
		{"lock timeout", &stripego.Error{HTTPStatusCode: http.StatusConflict, Code: stripego.ErrorCodeLockTimeout}, provider.Transient},
		{"network", errors.New("dial tcp: connection refused"), provider.Transient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payments{intents: &fakeIntents{err: tt.err}}
			_, err := p.Capture(context.Background(), provider.CaptureRequest{PaymentIntentID: "pi_1", Amount: decimal.NewFromInt(1), Currency: "USD"})
			require.Error(t, err)
			assert.Equal(t, tt.want, provider.ClassOf(err))
		})
	}
}
