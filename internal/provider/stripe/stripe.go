// Package stripe captures authorized payment intents for provider.PaymentProvider.
package stripe

import (
	"context"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	stripego "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/SirClappington/autobook/internal/provider"
)

// currencies without a minor unit
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true,
	"MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true,
	"XOF": true, "XPF": true,
}

type capturer interface {
	Capture(id string, params *stripego.PaymentIntentCaptureParams) (*stripego.PaymentIntent, error)
}

type Payments struct {
	intents capturer
}

func New(secretKey string) *Payments {
	return &Payments{intents: client.New(secretKey, nil).PaymentIntents}
}

// MinorUnits converts a decimal amount to the integer amount Stripe expects.
func MinorUnits(amount decimal.Decimal, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return amount.Round(0).IntPart()
	}
	return amount.Shift(2).Round(0).IntPart()
}

func (p *Payments) Capture(ctx context.Context, req provider.CaptureRequest) (provider.CaptureResult, error) {
	params := &stripego.PaymentIntentCaptureParams{
		AmountToCapture: stripego.Int64(MinorUnits(req.Amount, req.Currency)),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := p.intents.Capture(req.PaymentIntentID, params)
	if err != nil {
		return provider.CaptureResult{}, classify(err)
	}
	return provider.Check("capture", provider.CaptureResult{ID: pi.ID, Status: string(pi.Status)})
}

func classify(err error) error {
	var se *stripego.Error
	if !errors.As(err, &se) {
		return &provider.Error{Op: "capture", Class: provider.Transient, Err: err}
	}
	e := &provider.Error{Op: "capture", Class: provider.ClassForStatus(se.HTTPStatusCode), Status: se.HTTPStatusCode, Code: string(se.Code), Err: err}
	// a lock timeout means another request holds the intent; the idempotency key makes a retry safe
	if se.Code == stripego.ErrorCodeLockTimeout || se.HTTPStatusCode == http.StatusConflict {
		e.Class = provider.Transient
	}
	return e
}

var _ provider.PaymentProvider = (*Payments)(nil)
