package saga

import (
	"github.com/pkg/errors"
)

type Kind string

const (
	KindInvalidTrip                   Kind = "InvalidTrip"
	KindNoOffersFound                 Kind = "NoOffersFound"
	KindPricingExhausted              Kind = "PricingExhausted"
	KindOrderCreationFailed           Kind = "OrderCreationFailed"
	KindPaymentFailed                 Kind = "PaymentFailed"
	KindCompensationFailed            Kind = "CompensationFailed"
	KindPersistenceFailedAfterPayment Kind = "PersistenceFailedAfterPayment"
	KindUnexpected                    Kind = "Unexpected"
)

// Critical kinds leave money or an order in an unknown state and need a human.
func (k Kind) Critical() bool {
	return k == KindCompensationFailed || k == KindPersistenceFailedAfterPayment
}

type Error struct {
	Kind Kind
	Err  error
	// Compensation holds the cancel failure for KindCompensationFailed.
	Compensation error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Compensation != nil {
		msg += "; cancel failed: " + e.Compensation.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func fail(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the taxonomy kind of err, KindUnexpected for foreign errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnexpected
}
