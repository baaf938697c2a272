package provider

import (
	"reflect"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// amounts are validated on their float value; comparisons elsewhere stay decimal
	v.RegisterCustomTypeFunc(func(f reflect.Value) interface{} {
		if d, ok := f.Interface().(decimal.Decimal); ok {
			x, _ := d.Float64()
			return x
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// Check validates a provider payload at the boundary. Shape drift is a fatal
// error so it surfaces loudly instead of flowing into the saga.
func Check[T any](op string, v T) (T, error) {
	if err := validate.Struct(v); err != nil {
		var zero T
		return zero, &Error{Op: op, Class: Fatal, Code: "invalid_response", Err: err}
	}
	return v, nil
}

// CheckAll validates every element of a slice response.
func CheckAll[T any](op string, vs []T) ([]T, error) {
	for _, v := range vs {
		if _, err := Check(op, v); err != nil {
			return nil, err
		}
	}
	return vs, nil
}
