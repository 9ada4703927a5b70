package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ValidationErrors []FieldError

func (v ValidationErrors) Error() string {
	return "invalid request"
}

var instrumentPattern = regexp.MustCompile(`^[A-Z0-9]+-[A-Z0-9]+$`)

// OrderRequest carries the parsed, normalized values of a valid submit
// request.
type OrderRequest struct {
	Instrument string
	Side       string
	LimitPrice decimal.Decimal
	Quantity   decimal.Decimal
}

// ValidateOrderRequest checks a submit request field by field and
// reports every problem at once rather than stopping at the first.
func ValidateOrderRequest(instrument, side, quantity, price string) (OrderRequest, ValidationErrors) {
	var errs ValidationErrors
	var req OrderRequest

	instrument = NormalizeInstrument(instrument)
	if instrument == "" {
		errs = append(errs, FieldError{Field: "instrument", Message: "instrument is required"})
	} else if !instrumentPattern.MatchString(instrument) {
		errs = append(errs, FieldError{Field: "instrument", Message: "instrument must match BASE-QUOTE"})
	}
	req.Instrument = instrument

	side = strings.ToLower(strings.TrimSpace(side))
	if side != "buy" && side != "sell" {
		errs = append(errs, FieldError{Field: "side", Message: "side must be buy or sell"})
	}
	req.Side = side

	qty, err := parsePositive("quantity", quantity)
	if err != nil {
		errs = append(errs, FieldError{Field: "quantity", Message: err.Error()})
	}
	req.Quantity = qty

	limitPrice, err := parsePositive("price", price)
	if err != nil {
		errs = append(errs, FieldError{Field: "price", Message: err.Error()})
	}
	req.LimitPrice = limitPrice

	return req, errs
}

func parsePositive(field, raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero, fmt.Errorf("%s is required", field)
	}
	val, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal", field)
	}
	if val.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("%s must be positive", field)
	}
	return val, nil
}

func NormalizeInstrument(instrument string) string {
	return strings.ToUpper(strings.TrimSpace(instrument))
}
