package utils

import (
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var validate = newValidator()

// newValidator reuses the gin binding tags so the same constraints apply
// outside request handlers.
func newValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// ValidateTolerances enforces the rule-tolerance contract: tolerances are
// optional but never negative, and a rule that demands both tolerances must
// configure both.
func ValidateTolerances(absolute, percent *decimal.Decimal, requireBoth bool) error {
	if absolute != nil && absolute.IsNegative() {
		return errors.New("tolerance_absolute must not be negative")
	}
	if percent != nil && percent.IsNegative() {
		return errors.New("tolerance_percent must not be negative")
	}
	if requireBoth && (absolute == nil || percent == nil) {
		return errors.New("require_both_tolerances needs both tolerances configured")
	}
	return nil
}
