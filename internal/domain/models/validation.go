package models

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// TimeframeTag is the struct tag that accepts only supported timeframe labels.
const TimeframeTag = "timeframe"

// RegisterTimeframeValidation installs TimeframeTag on v.
func RegisterTimeframeValidation(v *validator.Validate) error {
	if err := v.RegisterValidation(TimeframeTag, validTimeframe); err != nil {
		return fmt.Errorf("register %s validation: %w", TimeframeTag, err)
	}
	return nil
}

func validTimeframe(fl validator.FieldLevel) bool {
	return IsValidTimeframe(Timeframe(fl.Field().String()))
}
