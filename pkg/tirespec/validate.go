package tirespec

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError reports a malformed or incomplete tire record. Label
// generation aborts; whether product creation continues is the caller's
// policy.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid tire record: %s: %s", e.Field, e.Reason)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks that a record carries everything a label needs.
func Validate(r *Record) error {
	if r.SKU == "" {
		return &ValidationError{Field: "sku", Reason: "is required"}
	}
	// The SKU names the artifact file on disk.
	if strings.ContainsAny(r.SKU, `/\`) {
		return &ValidationError{Field: "sku", Reason: "must not contain path separators"}
	}

	if r.NewPrice != nil && *r.NewPrice <= 0 {
		return &ValidationError{Field: "new_price", Reason: "must be positive"}
	}
	if r.SalePrice != nil {
		if *r.SalePrice < 0 {
			return &ValidationError{Field: "sale_price", Reason: "must not be negative"}
		}
		// A discount needs a reference price to divide by.
		if r.NewPrice == nil {
			return &ValidationError{Field: "new_price", Reason: "is required when sale_price is set"}
		}
		// Keeps the derived discount within 0..100.
		if *r.SalePrice > *r.NewPrice {
			return &ValidationError{Field: "sale_price", Reason: "must not exceed new_price"}
		}
	}

	if r.Season != "" {
		if _, ok := SeasonDisplay(r.Season); !ok {
			return &ValidationError{Field: "season", Reason: fmt.Sprintf("unknown season code %q", r.Season)}
		}
	}

	if r.SpeedIndex != "" {
		if _, ok := SpeedRating(r.SpeedIndex); !ok {
			return &ValidationError{Field: "speed_index", Reason: fmt.Sprintf("unknown speed index %q", r.SpeedIndex)}
		}
	}

	if r.Quantity < 0 {
		return &ValidationError{Field: "quantity", Reason: "must not be negative"}
	}

	return nil
}
