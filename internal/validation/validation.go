// Package validation checks decoded request bodies before they reach the services.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"standings/internal/models"

	"github.com/go-playground/validator/v10"
)

// MaxBulkIDs caps how many proposals one bulk call may act on.
const MaxBulkIDs = 100

// MaxNoteLength caps approver notes and standing notes.
const MaxNoteLength = 1000

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("entitytype", func(fl validator.FieldLevel) bool {
		return models.EntityType(strings.ToLower(fl.Field().String())).Valid()
	})
	_ = v.RegisterValidation("revocationreason", func(fl validator.FieldLevel) bool {
		raw := fl.Field().String()
		return raw == "" || models.RevocationReason(raw).Valid()
	})
	return v
}

// Struct validates v against its `validate` tags and returns a VALIDATION_ERROR describing the
// first failing field.
func Struct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return models.NewValidationError(err.Error())
	}
	return models.NewValidationError(describe(fieldErrs[0]))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s long", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", field, fe.Param())
	case "entitytype":
		return fmt.Sprintf("unknown entity type %q", fe.Value())
	case "revocationreason":
		return fmt.Sprintf("unknown revocation reason %q", fe.Value())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// IDs checks a bulk id list.
func IDs(ids []uint) error {
	if len(ids) == 0 {
		return models.NewValidationError("ids is required")
	}
	if len(ids) > MaxBulkIDs {
		return models.NewValidationError(fmt.Sprintf("at most %d ids per call", MaxBulkIDs))
	}
	for _, id := range ids {
		if id == 0 {
			return models.NewValidationError("ids must be positive")
		}
	}
	return nil
}
