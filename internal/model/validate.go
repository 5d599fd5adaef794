package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrValidation marks malformed or missing input. The operation is never attempted.
var ErrValidation = errors.New("validation failed")

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("crmstatus", func(fl validator.FieldLevel) bool {
		_, ok := ParseStatus(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("service", func(fl validator.FieldLevel) bool {
		_, ok := ParseServiceOption(fl.Field().String())
		return ok
	})
	_ = v.RegisterValidation("paymethod", func(fl validator.FieldLevel) bool {
		_, ok := ParsePaymentMethod(fl.Field().String())
		return ok
	})
	return v
}

// Validate runs the struct tags of a request and reports the first failure as
// a *ValidationError.
func Validate(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return invalid(fe.Field(), describe(fe))
	}
	return invalid("", err.Error())
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "gt":
		return "must be greater than " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	case "min":
		return "must be at least " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "crmstatus":
		return "is not a known status"
	case "service":
		return "must be one of Removing, New, Repair, None"
	case "paymethod":
		return "must be one of Cash, Bank Transfer, Cheque, Online Payment"
	default:
		return "is invalid"
	}
}
