// Package validation holds the struct validation rules shared by the HTTP
// binding layer and the application commands.
package validation

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

var (
	phoneRegex      = regexp.MustCompile(`^\+?[0-9]{10,15}$`)
	identifierRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]{0,63}$`)
	idemKeyRegex    = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,255}$`)
)

var rules = map[string]validator.Func{
	"phone":           func(fl validator.FieldLevel) bool { return phoneRegex.MatchString(fl.Field().String()) },
	"identifier":      func(fl validator.FieldLevel) bool { return identifierRegex.MatchString(fl.Field().String()) },
	"idempotency_key": func(fl validator.FieldLevel) bool { return idemKeyRegex.MatchString(fl.Field().String()) },
}

// Register adds the custom rules and JSON field naming to v
func Register(v *validator.Validate) {
	for tag, fn := range rules {
		_ = v.RegisterValidation(tag, fn)
	}

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
}

// Get returns the process-wide validator
func Get() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		Register(validate)
	})
	return validate
}

// Struct validates obj and returns validator.ValidationErrors on failure
func Struct(obj interface{}) error {
	return Get().Struct(obj)
}

// Fields formats validation errors as field → message
func Fields(err error) map[string]string {
	fields := make(map[string]string)

	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, e := range validationErrors {
			fields[e.Field()] = message(e)
		}
	}

	return fields
}

// Summary renders validation errors as one line, e.g. "customerPhone is required"
func Summary(err error) string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error()
	}

	parts := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		parts = append(parts, e.Field()+" "+message(e))
	}
	return strings.Join(parts, "; ")
}

func message(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "lte":
		return "must be less than or equal to " + e.Param()
	case "ne":
		return "must not be " + e.Param()
	case "phone":
		return "must be a phone number of 10-15 digits"
	case "identifier":
		return "must be an identifier (letters, digits, _ . : -; max 64)"
	case "idempotency_key":
		return "must contain only letters, digits, - and _ (max 255)"
	case "oneof":
		return "must be one of: " + e.Param()
	case "dive", "unique":
		return "contains invalid or duplicate entries"
	default:
		return "is invalid"
	}
}
