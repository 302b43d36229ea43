package httputil

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	return v
}

// Validate checks s against its `validate` struct tags and returns a
// ValidationError naming every rejected field.
func Validate(s any) error {
	return collect(validate.Struct(s), "")
}

// ValidateVar checks a single value, such as a path or query parameter,
// reporting a failure under field.
func ValidateVar(field string, value any, tag string) error {
	return collect(validate.Var(value, tag), field)
}

func collect(err error, field string) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	var v ValidationError
	for _, fe := range fieldErrs {
		name := fe.Field()
		if name == "" {
			name = field
		}
		v.Add(name, fieldMessage(fe))
	}

	return v.Err()
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must contain at least %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must contain at most %s characters", fe.Param())
	case "len":
		return fmt.Sprintf("must contain exactly %s characters", fe.Param())
	case "gte":
		return "must be greater than or equal to " + fe.Param()
	case "lte":
		return "must be less than or equal to " + fe.Param()
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "email":
		return "invalid email"
	case "uuid":
		return "invalid id"
	case "hexcolor":
		return "invalid hexadecimal color"
	case "datetime":
		return "must be an RFC 3339 date-time"
	default:
		return "failed the " + fe.Tag() + " rule"
	}
}
