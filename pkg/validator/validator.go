package validator

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var roomIdRegexp = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Message
}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]

		if name == "-" {
			return ""
		}

		return name
	})

	// registration only fails on empty tag or nil func
	_ = v.RegisterValidation("roomid", func(fl validator.FieldLevel) bool {
		return roomIdRegexp.MatchString(fl.Field().String())
	})

	return &Validator{validate: v}
}

func (v *Validator) Validate(i any) ([]ValidationError, bool) {
	if err := v.validate.Struct(i); err != nil {
		return toValidationErrors(err), false
	}

	return nil, true
}

// Var validates a single value against tag, reporting errors under field.
func (v *Validator) Var(field string, value any, tag string) ([]ValidationError, bool) {
	if err := v.validate.Var(value, tag); err != nil {
		errs := toValidationErrors(err)
		for i := range errs {
			errs[i].Field = field
			errs[i].Message = strings.Replace(errs[i].Message, "value", field, 1)
		}

		return errs, false
	}

	return nil, true
}

func toValidationErrors(err error) []ValidationError {
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Code: "INVALID", Message: err.Error()}}
	}

	errors := make([]ValidationError, 0, len(validationErrors))
	for _, err := range validationErrors {
		field := err.Field()
		if field == "" {
			field = "value"
		}

		var message string
		switch err.Tag() {
		case "required":
			message = fmt.Sprintf("%s is required", field)
		case "min":
			message = fmt.Sprintf("%s must be at least %s", field, err.Param())
		case "max":
			message = fmt.Sprintf("%s must not exceed %s", field, err.Param())
		case "gte":
			message = fmt.Sprintf("%s must be greater than or equal to %s", field, err.Param())
		case "oneof":
			message = fmt.Sprintf("%s must be one of [%s]", field, err.Param())
		case "roomid":
			message = fmt.Sprintf("%s must be 1-64 characters of letters, digits, '-' or '_'", field)
		default:
			message = fmt.Sprintf("%s is invalid", field)
		}

		errors = append(errors, ValidationError{
			Field:   field,
			Code:    strings.ToUpper(err.Tag()),
			Message: message,
		})
	}

	return errors
}
