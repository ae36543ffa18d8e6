package utils

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

var registerOnce sync.Once

// RegisterValidators wires custom tags into gin's validator engine and makes
// validation errors report JSON field names instead of Go field names.
func RegisterValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}

		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return fld.Name
		})

		_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
			return strings.TrimSpace(fl.Field().String()) != ""
		})
	})
}

// Friendly messages for fields users commonly get wrong
var fieldMessages = map[string]string{
	"documents":   "At least one identity document (PNG, JPEG or PDF) is required for providers",
	"address":     "A service address is required",
	"serviceType": "Please choose the type of service you provide",
	"location":    "Please provide the area you operate in",
	"email":       "Please provide a valid email address",
	"password":    "Password must be at least 8 characters long",
	"planType":    "Plan type must be one of basic, standard or premium",
	"status":      "Status must be one of pending, accepted, completed or cancelled",
}

// FieldErrors expands binding errors into a field -> message map. Returns nil
// when err is not a validation error.
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = messageFor(fe)
	}
	return out
}

func messageFor(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Field()]; ok {
		return msg
	}

	switch fe.Tag() {
	case "required", "notblank":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// ValidationError converts a binding error into a BadRequest AppError
func ValidationError(err error) *AppError {
	appErr := WrapError(KindBadRequest, "VALIDATION_ERROR", "Invalid request data", err)
	if fields := FieldErrors(err); len(fields) > 0 {
		parts := make([]string, 0, len(fields))
		for _, msg := range fields {
			parts = append(parts, msg)
		}
		// Single field errors are promoted to the main message
		if len(parts) == 1 {
			appErr.Message = parts[0]
		}
		sort.Strings(parts)
		appErr.Details = strings.Join(parts, "; ")
		return appErr
	}
	appErr.Details = err.Error()
	return appErr
}
