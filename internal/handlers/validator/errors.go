package validator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

type ErrInvalidRequest struct {
	error
}

func NewErrInvalidRequest(format string, args ...any) *ErrInvalidRequest {
	return &ErrInvalidRequest{fmt.Errorf(format, args...)}
}

// Message flattens a validation error into one caller-facing line. The
// raw validator error names Go struct fields and tags; callers get the
// json field names instead.
func Message(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fieldName(fe)))
		default:
			parts = append(parts, fmt.Sprintf("%s is not a valid %s", fieldName(fe), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

func fieldName(fe validator.FieldError) string {
	name := fe.Field()
	if name == "" {
		return "field"
	}
	return strings.ToLower(name[:1]) + name[1:]
}
