// Package validation wraps go-playground/validator and reports failures as
// INVALID_ARGUMENT application errors.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ramsey-B/fern/pkg/apperror"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates the struct tags of value.
func Struct(value any) error {
	if err := validate.Struct(value); err != nil {
		return toAppError(value, err)
	}
	return nil
}

// Var validates a single value against a validator tag such as "email".
func Var(value any, tag string) error {
	return validate.Var(value, tag)
}

// EchoValidator adapts the shared validator to echo.Validator.
type EchoValidator struct{}

func (EchoValidator) Validate(i any) error {
	return Struct(i)
}

func toAppError(input any, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.Wrap(apperror.CodeInvalidArgument, err, "invalid request")
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s=%s'", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("field '%s' failed rule '%s'", fe.Namespace(), fe.Tag()))
		}
	}

	appErr := apperror.InvalidArgument("invalid %T: %s", input, strings.Join(msgs, "; "))
	return appErr.WithField(verrs[0].Field())
}
