package sagaorch

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrNotFound is returned when no saga instance exists for a transaction id.
	ErrNotFound = errors.New("saga not found")

	// ErrDuplicate is returned when an instance is created under an id that is
	// already in use.
	ErrDuplicate = errors.New("saga already exists")

	// ErrUnknownSagaType is returned when no definition is registered under the
	// requested saga type.
	ErrUnknownSagaType = errors.New("unknown saga type")

	// ErrNotCompensable is returned by Compensate for a saga that is not
	// FAILED.
	ErrNotCompensable = errors.New("saga cannot be compensated")
)

// ValidationError reports a trigger request that was rejected before a
// transaction id was minted.
type ValidationError struct {
	Fields []string
	error
}

func (e *ValidationError) Unwrap() error { return e.error }

// newValidationError wraps err, collecting the failing field names when err
// comes from the struct validator.
func newValidationError(err error) *ValidationError {
	var fields []string
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Namespace())
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
		}
		err = errors.New(strings.Join(msgs, "; "))
	}
	return &ValidationError{Fields: fields, error: fmt.Errorf("invalid trigger: %w", err)}
}

// DefinitionError reports an invalid saga definition.
type DefinitionError struct {
	Saga string
	error
}

func (e *DefinitionError) Unwrap() error { return e.error }

func definitionFailed(saga string, format string, args ...any) error {
	return &DefinitionError{Saga: saga, error: fmt.Errorf("saga %q: "+format, append([]any{saga}, args...)...)}
}
