package jobs

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrJobNotFound indicates no record exists for a job id
	ErrJobNotFound = errors.New("job not found")

	// ErrClosed indicates the orchestrator or backend has been shut down
	ErrClosed = errors.New("job orchestrator is closed")
)

// ValidationError rejects a batch submission before any job is created.
type ValidationError struct {
	// Fields lists the offending payload fields, e.g. "entryUids" or "rule.find".
	Fields []string
	Err    error
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid batch payload: %v", e.Err)
	}
	return fmt.Sprintf("invalid batch payload (%s): %v", strings.Join(e.Fields, ", "), e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// newValidationError converts validator output into a ValidationError.
func newValidationError(err error) *ValidationError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &ValidationError{Err: err}
	}

	fields := make([]string, 0, len(verrs))
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fieldPath(fe.Namespace())
		fields = append(fields, field)
		msgs = append(msgs, fmt.Sprintf("%s failed %q", field, fe.Tag()))
	}
	return &ValidationError{Fields: fields, Err: errors.New(strings.Join(msgs, "; "))}
}

// fieldPath strips the root struct name from a validator namespace,
// "BatchPayload.rule.find" becomes "rule.find".
func fieldPath(namespace string) string {
	if _, rest, ok := strings.Cut(namespace, "."); ok {
		return rest
	}
	return namespace
}
