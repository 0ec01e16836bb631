package repositories

import "fmt"

// SequenceErrorCode enumerates failure reasons for order number reservation.
type SequenceErrorCode string

const (
	// SequenceErrorUnknown represents an unspecified failure.
	SequenceErrorUnknown SequenceErrorCode = "sequence_unknown"
	// SequenceErrorInvalidInput indicates the caller supplied invalid arguments.
	SequenceErrorInvalidInput SequenceErrorCode = "sequence_invalid_input"
	// SequenceErrorContention indicates a concurrent reservation won; the transaction may be retried.
	SequenceErrorContention SequenceErrorCode = "sequence_contention"
	// SequenceErrorExhausted indicates the tenant counter cannot be incremented further.
	SequenceErrorExhausted SequenceErrorCode = "sequence_exhausted"
)

// SequenceError wraps sequencing failures with machine readable codes.
type SequenceError struct {
	Op       string
	TenantID string
	Code     SequenceErrorCode
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *SequenceError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *SequenceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsNotFound implements RepositoryError.
func (e *SequenceError) IsNotFound() bool { return false }

// IsConflict implements RepositoryError. Contention is retryable.
func (e *SequenceError) IsConflict() bool { return e != nil && e.Code == SequenceErrorContention }

// IsUnavailable implements RepositoryError.
func (e *SequenceError) IsUnavailable() bool { return false }

// NewSequenceError constructs a typed sequencing error.
func NewSequenceError(op string, code SequenceErrorCode, message string, err error) *SequenceError {
	if message == "" {
		message = string(code)
	}
	return &SequenceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
