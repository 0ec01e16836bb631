package memory

import (
	"fmt"

	"github.com/tableorder/api/internal/repositories"
)

type errorKind int

const (
	kindNotFound errorKind = iota + 1
	kindConflict
	kindInvalid
)

// Error reports in-memory store failures using the repository error contract.
type Error struct {
	Op      string
	Message string
	kind    errorKind
}

var _ repositories.RepositoryError = (*Error)(nil)

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("memory %s: %s", e.Op, e.Message)
}

func (e *Error) IsNotFound() bool    { return e != nil && e.kind == kindNotFound }
func (e *Error) IsConflict() bool    { return e != nil && e.kind == kindConflict }
func (e *Error) IsUnavailable() bool { return false }

func notFound(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), kind: kindNotFound}
}

func conflict(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), kind: kindConflict}
}

func invalid(op, format string, args ...any) error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...), kind: kindInvalid}
}
