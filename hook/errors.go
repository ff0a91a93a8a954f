package hook

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrTokenExpired     = errors.New("hook: token expired")
	ErrUnknownEvent     = errors.New("hook: unknown event type")
	ErrDeadlineExceeded = errors.New("hook: batch deadline exceeded")
)

type DecodeErrorKind int

const (
	Malformed DecodeErrorKind = iota
	MissingField
	TypeMismatch
)

func (k DecodeErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case TypeMismatch:
		return "type mismatch"
	default:
		return "malformed record"
	}
}

// DecodeError is returned for records that will never decode, however often
// they are delivered.
type DecodeError struct {
	Kind DecodeErrorKind
	// Field is the name of the offending field, Path its dotted location.
	Field string
	Path  string
	Err   error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("hook: %s", e.Kind)
	if e.Path != "" {
		msg = fmt.Sprintf("%s %q", msg, e.Path)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %s", msg, e.Err)
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type DispatchError struct {
	Transient bool
	Err       error
}

func (e *DispatchError) Error() string {
	if e.Transient {
		return fmt.Sprintf("hook: transient dispatch failure: %s", e.Err)
	}
	return fmt.Sprintf("hook: permanent dispatch failure: %s", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	return &DispatchError{Transient: true, Err: err}
}

func Permanent(err error) error {
	return &DispatchError{Transient: false, Err: err}
}

// Retriable reports whether redelivering the record could lead to a different
// result.
func Retriable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrDeadlineExceeded) {
		return true
	}

	var de *DispatchError
	if errors.As(err, &de) {
		return de.Transient
	}

	return false
}

// Reason is a short, low-cardinality label for err, used in metrics and logs.
func Reason(err error) string {
	var (
		de  *DecodeError
		dpe *DispatchError
	)

	switch {
	case err == nil:
		return "none"
	case errors.As(err, &de):
		return "decode"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrUnknownEvent):
		return "unknown_event"
	case errors.Is(err, ErrDeadlineExceeded):
		return "deadline_exceeded"
	case errors.As(err, &dpe) && dpe.Transient:
		return "transient"
	case errors.As(err, &dpe):
		return "permanent"
	default:
		return "other"
	}
}
