package provenance

import (
	"errors"
	"fmt"
)

// Kind classifies a failure of the provenance chain.
type Kind int

const (
	KindUnknown Kind = iota
	KindConfiguration
	KindFormat
	KindPatch
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindFormat:
		return "format"
	case KindPatch:
		return "patch"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

var (
	ErrConfiguration = errors.New("configuration error")
	ErrFormat        = errors.New("format error")
	ErrPatch         = errors.New("patch error")
	ErrIntegrity     = errors.New("integrity error")
)

// Error is the typed failure returned by every core operation. errors.Is
// matches it against the sentinel of its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Kind.String() + " error"
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrConfiguration:
		return e.Kind == KindConfiguration
	case ErrFormat:
		return e.Kind == KindFormat
	case ErrPatch:
		return e.Kind == KindPatch
	case ErrIntegrity:
		return e.Kind == KindIntegrity
	}
	return false
}

// KindOf reports the outermost Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func ConfigurationError(op string, format string, args ...any) error {
	return newError(KindConfiguration, op, format, args...)
}

func FormatError(op string, format string, args ...any) error {
	return newError(KindFormat, op, format, args...)
}

func PatchError(op string, format string, args ...any) error {
	return newError(KindPatch, op, format, args...)
}

func IntegrityError(op string, format string, args ...any) error {
	return newError(KindIntegrity, op, format, args...)
}
