// Package convert holds the failure taxonomy shared by every conversion stage.
//
// Each stage returns a *Error whose Kind matches one of the sentinels, so callers can
// test with errors.Is(err, convert.ErrCapture) without knowing which package failed.
package convert

import (
	"errors"
	"fmt"
)

type Kind uint8

const (
	KindLoad Kind = iota + 1
	KindCapture
	KindLowering
	KindWrite
	KindSerialization
)

var (
	ErrLoad          = errors.New("load error")
	ErrCapture       = errors.New("capture error")
	ErrLowering      = errors.New("lowering error")
	ErrWrite         = errors.New("write error")
	ErrSerialization = errors.New("serialization error")
)

func (k Kind) String() string {
	switch k {
	case KindLoad:
		return "LoadError"
	case KindCapture:
		return "CaptureError"
	case KindLowering:
		return "LoweringError"
	case KindWrite:
		return "WriteError"
	case KindSerialization:
		return "SerializationError"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindLoad:
		return ErrLoad
	case KindCapture:
		return ErrCapture
	case KindLowering:
		return ErrLowering
	case KindWrite:
		return ErrWrite
	case KindSerialization:
		return ErrSerialization
	default:
		return nil
	}
}

// Error is a stage failure. Stage is filled in by the orchestrator.
type Error struct {
	Kind   Kind
	Stage  string
	Path   string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Stage != "" {
		msg += " [" + e.Stage + "]"
	}
	if e.Path != "" {
		msg += " " + e.Path
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Kind; the wrapped cause is reached through Unwrap.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

func newError(kind Kind, path string, err error, format string, args ...any) *Error {
	reason := format
	if len(args) > 0 {
		reason = fmt.Sprintf(format, args...)
	}
	return &Error{Kind: kind, Path: path, Reason: reason, Err: err}
}

func LoadError(path string, err error, format string, args ...any) *Error {
	return newError(KindLoad, path, err, format, args...)
}

func CaptureError(err error, format string, args ...any) *Error {
	return newError(KindCapture, "", err, format, args...)
}

func LoweringError(err error, format string, args ...any) *Error {
	return newError(KindLowering, "", err, format, args...)
}

func WriteError(path string, err error, format string, args ...any) *Error {
	return newError(KindWrite, path, err, format, args...)
}

func SerializationError(err error, format string, args ...any) *Error {
	return newError(KindSerialization, "", err, format, args...)
}

// KindOf reports the failure kind of err, if it carries one.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}

// WithStage annotates err with the failing stage. Errors without a kind are wrapped
// as fallback so that every pipeline failure carries one.
func WithStage(err error, stage string, fallback Kind) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		annotated := *ce
		if annotated.Stage == "" {
			annotated.Stage = stage
		}
		return &annotated
	}
	return &Error{Kind: fallback, Stage: stage, Err: err}
}
