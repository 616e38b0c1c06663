package river

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies failures so the tailing loop can dispatch on them
type Kind uint8

const (
	// KindFatal stops the loop; unclassified errors are fatal
	KindFatal Kind = iota
	// KindTransient is retried after the fixed retry delay
	KindTransient
	// KindSoftSkip drops the current record and continues
	KindSoftSkip
	// KindStale means the resume position no longer exists in the log
	KindStale
	// KindCanceled is cooperative shutdown
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindTransient:
		return "transient"
	case KindSoftSkip:
		return "soft_skip"
	case KindStale:
		return "stale"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error carries a failure kind alongside the cause
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Transient marks err as retryable
func Transient(err error) error { return wrap(KindTransient, err) }

// Fatal marks err as terminal
func Fatal(err error) error { return wrap(KindFatal, err) }

// Stale marks err as a resume mismatch
func Stale(err error) error { return wrap(KindStale, err) }

// SoftSkip builds a record-level skip
func SoftSkip(format string, args ...any) error {
	return &Error{Kind: KindSoftSkip, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of err. Context cancellation is KindCanceled,
// anything unclassified is KindFatal.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return KindFatal
}

// ErrStale is returned by Run when the river stops in the STALE state
var ErrStale = errors.New("river out of sync with the change log")
