package search

import (
	"errors"
	"fmt"
)

// Kind classifies failures so the serving layer can report them without
// inspecting messages.
type Kind string

const (
	KindLoad          Kind = "load"
	KindTraining      Kind = "training"
	KindRanking       Kind = "ranking"
	KindNormalization Kind = "normalization"
	KindInternal      Kind = "internal"
)

// Sentinels for errors.Is matching against a kind.
var (
	ErrLoad          = &Error{Kind: KindLoad}
	ErrTraining      = &Error{Kind: KindTraining}
	ErrRanking       = &Error{Kind: KindRanking}
	ErrNormalization = &Error{Kind: KindNormalization}
)

// Error is a kinded error raised by the search pipeline.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s error: %s", e.Kind, e.Op)
	}
	return string(e.Kind) + " error"
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, ErrRanking)
// works for every ranking failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds a kinded error. The format supports %w.
func Errorf(kind Kind, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind to err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
