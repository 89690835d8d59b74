// Package errors wraps github.com/pkg/errors so the rest of zarrstream has
// a single import for error construction, plus a Fatal marker for errors
// that must abort stream construction rather than merely being logged.
package errors

import (
	"github.com/pkg/errors"
)

// New, Wrap, Wrapf, WithStack, Errorf, As and Is are re-exported so callers
// never need to import github.com/pkg/errors directly.
var (
	New      = errors.New
	Wrap     = errors.Wrap
	Wrapf    = errors.Wrapf
	WithStack = errors.WithStack
	Errorf   = errors.Errorf
	As       = errors.As
	Is       = errors.Is
	Unwrap   = errors.Unwrap
)

// fatalError marks an error as unrecoverable: the stream must refuse to
// continue rather than log and retry. Used for invalid_settings and
// invalid_argument conditions raised during Stream construction.
type fatalError struct {
	msg string
}

func (e *fatalError) Error() string { return e.msg }

// Fatal returns an error that IsFatal will recognize.
func Fatal(msg string) error {
	return &fatalError{msg: msg}
}

// Fatalf is like Fatal but with format args.
func Fatalf(format string, args ...interface{}) error {
	return &fatalError{msg: errors.Errorf(format, args...).Error()}
}

// IsFatal reports whether err (or something it wraps) was created by Fatal
// or Fatalf.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}
