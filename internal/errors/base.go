package errors

import (
	"errors"
)

var (
	_ error = (*wrappedError)(nil)
	_ error = (*kindError)(nil)
	_ error = (*taggedError)(nil)
)

func New(text string) error {
	return errors.New(text)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Wrap(err error, text string) error {
	if err == nil {
		return nil
	}

	if len(text) == 0 {
		return err
	}

	return &wrappedError{
		err: err,
		msg: text,
	}
}

type wrappedError struct {
	err error
	msg string
}

const sep = ", err: "

func (err wrappedError) Error() string {
	if err.err == nil {
		return err.msg
	}

	return err.msg + sep + err.err.Error()
}

func (err wrappedError) Unwrap() error {
	if err.err == nil {
		return errors.New(err.msg)
	}

	return err.err
}

// Mark attaches kind to err. The message stays the one of err, while
// errors.Is matches both err's chain and kind.
func Mark(err error, kind error) error {
	if err == nil {
		return nil
	}

	if kind == nil || errors.Is(err, kind) {
		return err
	}

	return &kindError{
		err:  err,
		kind: kind,
	}
}

type kindError struct {
	err  error
	kind error
}

func (err kindError) Error() string {
	return err.err.Error()
}

func (err kindError) Unwrap() []error {
	return []error{err.err, err.kind}
}

// Tag prefixes err with "[tag] ".
func Tag(tag string, err error) error {
	if err == nil {
		return nil
	}

	if len(tag) == 0 {
		return err
	}

	return &taggedError{
		err: err,
		tag: tag,
	}
}

type taggedError struct {
	err error
	tag string
}

func (err taggedError) Error() string {
	return "[" + err.tag + "] " + err.err.Error()
}

func (err taggedError) Unwrap() error {
	return err.err
}

// TagOf returns the outermost tag in err's chain.
func TagOf(err error) (string, bool) {
	var tagged *taggedError
	if errors.As(err, &tagged) {
		return tagged.tag, true
	}

	return "", false
}
