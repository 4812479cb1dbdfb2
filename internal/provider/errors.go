package provider

import (
	"errors"
	"fmt"
)

// ErrorKind splits provider failures into the two classes the engines care
// about: Transient errors are retry-eligible (timeouts, 5xx, rate limiting),
// Permanent errors are not (auth revoked, resource gone, malformed request).
type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(op string, err error) error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}

func Permanent(op string, err error) error {
	return &Error{Kind: KindPermanent, Op: op, Err: err}
}

func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindTransient
}

func IsPermanent(err error) bool {
	var pe *Error
	return errors.As(err, &pe) && pe.Kind == KindPermanent
}
