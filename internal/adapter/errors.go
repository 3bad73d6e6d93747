package adapter

import (
	"errors"
	"fmt"
)

// UnreachableError covers network and authentication failures: the
// endpoint could not be reached or refused us. Retried with backoff.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("endpoint unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

// Unreachable wraps err as an UnreachableError.
func Unreachable(err error) error {
	return &UnreachableError{Err: err}
}

// IsUnreachable reports whether err is an UnreachableError.
func IsUnreachable(err error) bool {
	var target *UnreachableError
	return errors.As(err, &target)
}

// MalformedError covers responses the endpoint did return but we could
// not interpret: unexpected schema, missing fields, undecodable JSON.
// Not retried blindly; surfaced with a distinct message so operators
// can tell "can't reach" from "reached but confused".
type MalformedError struct {
	Detail string
	Err    error
}

func (e *MalformedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("malformed response: %s", e.Detail)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Malformed builds a MalformedError.
func Malformed(detail string, err error) error {
	return &MalformedError{Detail: detail, Err: err}
}

// IsMalformed reports whether err is a MalformedError.
func IsMalformed(err error) bool {
	var target *MalformedError
	return errors.As(err, &target)
}
