// Package repository persists accounts, habits and entries in the kv store.
// The sentinel errors below are the error kinds callers branch on; handlers
// translate them into HTTP status codes.  Anything else is an internal
// failure.
package repository

import "errors"

// ErrInvalidInput is returned when caller supplied data fails validation.
// It is usually wrapped with a human readable detail.
var ErrInvalidInput = errors.New("invalid input")

// ErrConflict is returned when registration targets an email that is
// already bound to an account.
var ErrConflict = errors.New("conflict")

// ErrUnauthorized is returned for bad credentials.  Unknown email and wrong
// password are deliberately indistinguishable.
var ErrUnauthorized = errors.New("invalid credentials")

// ErrNotFound is returned when a record does not exist or is not visible to
// the caller.
var ErrNotFound = errors.New("not found")
