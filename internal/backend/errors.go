package backend

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrUnsupported = errors.New("operation not supported")
	ErrOutOfBounds = errors.New("page out of bounds")
)

// ConnectionError reports a failure to open the socket or negotiate TLS.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthError reports a rejected login or a failing credential provider.
type AuthError struct {
	Login string
	Err   error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for %s: %v", e.Login, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ProtocolError reports a failed IMAP command, tagged with the operation
// and its target (folder, sequence set...).
type ProtocolError struct {
	Op     string
	Target string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NotFoundError reports a missing folder, message or alias.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// IsNotFound reports whether err denotes a missing folder, message or alias.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// UnsupportedError reports an operation a backend deliberately does not
// implement.
type UnsupportedError struct {
	Backend Kind
	Op      string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("%s backend: %s is not supported", e.Backend, e.Op)
}

func (e *UnsupportedError) Is(target error) bool { return target == ErrUnsupported }

// MappingError reports an unreachable id-mapper store or an alias that
// does not resolve.
type MappingError struct {
	Key string
	Err error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("id mapping %q: %v", e.Key, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// OutOfBoundsError reports a page starting past the end of a listing.
type OutOfBoundsError struct {
	Begin int
	Total int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("page begins at %d but only %d envelopes exist", e.Begin, e.Total)
}

func (e *OutOfBoundsError) Is(target error) bool { return target == ErrOutOfBounds }
