package errors

import (
	"errors"
	"fmt"
)

// Error taxonomy for the Intune session bridge
var (
	// Authentication phase: fatal to the login flow, never retried
	ErrStateMismatch       = errors.New("state mismatch")
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// Session phase: the session is treated as inactive
	ErrNoActiveSession = errors.New("no active session")
	ErrSessionExpired  = errors.New("session expired")

	// Command phase: recovered into a failed command result
	ErrUnknownCommand     = errors.New("unknown command")
	ErrInvalidParameters  = errors.New("invalid parameters")
	ErrTimeout            = errors.New("timeout")
	ErrMalformedOutput    = errors.New("malformed output")
	ErrProcessFailure     = errors.New("process failure")
	ErrProcessStartFailed = errors.New("process start failed")

	// Transport
	ErrRateLimited    = errors.New("rate limited")
	ErrInvalidRequest = errors.New("invalid request")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsSessionError reports whether err means the caller has no usable session.
func IsSessionError(err error) bool {
	return errors.Is(err, ErrNoActiveSession) || errors.Is(err, ErrSessionExpired)
}
