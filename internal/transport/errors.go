package transport

import (
	"errors"
	"fmt"
)

// OfflineError marks a transport call that failed at the network level
// (no connectivity, DNS, connection refused). Always retryable.
type OfflineError struct {
	Err error
}

func (e OfflineError) Error() string { return fmt.Sprintf("offline: %v", e.Err) }
func (e OfflineError) Unwrap() error { return e.Err }

// TransportError marks a non-2xx response. Retryable up to the engine's
// ceiling.
type TransportError struct {
	Status int
	Body   string
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport error: status %d: %s", e.Status, e.Body)
}

// AuthError marks a rejected or locally-expired credential. Distinct from
// TransportError: retrying without a new credential cannot help, so it
// must not consume ordinary retry budget.
type AuthError struct {
	Reason string
}

func (e AuthError) Error() string { return fmt.Sprintf("auth error: %s", e.Reason) }

// IsOffline reports whether err is (or wraps) an OfflineError.
func IsOffline(err error) bool {
	var oe OfflineError
	return errors.As(err, &oe)
}

// IsAuth reports whether err is (or wraps) an AuthError.
func IsAuth(err error) bool {
	var ae AuthError
	return errors.As(err, &ae)
}
