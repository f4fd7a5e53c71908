package tunnel

import (
	"errors"
	"fmt"
)

// ErrNoActiveTunnel is returned when an operation needs an active tunnel and
// the registry slot is empty.
var ErrNoActiveTunnel = errors.New("no active tunnel")

// ErrUnknownTunnel is returned by a backend asked to close a URL it does not host.
var ErrUnknownTunnel = errors.New("unknown tunnel")

// ArgumentError reports a missing or invalid command argument.
type ArgumentError struct {
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Arg == "" {
		return "invalid argument: " + e.Reason
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Reason)
}

// BackendError wraps a failed or timed out backend call.
type BackendError struct {
	Op  string // "open", "close" or "list"
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("tunnel backend %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// AlreadyActiveError is returned when the registry slot is already held.
// It is informational: Active is the tunnel that holds the slot.
type AlreadyActiveError struct {
	Active Tunnel
}

func (e *AlreadyActiveError) Error() string {
	return "tunnel already active: " + e.Active.PublicURL
}
