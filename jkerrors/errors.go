// Package jkerrors defines the error taxonomy shared by the kernel, session,
// and manager layers. Every sentinel here is documented in terms of the
// condition that produces it, not the code path that happens to raise it.
package jkerrors

import "github.com/pkg/errors"

// Sentinel errors, compared with errors.Is.
var (
	// ErrKernelDead is returned when an operation is attempted on an Engine
	// whose status has already reached KernelDead.
	ErrKernelDead = errors.New("kernel is dead")

	// ErrKernelTerminated marks work that was outstanding when the engine
	// died (reconnect budget exhausted, or explicit shutdown/restart).
	ErrKernelTerminated = errors.New("kernel terminated")

	// ErrCommTargetNotFound is raised when a server-initiated comm_open
	// names a target that cannot be resolved locally or via the host
	// module loader.
	ErrCommTargetNotFound = errors.New("comm target not found")

	// ErrReconnectExhausted marks a Managed Socket that used up its
	// reconnection attempt budget.
	ErrReconnectExhausted = errors.New("reconnection attempts exhausted")

	// ErrTimeout marks a REST call that exceeded its configured timeout.
	ErrTimeout = errors.New("request timed out")
)

// InvalidResponseError is returned when a REST call completes but with a
// status code outside the documented success code for that call.
type InvalidResponseError struct {
	Status     int
	StatusText string
	Body       []byte
}

func (e *InvalidResponseError) Error() string {
	return errors.Errorf("unexpected response status %d (%s): %s", e.Status, e.StatusText, string(e.Body)).Error()
}

// MalformedModelError wraps a JSON body that failed to validate against its
// expected shape (kernel spec bundle, session model, etc.) on a REST path.
type MalformedModelError struct {
	Context string
	Err     error
}

func (e *MalformedModelError) Error() string {
	return errors.WithMessagef(e.Err, "malformed model: %s", e.Context).Error()
}

func (e *MalformedModelError) Unwrap() error { return e.Err }

// SessionDeletedKernelKeptError is returned by a session DELETE that
// responds 410: the kernel was deleted but the session resource was not.
type SessionDeletedKernelKeptError struct{}

func (e *SessionDeletedKernelKeptError) Error() string {
	return "kernel was deleted but session was not"
}
