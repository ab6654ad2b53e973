// Package errdefs defines the error taxonomy used throughout gridlink.
//
// Every chain-step failure is attributed to exactly one kind:
//
//   - AuthenticationError: session dead or credentials rejected; fatal
//     until the user re-establishes the session.
//   - TransientNetworkError: timeouts, resets, transient I/O; retried by
//     the retry policy, surfaced once the budget is exhausted.
//   - ValidationError: bad names, missing configuration values; fatal,
//     surfaced immediately, no remote call is made.
//   - RemoteStateError: an expected remote artifact is missing or
//     inconsistent; surfaced for manual intervention.
//   - SchedulerRejection: the scheduler refused a submission; carries
//     the scheduler's raw reason.
package errdefs

import (
	"errors"
	"fmt"
	"strings"
)

// AuthenticationError indicates the session is unusable until the caller
// authenticates again. Never retried.
type AuthenticationError struct {
	Op  string
	Err error
}

func (e *AuthenticationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: authentication required", e.Op)
	}
	return fmt.Sprintf("%s: authentication failed: %v", e.Op, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// TransientNetworkError indicates a failure that may succeed on retry.
// The retry policy also returns one after exhausting its budget.
type TransientNetworkError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *TransientNetworkError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s: transient failure after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// ValidationError indicates invalid caller input. Fatal, no retry, and
// no remote state was touched.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// RemoteStateError indicates the remote filesystem does not look the way
// a chain requires (missing metadata, unexpected directory contents).
type RemoteStateError struct {
	Op   string
	Path string
	Msg  string
}

func (e *RemoteStateError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Path, e.Msg)
}

// SchedulerRejection indicates the scheduler refused a request. Reason is
// the scheduler's raw output, surfaced verbatim to the user.
type SchedulerRejection struct {
	Op     string
	Reason string
}

func (e *SchedulerRejection) Error() string {
	return fmt.Sprintf("%s: scheduler rejected request: %s", e.Op, e.Reason)
}

// ErrNotFound is returned when a requested job or remote artifact does
// not exist.
var ErrNotFound = errors.New("not found")

// IsAuth reports whether err is (or wraps) an AuthenticationError.
func IsAuth(err error) bool {
	var ae *AuthenticationError
	return errors.As(err, &ae)
}

// IsTransient reports whether err should be handed to the retry policy.
// Typed transient errors qualify directly; untyped errors from the SSH
// and SFTP layers are classified by message signature.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientNetworkError
	if errors.As(err, &te) {
		return true
	}
	// Fatal classes are never transient, whatever their text says.
	var ae *AuthenticationError
	var ve *ValidationError
	var re *RemoteStateError
	var se *SchedulerRejection
	if errors.As(err, &ae) || errors.As(err, &ve) || errors.As(err, &re) || errors.As(err, &se) {
		return false
	}
	return hasTransientSignature(err)
}

// hasTransientSignature matches the connection-level failure text emitted
// by the ssh/sftp stack and the OS.
func hasTransientSignature(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"i/o timeout",
		"connection reset",
		"connection refused",
		"broken pipe",
		"unexpected eof",
		"temporarily unavailable",
		"timeout",
		"no route to host",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// HasAuthSignature matches the error text of a rejected login or a
// server-side teardown of an authenticated connection. The session
// manager uses it to flip itself to expired.
func HasAuthSignature(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range []string{
		"unable to authenticate",
		"permission denied",
		"handshake failed",
		"no supported methods remain",
	} {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}
