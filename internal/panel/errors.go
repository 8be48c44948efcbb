package panel

import "fmt"

// AuthError reports a failed login or an exhausted re-login retry.
// Credential is true when the panel rejected the username/password, false
// when the host could not be reached at all.
type AuthError struct {
	Credential bool
	Err        error
}

func (e *AuthError) Error() string {
	if e.Credential {
		return fmt.Sprintf("authentication rejected: %v", e.Err)
	}
	return fmt.Sprintf("authentication unreachable: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError reports a network-level failure (dial, timeout, stream
// drop). Callers retry or back off; it never carries a panel response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError reports malformed command input recovered locally,
// e.g. an unparseable override target time.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RemoteRejection carries a structured error the panel returned for a
// command. Message is the panel's own text, surfaced verbatim.
type RemoteRejection struct {
	Status  int
	Message string
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("panel rejected command (status %d): %s", e.Status, e.Message)
}
