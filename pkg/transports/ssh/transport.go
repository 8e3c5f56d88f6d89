// Package ssh runs image builds on a remote docker host over SSH. The
// Client implements the builder Executor interface, so a build plan runs
// against a remote daemon exactly as it would locally; rendered build
// contexts travel over SFTP first.
package ssh

import "time"

// ConnectionInfo describes an established connection for logs and
// diagnostics.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// TransportError is an error from the SSH layer. IsTemporary marks
// connectivity problems worth retrying; authentication and configuration
// problems are terminal.
type TransportError struct {
	// Op is the operation that failed, e.g. "connect", "exec", "upload".
	Op string

	Err error

	// IsTemporary indicates the operation may succeed on retry.
	IsTemporary bool

	// IsAuthError indicates the failure is an authentication rejection.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether the error is transient. Retry classification
// checks for this method.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
