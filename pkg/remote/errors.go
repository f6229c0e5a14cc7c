package remote

import "errors"

// Error represents a failure at the execution boundary.
type Error struct {
	// Op is the operation that failed (e.g., "connect", "execute", "push").
	Op string

	// Host is the host the operation targeted.
	Host string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the failure may succeed on retry
	// (connection drop, timeout).
	IsTemporary bool

	// IsAuthError indicates the failure is an authentication rejection.
	IsAuthError bool

	// IsNotFound indicates a referenced remote path does not exist.
	IsNotFound bool

	// ExitCode is the remote command's exit status when the command ran
	// but failed; zero otherwise.
	ExitCode int

	// Stderr is the captured standard error of a failed command.
	Stderr string
}

func (e *Error) Error() string {
	if e.Host != "" {
		return e.Op + " " + e.Host + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Temporary() bool {
	return e.IsTemporary
}

// IsTemporary reports whether err is a retryable remote failure.
func IsTemporary(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.IsTemporary
	}
	return false
}

// IsNotFound reports whether err indicates a missing remote path.
func IsNotFound(err error) bool {
	var re *Error
	if errors.As(err, &re) {
		return re.IsNotFound
	}
	return false
}

// ExitCode returns the remote exit status carried by err, or -1 when the
// command never ran.
func ExitCode(err error) int {
	var re *Error
	if errors.As(err, &re) {
		return re.ExitCode
	}
	return -1
}
