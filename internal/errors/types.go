package errors

import "errors"

// Sentinel categories for everything that can go wrong while operating a
// build container. Wrapped errors are matched against these with errors.Is.
var (
	// ErrCommandFailed marks a privileged or in-chroot command that returned
	// a non-zero exit status. Never retried.
	ErrCommandFailed = errors.New("external command failed")

	// ErrLockContention marks a second session targeting the same
	// architecture and working tree while the lock is held.
	ErrLockContention = errors.New("another build session holds the lock")

	// ErrStorage marks image or mount-point state that could not be
	// (re)created.
	ErrStorage = errors.New("image storage operation failed")

	// ErrProvisionFailed marks a failed container build. The half-built
	// image has already been quarantined when this surfaces.
	ErrProvisionFailed = errors.New("container provisioning failed")

	ErrConfigInvalid = errors.New("configuration invalid")
	ErrNetworkFailed = errors.New("network operation failed")
)

// SessionError is the typed error carried through the whole caller chain.
// ExitCode is the status the process should exit with; for command failures
// it is the child's own exit status.
type SessionError struct {
	Type        error
	Context     string
	Cause       string
	Suggestion  string
	ExitCode    int
	OriginalErr error
}

func (e *SessionError) Error() string {
	if e.OriginalErr != nil {
		return e.OriginalErr.Error()
	}
	return e.Context
}

func (e *SessionError) Unwrap() error {
	return e.OriginalErr
}

// Is lets errors.Is match a SessionError against its sentinel category.
func (e *SessionError) Is(target error) bool {
	return target == e.Type
}

func New(errorType error, context, cause, suggestion string, originalErr error) *SessionError {
	return &SessionError{
		Type:        errorType,
		Context:     context,
		Cause:       cause,
		Suggestion:  suggestion,
		ExitCode:    1,
		OriginalErr: originalErr,
	}
}

// NewCommandError reports a failed external command together with the exit
// status of the child process.
func NewCommandError(context string, exitCode int, originalErr error) *SessionError {
	e := New(ErrCommandFailed, context, "", "", originalErr)
	if exitCode > 0 {
		e.ExitCode = exitCode
	}
	return e
}

func NewLockError(context, cause string, originalErr error) *SessionError {
	return New(ErrLockContention, context, cause,
		"Wait for the other session to finish or run it from a different directory", originalErr)
}

func NewStorageError(context, cause string, originalErr error) *SessionError {
	return New(ErrStorage, context, cause,
		"Remove the stale image or mount point by hand and retry", originalErr)
}

func NewProvisionError(context, cause string, originalErr error) *SessionError {
	return New(ErrProvisionFailed, context, cause,
		"The broken image was renamed with a .failed suffix; the next run rebuilds from scratch", originalErr)
}

func NewConfigError(context, cause, suggestion string, originalErr error) *SessionError {
	return New(ErrConfigInvalid, context, cause, suggestion, originalErr)
}

func NewNetworkError(context, cause string, originalErr error) *SessionError {
	return New(ErrNetworkFailed, context, cause,
		"Check connectivity and the configured base-image URL", originalErr)
}

// ExitCode extracts the process exit status an error asks for. Plain errors
// map to 1, nil to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *SessionError
	if errors.As(err, &se) && se.ExitCode > 0 {
		return se.ExitCode
	}
	return 1
}
