package supervisor

import (
	"errors"
	"fmt"
)

// ErrSessionActive indicates that the workdir lock is already held by
// another running session.
var ErrSessionActive = errors.New("another duet session is active for this workdir")

// LaunchError reports that a process could not be started. It is fatal: the
// session is torn down and the error propagates to the caller.
type LaunchError struct {
	Name string
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Name, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TerminationError reports that a termination request failed during
// shutdown. It is non-fatal: shutdown reports it through the event stream
// and continues with the remaining processes.
type TerminationError struct {
	Name string
	Err  error
}

func (e *TerminationError) Error() string {
	return fmt.Sprintf("terminate %s: %v", e.Name, e.Err)
}

func (e *TerminationError) Unwrap() error { return e.Err }
