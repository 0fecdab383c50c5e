package runtime

import "context"

// Log source identifiers attached to streamed log entries.
const (
	LogSourceStdout = "stdout"
	LogSourceStderr = "stderr"
	LogSourceSystem = "system"
)

// LogEntry is a single line captured from a supervised process.
type LogEntry struct {
	Message string
	Source  string
	Level   string
}

// StartSpec describes one process to launch.
type StartSpec struct {
	// Name identifies the process in errors and log entries.
	Name string
	// Command is the program and its arguments. The spawn layer decides
	// internally whether shell interpretation is needed; callers never
	// branch on platform.
	Command []string
	// Shell requests interpretation of the command by the platform shell.
	Shell bool
	// Workdir is the working directory for the process.
	Workdir string
	// Env holds additional environment variables layered over the host
	// environment.
	Env map[string]string
}

// Instance represents a single running process managed by a runtime adapter.
type Instance interface {
	// PID returns the operating-system process identifier.
	PID() int

	// Wait blocks until the process exits by any means and returns its
	// exit code, or an error if the context is cancelled first. It is safe
	// to call multiple times.
	Wait(ctx context.Context) (int, error)

	// Stop requests graceful termination, escalating to a forceful kill
	// after a grace period. Implementations are idempotent.
	Stop(ctx context.Context) error

	// Kill forcefully terminates the process and, where the platform
	// allows, its entire process tree.
	Kill(ctx context.Context) error

	// Logs returns a channel of log lines associated with the instance.
	// The channel is closed once the process has stopped.
	Logs() <-chan LogEntry
}

// Runtime describes a backend capable of launching processes.
type Runtime interface {
	// Start launches the described process and returns a handle to the
	// running instance. Failures to create the process surface as errors.
	Start(ctx context.Context, spec StartSpec) (Instance, error)
}
