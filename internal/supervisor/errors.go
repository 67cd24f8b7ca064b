package supervisor

import (
	"errors"
	"fmt"

	"github.com/benaskins/streamctl/internal/driver"
)

var (
	// ErrAlreadyRunning is returned by Start while a process is starting or running.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrStartCancelled is returned by Start when Stop is called during the
	// dependency install phase.
	ErrStartCancelled = errors.New("start cancelled by stop")
)

// SpawnError reports that the OS could not create the child process.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %s: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// InstallError reports a failed dependency install. Err is set when the
// installer could not be run at all; otherwise Exit describes how it ended.
type InstallError struct {
	Exit driver.Exit
	Err  error
}

func (e *InstallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("installing dependencies: %v", e.Err)
	}
	return fmt.Sprintf("installing dependencies: pip %s", e.Exit)
}

func (e *InstallError) Unwrap() error { return e.Err }

// ExitError describes a child that ended with a non-zero code or a signal.
// It is only ever delivered as an event.
type ExitError struct {
	PID  int
	Exit driver.Exit
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("process %d failed: %s", e.PID, e.Exit)
}
