//go:build !windows

package driver

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// Children get their own process group so the whole tree can be signalled.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// groupSignal signals the child's process group.
type groupSignal struct{}

func platformTerminator() Terminator { return groupSignal{} }

func (groupSignal) Name() string { return "process-group-signal" }

func (groupSignal) Terminate(pid int) error {
	return signalGroup(pid, unix.SIGTERM)
}

func (groupSignal) Kill(pid int) error {
	return signalGroup(pid, unix.SIGKILL)
}

func signalGroup(pid int, sig unix.Signal) error {
	err := unix.Kill(-pid, sig)
	if errors.Is(err, unix.ESRCH) {
		// Already gone.
		return nil
	}
	return err
}
