//go:build windows

package driver

import (
	"os/exec"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: windows.CREATE_NEW_PROCESS_GROUP}
}

// killTree uses taskkill to end the process and its descendants. Console
// control events are unreliable for processes without a console, so there is
// no graceful variant: Terminate and Kill are the same forceful operation.
type killTree struct{}

func platformTerminator() Terminator { return killTree{} }

func (killTree) Name() string { return "taskkill-tree" }

func (killTree) Terminate(pid int) error { return taskkill(pid) }

func (killTree) Kill(pid int) error { return taskkill(pid) }

func taskkill(pid int) error {
	cmd := exec.Command("taskkill", "/pid", strconv.Itoa(pid), "/f", "/t")
	if err := cmd.Start(); err != nil {
		return err
	}
	go cmd.Wait()
	return nil
}
