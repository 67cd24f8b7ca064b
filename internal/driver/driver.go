// Package driver spawns and terminates the streamer backend process.
//
// A Process streams every chunk read from the child's stdout and stderr to
// an OutputFunc as soon as it arrives, and reports a single Exit once the
// child has terminated and both streams are drained.
package driver

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
)

// Stream identifies one of the child's output streams.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// pipeDrainDelay bounds how long Wait keeps reading after the child exits,
// in case a grandchild inherited the pipes and is still holding them open.
const pipeDrainDelay = 2 * time.Second

// OutputFunc receives output chunks. It is called from one goroutine per
// stream, so calls for the same stream are sequential but stdout and stderr
// may be delivered concurrently. The slice is owned by the callee.
type OutputFunc func(stream Stream, chunk []byte)

// Config describes a process to spawn.
type Config struct {
	Path string
	Args []string
	Dir  string
	// Env, when non-nil, replaces the inherited environment.
	Env []string
}

// Exit describes how a process terminated.
type Exit struct {
	Code   int    `json:"code"`             // -1 when terminated by a signal
	Signal string `json:"signal,omitempty"` // e.g. "terminated"
}

// Failed reports whether the exit is error-class: a non-zero code or a signal.
func (e Exit) Failed() bool {
	return e.Code != 0 || e.Signal != ""
}

func (e Exit) String() string {
	if e.Signal != "" {
		return fmt.Sprintf("exit code %d (signal: %s)", e.Code, e.Signal)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// SplitCommand splits an interpreter command line such as "py -3.11" into the
// executable and its leading arguments, honouring shell quoting so paths with
// spaces can be configured as "\"C:\\Program Files\\Python311\\python.exe\"".
func SplitCommand(command string) (string, []string, error) {
	parts, err := shellquote.Split(command)
	if err != nil {
		return "", nil, fmt.Errorf("parsing command %q: %w", command, err)
	}
	if len(parts) == 0 {
		return "", nil, errors.New("empty command")
	}
	return parts[0], parts[1:], nil
}

// Process is a running child.
type Process struct {
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	exit      Exit
}

// Spawn starts the process described by cfg. It returns once the OS has
// created the child; output and exit are reported asynchronously. A non-nil
// error means no process was created.
func Spawn(cfg Config, out OutputFunc) (*Process, error) {
	cmd := exec.Command(cfg.Path, cfg.Args...)
	cmd.Dir = cfg.Dir
	if cfg.Env != nil {
		cmd.Env = cfg.Env
	}
	cmd.Stdout = streamWriter{stream: Stdout, out: out}
	cmd.Stderr = streamWriter{stream: Stderr, out: out}
	cmd.SysProcAttr = sysProcAttr()
	cmd.WaitDelay = pipeDrainDelay

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go p.wait()
	return p, nil
}

func (p *Process) wait() {
	// Wait returns only after the stdout/stderr copy goroutines finish, so
	// every chunk has been handed to the OutputFunc before done closes.
	// The exit status is read from ProcessState; Wait's error restates it.
	_ = p.cmd.Wait()
	p.exit = exitFrom(p.cmd.ProcessState)
	close(p.done)
}

func exitFrom(state *os.ProcessState) Exit {
	if state == nil {
		return Exit{Code: -1}
	}
	exit := Exit{Code: state.ExitCode()}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		exit.Code = -1
		exit.Signal = ws.Signal().String()
	}
	return exit
}

// PID returns the OS process id.
func (p *Process) PID() int { return p.pid }

// StartedAt returns when the process was spawned.
func (p *Process) StartedAt() time.Time { return p.startedAt }

// Done is closed once the process has exited and its output is drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits and returns how it terminated.
func (p *Process) Wait() Exit {
	<-p.done
	return p.exit
}

type streamWriter struct {
	stream Stream
	out    OutputFunc
}

func (w streamWriter) Write(b []byte) (int, error) {
	if w.out != nil && len(b) > 0 {
		chunk := make([]byte, len(b))
		copy(chunk, b)
		w.out(w.stream, chunk)
	}
	return len(b), nil
}

var _ io.Writer = streamWriter{}
