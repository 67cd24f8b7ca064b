// Package supervisor owns the single streamer backend process.
//
// At most one process is live at a time. Start rejects a second request with
// ErrAlreadyRunning instead of queueing it or restarting. Stop is
// fire-and-forget: it signals the process tree and clears the handle without
// waiting for the child to die. Output, stderr and exit are published on the
// relay as they happen; the exit event is always the last one for a process.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benaskins/streamctl/internal/driver"
	"github.com/benaskins/streamctl/internal/relay"
)

// defaultKillGrace is how long a stopped process gets to exit after the
// terminate signal before it is force-killed.
const defaultKillGrace = 5 * time.Second

// State is the lifecycle state of the supervised process.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting" // installing dependencies
	StateRunning  State = "running"
)

// StopResult is the outcome of Stop.
type StopResult string

const (
	Stopped       StopResult = "stopped"
	NothingToStop StopResult = "nothing-to-stop"
)

// LaunchConfig selects what the backend streams. Values are passed to the
// child verbatim; validating them is the caller's job.
type LaunchConfig struct {
	Platform   string `json:"platform" yaml:"platform"`
	StreamID   string `json:"stream_id" yaml:"stream_id"`
	TTSType    string `json:"tts_type" yaml:"tts_type"`
	AIProvider string `json:"ai_provider" yaml:"ai_provider"`
}

// Args returns the child's argument list in the order the backend parses it.
func (c LaunchConfig) Args() []string {
	return []string{
		"--platform", c.Platform,
		"--stream_id", c.StreamID,
		"--tts_type", c.TTSType,
		"--ai_provider", c.AIProvider,
	}
}

// Settings describe how to launch the backend.
type Settings struct {
	Interpreter  string // e.g. "python3" or "py -3.11"
	Script       string // relative to Root unless absolute
	Root         string // working directory
	InstallDeps  bool
	Requirements string // relative to Root unless absolute
	Env          []string
}

// HandleInfo is the externally-visible view of the process handle.
type HandleInfo struct {
	State     State         `json:"state"`
	PID       int           `json:"pid,omitempty"`
	Launch    *LaunchConfig `json:"launch,omitempty"`
	StartedAt *time.Time    `json:"started_at,omitempty"`
	Uptime    string        `json:"uptime,omitempty"`
}

type handle struct {
	state         State
	launch        LaunchConfig
	proc          *driver.Process
	cancelInstall context.CancelFunc
	stopRequested bool
}

// Supervisor starts, stops and observes the backend process.
type Supervisor struct {
	relay     *relay.Relay
	term      driver.Terminator
	killGrace time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	settings Settings
	handle   *handle
}

// New creates an idle supervisor publishing to r. A nil terminator selects
// the platform default.
func New(r *relay.Relay, settings Settings, term driver.Terminator) *Supervisor {
	if term == nil {
		term = driver.DefaultTerminator()
	}
	return &Supervisor{
		relay:     r,
		term:      term,
		killGrace: defaultKillGrace,
		settings:  settings,
		logger:    slog.With("component", "supervisor"),
	}
}

// SetSettings replaces the launch settings. A running process is unaffected;
// the next Start uses the new values.
func (s *Supervisor) SetSettings(settings Settings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
}

// Settings returns the current launch settings.
func (s *Supervisor) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Start launches the backend with cfg. ctx bounds the dependency install
// only; the process itself lives until it exits or Stop is called.
func (s *Supervisor) Start(ctx context.Context, cfg LaunchConfig) error {
	s.mu.Lock()
	if s.handle != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	h := &handle{state: StateStarting, launch: cfg}
	s.handle = h
	settings := s.settings
	var installCtx context.Context
	if settings.InstallDeps {
		installCtx, h.cancelInstall = context.WithCancel(ctx)
	}
	s.mu.Unlock()

	path, prefix, err := driver.SplitCommand(settings.Interpreter)
	if err != nil {
		if h.cancelInstall != nil {
			h.cancelInstall()
		}
		return s.failStart(h, SourceSpawn, &SpawnError{Command: settings.Interpreter, Err: err})
	}

	if settings.InstallDeps {
		err := s.install(installCtx, settings, path, prefix)
		h.cancelInstall()
		if err != nil {
			if installCtx.Err() != nil && s.released(h) {
				return ErrStartCancelled
			}
			return s.failStart(h, SourceInstall, err)
		}
	}

	args := append(prefix, resolve(settings.Root, settings.Script))
	args = append(args, cfg.Args()...)

	// Hold the lock across spawn so a concurrent Stop sees the process.
	s.mu.Lock()
	if s.handle != h {
		s.mu.Unlock()
		return ErrStartCancelled
	}
	proc, err := driver.Spawn(driver.Config{
		Path: path,
		Args: args,
		Dir:  settings.Root,
		Env:  childEnv(settings.Env),
	}, s.forward)
	if err != nil {
		s.handle = nil
		s.mu.Unlock()
		spawnErr := &SpawnError{Command: settings.Interpreter, Err: err}
		s.logger.Error("spawn failed", "interpreter", settings.Interpreter, "error", err)
		s.relay.Publish(relay.TopicProcessError, ErrorEvent{Source: SourceSpawn, Text: spawnErr.Error()})
		return spawnErr
	}
	h.proc = proc
	h.state = StateRunning
	s.mu.Unlock()

	s.logger.Info("process started", "pid", proc.PID(), "platform", cfg.Platform, "stream_id", cfg.StreamID)
	go s.watch(h)
	return nil
}

// failStart releases a handle that never reached running and reports err.
func (s *Supervisor) failStart(h *handle, source string, err error) error {
	s.released(h)
	s.logger.Error("start failed", "error", err)
	s.relay.Publish(relay.TopicProcessError, ErrorEvent{Source: source, Text: err.Error()})
	return err
}

// released clears h if it is still current and reports whether it had
// already been cleared by Stop.
func (s *Supervisor) released(h *handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == h {
		s.handle = nil
		return false
	}
	return true
}

func (s *Supervisor) forward(stream driver.Stream, chunk []byte) {
	if stream == driver.Stderr {
		s.relay.Publish(relay.TopicProcessError, ErrorEvent{Source: SourceStderr, Text: string(chunk)})
		return
	}
	s.relay.Publish(relay.TopicProcessOutput, OutputEvent{Text: string(chunk)})
}

func (s *Supervisor) watch(h *handle) {
	exit := h.proc.Wait()
	pid := h.proc.PID()

	// Clear before notifying so an exit handler may Start again.
	s.mu.Lock()
	if s.handle == h {
		s.handle = nil
	}
	requested := h.stopRequested
	s.mu.Unlock()

	s.logger.Info("process exited", "pid", pid, "code", exit.Code, "signal", exit.Signal, "stop_requested", requested)

	if exit.Failed() {
		err := &ExitError{PID: pid, Exit: exit}
		s.relay.Publish(relay.TopicProcessError, ErrorEvent{Source: SourceExit, Text: err.Error()})
	}
	s.relay.Publish(relay.TopicProcessExit, ExitEvent{PID: pid, Code: exit.Code, Signal: exit.Signal})
}

// Stop terminates the live process, if any, and clears the handle at once.
// It does not wait for the process to exit; output already in flight may
// still be published.
func (s *Supervisor) Stop() StopResult {
	s.mu.Lock()
	h := s.handle
	if h == nil {
		s.mu.Unlock()
		return NothingToStop
	}
	s.handle = nil
	h.stopRequested = true
	proc := h.proc
	cancelInstall := h.cancelInstall
	s.mu.Unlock()

	if proc == nil {
		if cancelInstall != nil {
			cancelInstall()
		}
		s.logger.Info("start cancelled")
		return Stopped
	}

	pid := proc.PID()
	s.logger.Info("stopping process", "pid", pid, "strategy", s.term.Name())
	if err := s.term.Terminate(pid); err != nil {
		s.logger.Warn("terminate failed", "pid", pid, "error", err)
	}
	go s.escalate(proc)
	return Stopped
}

func (s *Supervisor) escalate(proc *driver.Process) {
	select {
	case <-proc.Done():
	case <-time.After(s.killGrace):
		s.logger.Warn("process ignored terminate, killing", "pid", proc.PID())
		if err := s.term.Kill(proc.PID()); err != nil {
			s.logger.Warn("kill failed", "pid", proc.PID(), "error", err)
		}
	}
}

// Info reports the current handle.
func (s *Supervisor) Info() HandleInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.handle
	if h == nil {
		return HandleInfo{State: StateIdle}
	}
	launch := h.launch
	info := HandleInfo{State: h.state, Launch: &launch}
	if h.proc != nil {
		started := h.proc.StartedAt()
		info.PID = h.proc.PID()
		info.StartedAt = &started
		info.Uptime = time.Since(started).Round(time.Second).String()
	}
	return info
}

// install runs "<interpreter> -m pip install -r <requirements>" in the root,
// publishing its output with a [pip] prefix.
func (s *Supervisor) install(ctx context.Context, settings Settings, path string, prefix []string) error {
	reqs := resolve(settings.Root, settings.Requirements)
	if _, err := os.Stat(reqs); err != nil {
		s.logger.Warn("requirements file not found, skipping install", "path", reqs)
		return nil
	}

	args := append(append([]string{}, prefix...), "-m", "pip", "install", "-r", reqs)
	s.logger.Info("installing dependencies", "requirements", reqs)

	proc, err := driver.Spawn(driver.Config{
		Path: path,
		Args: args,
		Dir:  settings.Root,
		Env:  childEnv(settings.Env),
	}, func(stream driver.Stream, chunk []byte) {
		text := prefixLines("[pip] ", string(chunk))
		if stream == driver.Stderr {
			s.relay.Publish(relay.TopicProcessError, ErrorEvent{Source: SourceInstall, Text: text})
			return
		}
		s.relay.Publish(relay.TopicProcessOutput, OutputEvent{Text: text})
	})
	if err != nil {
		return &InstallError{Err: err}
	}

	select {
	case <-proc.Done():
	case <-ctx.Done():
		if err := s.term.Kill(proc.PID()); err != nil {
			s.logger.Warn("kill installer failed", "pid", proc.PID(), "error", err)
		}
		proc.Wait()
		return &InstallError{Err: ctx.Err()}
	}

	if exit := proc.Wait(); exit.Failed() {
		return &InstallError{Exit: exit}
	}
	return nil
}

func resolve(root, path string) string {
	if path == "" || filepath.IsAbs(path) || root == "" {
		return path
	}
	return filepath.Join(root, path)
}

func childEnv(extra []string) []string {
	env := append(os.Environ(), "PYTHONUNBUFFERED=1", "PYTHONIOENCODING=utf-8")
	return append(env, extra...)
}

func prefixLines(prefix, text string) string {
	trailing := strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	out := strings.Join(lines, "\n")
	if trailing {
		out += "\n"
	}
	return out
}

// String renders a launch config for logs and CLI output.
func (c LaunchConfig) String() string {
	return fmt.Sprintf("platform=%s stream_id=%s tts=%s ai=%s", c.Platform, c.StreamID, c.TTSType, c.AIProvider)
}
