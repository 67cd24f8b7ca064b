//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/benaskins/streamctl/internal/relay"
)

type recorder struct {
	mu     sync.Mutex
	events []relay.Event
	exits  chan ExitEvent
}

func record(r *relay.Relay) *recorder {
	rec := &recorder{exits: make(chan ExitEvent, 16)}
	r.SubscribeAll(func(ev relay.Event) {
		rec.mu.Lock()
		rec.events = append(rec.events, ev)
		rec.mu.Unlock()
		if exit, ok := ev.Payload.(ExitEvent); ok {
			rec.exits <- exit
		}
	})
	return rec
}

func (rec *recorder) waitExit(t *testing.T) ExitEvent {
	t.Helper()
	select {
	case exit := <-rec.exits:
		return exit
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for exit event")
		return ExitEvent{}
	}
}

func (rec *recorder) snapshot() []relay.Event {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return append([]relay.Event(nil), rec.events...)
}

func (rec *recorder) count(topic string) int {
	n := 0
	for _, ev := range rec.snapshot() {
		if ev.Topic == topic {
			n++
		}
	}
	return n
}

func (rec *recorder) output() string {
	var b strings.Builder
	for _, ev := range rec.snapshot() {
		if out, ok := ev.Payload.(OutputEvent); ok {
			b.WriteString(out.Text)
		}
	}
	return b.String()
}

// writeScript places a shell script in a temp root and returns settings that
// run it with /bin/sh in place of the Python interpreter.
func writeScript(t *testing.T, body string) Settings {
	t.Helper()
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "run.sh"), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return Settings{Interpreter: "/bin/sh", Script: "run.sh", Root: root}
}

var testLaunch = LaunchConfig{Platform: "youtube", StreamID: "abc123", TTSType: "edge", AIProvider: "openai"}

func TestStartPassesArgumentsInOrder(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, writeScript(t, `echo "$@"; pwd; echo "$PYTHONUNBUFFERED"`), nil)

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitExit(t)

	out := rec.output()
	want := "--platform youtube --stream_id abc123 --tts_type edge --ai_provider openai"
	if !strings.Contains(out, want) {
		t.Errorf("expected args %q in output, got %q", want, out)
	}
	if !strings.Contains(out, "\n1\n") {
		t.Errorf("expected PYTHONUNBUFFERED=1 in child env, got %q", out)
	}
}

func TestStartEmptyFieldsPassThrough(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, writeScript(t, `echo "$#:$4"`), nil)

	if err := s.Start(context.Background(), LaunchConfig{Platform: "twitch"}); err != nil {
		t.Fatalf("start with empty stream id should not be rejected: %v", err)
	}
	rec.waitExit(t)

	if !strings.Contains(rec.output(), "8:") {
		t.Errorf("expected 8 args with empty stream id, got %q", rec.output())
	}
}

func TestConcurrentStartsOnlyOneWins(t *testing.T) {
	r := relay.New()
	s := New(r, writeScript(t, "sleep 30"), nil)
	defer s.Stop()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.Start(context.Background(), testLaunch)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, rejected int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrAlreadyRunning):
			rejected++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if ok != 1 || rejected != n-1 {
		t.Errorf("expected 1 success and %d rejections, got %d and %d", n-1, ok, rejected)
	}
	if info := s.Info(); info.State != StateRunning || info.PID == 0 {
		t.Errorf("expected running handle, got %+v", info)
	}
}

func TestStopIdle(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, Settings{Interpreter: "python3"}, nil)

	if got := s.Stop(); got != NothingToStop {
		t.Errorf("expected %q, got %q", NothingToStop, got)
	}
	if len(rec.snapshot()) != 0 {
		t.Errorf("stop on idle supervisor published events: %v", rec.snapshot())
	}
}

func TestStopPublishesErrorThenExit(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, writeScript(t, "sleep 30"), nil)

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := s.Stop(); got != Stopped {
		t.Fatalf("expected %q, got %q", Stopped, got)
	}
	if info := s.Info(); info.State != StateIdle {
		t.Errorf("handle not cleared immediately: %+v", info)
	}

	exit := rec.waitExit(t)
	if exit.Signal == "" && exit.Code == 0 {
		t.Errorf("expected terminated exit, got %+v", exit)
	}
	if n := rec.count(relay.TopicProcessError); n != 1 {
		t.Errorf("expected exactly one error event for the signal exit, got %d", n)
	}
	events := rec.snapshot()
	if events[len(events)-1].Topic != relay.TopicProcessExit {
		t.Errorf("exit must be the last event, got %s", events[len(events)-1].Topic)
	}
	if got := s.Stop(); got != NothingToStop {
		t.Errorf("second stop: expected %q, got %q", NothingToStop, got)
	}
}

func TestStopKillsAfterGrace(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, writeScript(t, "trap '' TERM; echo ready; sleep 30"), nil)
	s.killGrace = 100 * time.Millisecond

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(rec.output(), "ready") {
		if time.Now().After(deadline) {
			t.Fatal("script never became ready")
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	s.Stop()
	exit := rec.waitExit(t)

	if exit.Signal != "killed" {
		t.Errorf("expected process to be killed, got %+v", exit)
	}
	if elapsed := time.Since(start); elapsed < s.killGrace {
		t.Errorf("killed after %v, before the %v grace period", elapsed, s.killGrace)
	}
}

func TestCleanExitHasNoErrorEvent(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, writeScript(t, "echo done"), nil)

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	exit := rec.waitExit(t)

	if exit.Code != 0 {
		t.Errorf("expected code 0, got %d", exit.Code)
	}
	if n := rec.count(relay.TopicProcessError); n != 0 {
		t.Errorf("expected no error events, got %d", n)
	}
	events := rec.snapshot()
	if events[len(events)-1].Topic != relay.TopicProcessExit {
		t.Errorf("exit must be the last event, got %s", events[len(events)-1].Topic)
	}
}

func TestNonZeroExitEmitsOneErrorThenExit(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, writeScript(t, "echo working; exit 3"), nil)

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	exit := rec.waitExit(t)
	if exit.Code != 3 {
		t.Errorf("expected code 3, got %d", exit.Code)
	}

	events := rec.snapshot()
	if n := rec.count(relay.TopicProcessError); n != 1 {
		t.Fatalf("expected exactly one error event, got %d", n)
	}
	if n := rec.count(relay.TopicProcessExit); n != 1 {
		t.Fatalf("expected exactly one exit event, got %d", n)
	}
	last := events[len(events)-1]
	if last.Topic != relay.TopicProcessExit {
		t.Errorf("exit must be last, got %s", last.Topic)
	}
	prev := events[len(events)-2].Payload.(ErrorEvent)
	if prev.Source != SourceExit {
		t.Errorf("expected exit-sourced error before exit, got %+v", prev)
	}
}

func TestStderrChunksArePublishedAsErrors(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, writeScript(t, "echo warn >&2"), nil)

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitExit(t)

	var found bool
	for _, ev := range rec.snapshot() {
		if e, ok := ev.Payload.(ErrorEvent); ok && e.Source == SourceStderr && strings.Contains(e.Text, "warn") {
			found = true
		}
	}
	if !found {
		t.Error("expected stderr chunk as error event")
	}
}

func TestSpawnFailure(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, Settings{Interpreter: "/nonexistent/python3", Script: "run.py", Root: t.TempDir()}, nil)

	err := s.Start(context.Background(), testLaunch)
	var spawnErr *SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("expected SpawnError, got %v", err)
	}
	if n := rec.count(relay.TopicProcessError); n != 1 {
		t.Errorf("expected one error event, got %d", n)
	}
	if info := s.Info(); info.State != StateIdle {
		t.Errorf("handle should be cleared after spawn failure: %+v", info)
	}

	// The failed attempt leaves the supervisor usable.
	s.SetSettings(writeScript(t, "true"))
	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start after spawn failure: %v", err)
	}
	rec.waitExit(t)
}

func TestStartFromExitHandler(t *testing.T) {
	r := relay.New()
	s := New(r, writeScript(t, "true"), nil)

	restarted := make(chan error, 1)
	var once sync.Once
	r.Subscribe(relay.TopicProcessExit, func(relay.Event) {
		once.Do(func() {
			restarted <- s.Start(context.Background(), testLaunch)
		})
	})

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	select {
	case err := <-restarted:
		if err != nil {
			t.Errorf("start from exit handler rejected: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("exit handler never ran")
	}
}

func TestInfoReportsLaunch(t *testing.T) {
	r := relay.New()
	s := New(r, writeScript(t, "sleep 30"), nil)
	defer s.Stop()

	if info := s.Info(); info.State != StateIdle || info.Launch != nil {
		t.Errorf("expected idle info, got %+v", info)
	}
	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	info := s.Info()
	if info.Launch == nil || *info.Launch != testLaunch {
		t.Errorf("expected launch %+v, got %+v", testLaunch, info.Launch)
	}
	if info.StartedAt == nil {
		t.Error("expected start time")
	}
}

// fakeInterpreter writes an executable that answers "-m pip ..." with the
// given shell snippet and otherwise echoes its arguments.
func fakeInterpreter(t *testing.T, pip string) Settings {
	t.Helper()
	root := t.TempDir()
	interp := filepath.Join(root, "python")
	script := "#!/bin/sh\nif [ \"$1\" = \"-m\" ]; then\n" + pip + "\nfi\necho \"ran $1\"\n"
	if err := os.WriteFile(interp, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "requirements.txt"), []byte("requests\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return Settings{
		Interpreter:  interp,
		Script:       "run.py",
		Root:         root,
		InstallDeps:  true,
		Requirements: "requirements.txt",
	}
}

func TestInstallOutputIsPrefixed(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, fakeInterpreter(t, "echo collecting; echo installed; exit 0"), nil)

	if err := s.Start(context.Background(), testLaunch); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec.waitExit(t)

	out := rec.output()
	if !strings.Contains(out, "[pip] collecting") || !strings.Contains(out, "[pip] installed") {
		t.Errorf("expected [pip] prefixed install output, got %q", out)
	}
	if !strings.Contains(out, "ran ") {
		t.Errorf("expected the backend to run after install, got %q", out)
	}
}

func TestInstallFailureFailsStart(t *testing.T) {
	r := relay.New()
	rec := record(r)
	s := New(r, fakeInterpreter(t, "echo 'no matching distribution' >&2; exit 1"), nil)

	err := s.Start(context.Background(), testLaunch)
	var installErr *InstallError
	if !errors.As(err, &installErr) {
		t.Fatalf("expected InstallError, got %v", err)
	}
	if installErr.Exit.Code != 1 {
		t.Errorf("expected pip exit code 1, got %d", installErr.Exit.Code)
	}
	if info := s.Info(); info.State != StateIdle {
		t.Errorf("handle should be cleared after install failure: %+v", info)
	}
	if n := rec.count(relay.TopicProcessExit); n != 0 {
		t.Errorf("no backend ran, expected no exit events, got %d", n)
	}
}

func TestStartDuringInstallIsRejected(t *testing.T) {
	r := relay.New()
	s := New(r, fakeInterpreter(t, "sleep 30"), nil)

	started := make(chan error, 1)
	go func() { started <- s.Start(context.Background(), testLaunch) }()

	deadline := time.Now().Add(5 * time.Second)
	for s.Info().State != StateStarting {
		if time.Now().After(deadline) {
			t.Fatal("supervisor never entered starting state")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := s.Start(context.Background(), testLaunch); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning during install, got %v", err)
	}

	if got := s.Stop(); got != Stopped {
		t.Errorf("expected stop during install to report %q, got %q", Stopped, got)
	}
	select {
	case err := <-started:
		if !errors.Is(err, ErrStartCancelled) {
			t.Errorf("expected ErrStartCancelled, got %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("start did not return after stop")
	}
}

func TestPrefixLines(t *testing.T) {
	got := prefixLines("[pip] ", "a\nb\n")
	if got != "[pip] a\n[pip] b\n" {
		t.Errorf("got %q", got)
	}
	if got := prefixLines("[pip] ", "partial"); got != "[pip] partial" {
		t.Errorf("got %q", got)
	}
}
