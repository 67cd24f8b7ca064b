package driver

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const probeTimeout = 10 * time.Second

// minPythonMinor is the oldest Python 3 minor version the backend supports.
const minPythonMinor = 10

var (
	pythonVersionRe = regexp.MustCompile(`Python (\d+\.\d+(?:\.\d+)?)`)
	launcherListRe  = regexp.MustCompile(`(?m)^\s*-V:(\d+\.\d+)\S*`)
)

// Interpreter is a Python installation that can run the backend.
type Interpreter struct {
	Version string `json:"version"`
	Command string `json:"command"`
}

// TestInterpreter runs "<command> --version" and returns the reported
// Python version.
func TestInterpreter(ctx context.Context, command string) (string, error) {
	path, args, err := SplitCommand(command)
	if err != nil {
		return "", err
	}

	out, err := runProbe(ctx, path, append(args, "--version")...)
	if err != nil {
		return "", fmt.Errorf("running %s --version: %w", command, err)
	}
	m := pythonVersionRe.FindStringSubmatch(out)
	if m == nil {
		return "", fmt.Errorf("%s did not report a Python version: %q", command, strings.TrimSpace(out))
	}
	return m[1], nil
}

// DetectInterpreters looks for usable interpreters: versions registered with
// the Windows py launcher, then python3 and python on PATH.
func DetectInterpreters(ctx context.Context) []Interpreter {
	var found []Interpreter

	if out, err := runProbe(ctx, "py", "-0"); err == nil {
		for _, m := range launcherListRe.FindAllStringSubmatch(out, -1) {
			if supported(m[1]) {
				found = append(found, Interpreter{Version: m[1], Command: "py -" + m[1]})
			}
		}
	}

	for _, cmd := range []string{"python3", "python"} {
		version, err := TestInterpreter(ctx, cmd)
		if err != nil || !supported(version) {
			continue
		}
		found = append(found, Interpreter{Version: version, Command: cmd})
	}

	return found
}

func runProbe(ctx context.Context, path string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, args...).CombinedOutput()
	return string(out), err
}

// supported reports whether a "3.x[.y]" version is at least 3.10.
func supported(version string) bool {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) < 2 || parts[0] != "3" {
		return false
	}
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return false
	}
	return minor >= minPythonMinor
}
