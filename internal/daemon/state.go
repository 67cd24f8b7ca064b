package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/benaskins/streamctl/internal/supervisor"
)

// State is what the daemon remembers across restarts. LastLaunch is reused
// by a start request that carries no launch config; Launches keeps the most
// recent launch config per platform.
type State struct {
	LastLaunch *supervisor.LaunchConfig           `json:"last_launch,omitempty"`
	Launches   map[string]supervisor.LaunchConfig `json:"launches,omitempty"`
	LastExit   *supervisor.ExitEvent              `json:"last_exit,omitempty"`
}

// stateFile persists State as JSON.
type stateFile struct {
	path string
	mu   sync.Mutex
}

func newStateFile(dir string) *stateFile {
	return &stateFile{
		path: filepath.Join(dir, "state.json"),
	}
}

func (sf *stateFile) load() (State, error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	return sf.loadUnsafe()
}

// update applies fn to the stored state and writes the result.
func (sf *stateFile) update(fn func(*State)) error {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	st, err := sf.loadUnsafe()
	if err != nil {
		// A corrupt state file is replaced rather than blocking starts.
		st = State{}
	}
	fn(&st)
	return sf.saveUnsafe(st)
}

// loadUnsafe reads without locking; caller must hold sf.mu.
func (sf *stateFile) loadUnsafe() (State, error) {
	var st State
	data, err := os.ReadFile(sf.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		return st, fmt.Errorf("reading state file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("parsing state file: %w", err)
	}
	return st, nil
}

func (sf *stateFile) saveUnsafe(st State) error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	tmpPath := sf.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, sf.path)
}
