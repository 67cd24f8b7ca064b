package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoPrompt is returned when the persona prompt file does not exist yet.
var ErrNoPrompt = errors.New("no prompt file")

// PromptPath returns where the backend reads its persona prompt.
func (d *Daemon) PromptPath() string {
	cfg := d.Config()
	if filepath.IsAbs(cfg.Prompt) {
		return cfg.Prompt
	}
	return filepath.Join(cfg.Root, cfg.Prompt)
}

// Prompt returns the persona prompt the backend loads at start.
func (d *Daemon) Prompt() (string, error) {
	path := d.PromptPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrNoPrompt, path)
		}
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	return string(data), nil
}

// SavePrompt replaces the persona prompt.
func (d *Daemon) SavePrompt(text string) error {
	path := d.PromptPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating prompt dir: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, []byte(text), 0644); err != nil {
		return fmt.Errorf("writing prompt: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("writing prompt: %w", err)
	}
	d.logger.Info("prompt saved", "path", path, "bytes", len(text))
	return nil
}
