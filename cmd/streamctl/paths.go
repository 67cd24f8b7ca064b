package main

import (
	"os"
	"path/filepath"
)

// streamctlHome returns the path to the streamctl home directory (~/.streamctl).
func streamctlHome() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".streamctl"), nil
}

func defaultSocketPath() string {
	dir, err := streamctlHome()
	if err != nil {
		return filepath.Join(os.TempDir(), "streamctl.sock")
	}
	return filepath.Join(dir, "streamctl.sock")
}
