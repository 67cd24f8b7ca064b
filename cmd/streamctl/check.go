package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/benaskins/streamctl/internal/config"
	"github.com/benaskins/streamctl/internal/driver"
	"github.com/benaskins/streamctl/internal/platform"
	"github.com/spf13/cobra"
)

type checkResult struct {
	Check string `json:"check"`
	Valid bool   `json:"valid"`
	Info  string `json:"info,omitempty"`
	Error string `json:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check [config-file]",
	Short: "Validate the daemon config",
	Long:  "Parse config.yaml (default ~/.streamctl/config.yaml), test the interpreter and look for the backend script. Does not need a running daemon.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	path := config.DefaultPath()
	if len(args) > 0 {
		path = args[0]
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("FAIL  %s\n      %w", path, err)
	}

	results := []checkResult{{Check: "config", Valid: true, Info: path}}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if version, err := driver.TestInterpreter(ctx, cfg.Interpreter); err != nil {
		results = append(results, checkResult{Check: "interpreter", Error: err.Error()})
	} else {
		results = append(results, checkResult{Check: "interpreter", Valid: true, Info: cfg.Interpreter + " (Python " + version + ")"})
	}

	root := cfg.Root
	if root == "" {
		root, _ = os.Getwd()
	}
	script := cfg.Script
	if !filepath.IsAbs(script) {
		script = filepath.Join(root, script)
	}
	if _, err := os.Stat(script); err != nil {
		results = append(results, checkResult{Check: "script", Error: err.Error()})
	} else {
		results = append(results, checkResult{Check: "script", Valid: true, Info: script})
	}

	for _, name := range platform.Names {
		p := cfg.YouTube
		if name == platform.Twitch {
			p = cfg.Twitch
		}
		if p.ClientID == "" {
			results = append(results, checkResult{Check: name, Error: "client_id not set; connect will fail"})
		} else {
			results = append(results, checkResult{Check: name, Valid: true, Info: p.RedirectURI})
		}
	}

	if jsonOutput(cmd) {
		return printJSON(results)
	}

	var failed int
	for _, r := range results {
		if r.Valid {
			fmt.Printf("OK    %-12s %s\n", r.Check, r.Info)
		} else {
			failed++
			fmt.Fprintf(os.Stderr, "FAIL  %-12s %s\n", r.Check, r.Error)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d check(s) failed", failed)
	}
	return nil
}
