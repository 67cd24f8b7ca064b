package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/benaskins/streamctl/internal/api"
	"github.com/benaskins/streamctl/internal/config"
	"github.com/benaskins/streamctl/internal/daemon"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the streamctl daemon",
	Long:  "Start the daemon: backend supervisor, OAuth broker, redirect listener and API.",
	RunE:  runDaemon,
}

var apiAddr string

func init() {
	daemonCmd.Flags().StringVar(&apiAddr, "api-addr", "", "Optional TCP address for API (e.g. 127.0.0.1:9090)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	home, err := streamctlHome()
	if err != nil {
		return fmt.Errorf("finding home dir: %w", err)
	}

	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	store, closeStore, err := daemon.OpenStore(home, "daemon")
	if err != nil {
		return err
	}
	defer closeStore()

	slog.Info("streamctl daemon starting", "config", configPath, "interpreter", cfg.Interpreter)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	d := daemon.NewDaemon(cfg, configPath, daemon.WithStore(store))
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	go func() {
		if err := d.StartWatcher(ctx); err != nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	socketPath := defaultSocketPath()
	// Remove stale socket
	os.Remove(socketPath)
	if err := os.MkdirAll(filepath.Dir(socketPath), 0700); err != nil {
		return fmt.Errorf("creating socket dir: %w", err)
	}

	srv := api.NewServer(d, ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenUnix(socketPath)
	}()

	tcpAddr := apiAddr
	if tcpAddr == "" {
		tcpAddr = cfg.APIAddr
	}
	if tcpAddr != "" {
		go func() {
			if err := srv.ListenTCP(tcpAddr); err != nil {
				slog.Error("TCP API error", "error", err)
			}
		}()
	}

	slog.Info("streamctl daemon ready", "socket", socketPath, "redirect_addr", d.RedirectAddr())

	select {
	case sig := <-sigCh:
		slog.Info("received signal, shutting down", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("API server error", "error", err)
		}
	}

	cancel()
	d.Stop(10 * time.Second)
	srv.Shutdown(context.Background())
	os.Remove(socketPath)

	slog.Info("streamctl daemon stopped")
	return nil
}
