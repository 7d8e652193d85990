package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcps-go/pkg/broker"
	"github.com/vikashloomba/mcps-go/pkg/config"
	"github.com/vikashloomba/mcps-go/pkg/daemon"
	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

const logFileFlag = "log-file"

func newStartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if health, err := a.client().Health(cmd.Context()); err == nil {
				fmt.Fprintln(a.out, mutedStyle.Render(fmt.Sprintf("Daemon already running (pid %d) on %s.", health.PID, a.settings.DaemonAddr())))
				return nil
			}
			if err := a.launcher().EnsureReachable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Daemon started on %s.", a.settings.DaemonAddr())))
			fmt.Fprintln(a.out, mutedStyle.Render("Logs: "+a.settings.LogPath()))
			return nil
		},
	}
}

func newStopCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the daemon and close its connections",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			stopped, err := a.stopDaemon(cmd.Context())
			if err != nil {
				return err
			}
			if !stopped {
				fmt.Fprintln(a.out, mutedStyle.Render("Daemon is not running."))
				return nil
			}
			fmt.Fprintln(a.out, successStyle.Render("Daemon stopped."))
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the daemon and its pooled connections",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			status, err := a.client().Status(cmd.Context())
			if errors.Is(err, daemon.ErrNotRunning) {
				return &mcpmgr.Error{Kind: mcpmgr.KindDaemonUnavailable, Err: err}
			}
			if err != nil {
				return err
			}
			renderStatus(a.out, status)
			return nil
		},
	}
}

func newRestartCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restart",
		Short: "Restart the daemon process",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := a.stopDaemon(cmd.Context()); err != nil {
				return err
			}
			if err := a.launcher().EnsureReachable(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Daemon restarted on %s.", a.settings.DaemonAddr())))
			return nil
		},
	}
}

// stopDaemon asks a running daemon to exit and waits until its port stops
// answering. It reports false when no daemon was running.
func (a *app) stopDaemon(ctx context.Context) (bool, error) {
	client := a.client()
	if _, err := client.Shutdown(ctx); err != nil {
		if errors.Is(err, daemon.ErrNotRunning) {
			return false, nil
		}
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.settings.StartTimeout)
	defer cancel()
	for {
		if _, err := client.Health(ctx); errors.Is(err, daemon.ErrNotRunning) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return true, &mcpmgr.Error{Kind: mcpmgr.KindDaemonUnavailable, Err: fmt.Errorf("daemon still answering after shutdown: %w", ctx.Err())}
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func newDaemonCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:    "daemon",
		Short:  "Daemon internals",
		Hidden: true,
	}
	var logFile string
	run := &cobra.Command{
		Use:   "run",
		Short: "Run the broker daemon in the foreground",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDaemon(cmd.Context(), logFile)
		},
	}
	run.Flags().StringVar(&logFile, logFileFlag, "", "append logs to this file instead of stderr")
	cmd.AddCommand(run)
	return cmd
}

// runDaemon owns the pool for the life of the process and serves the control
// API until a signal or /shutdown arrives.
func (a *app) runDaemon(ctx context.Context, logFile string) error {
	w := a.errOut
	if logFile != "" {
		if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		w = f
	}
	level, err := config.ParseLogLevel(a.settings.LogLevel)
	if err != nil {
		return &usageError{err: err}
	}
	logger := config.NewLogger(w, level).With("pid", os.Getpid())

	store, err := config.Open(a.settings.ConfigDir, logger)
	if err != nil {
		return err
	}
	pool := mcpmgr.NewPool(store, a.newDialer(logger), &mcpmgr.PoolOptions{Logger: logger})
	svc, err := broker.NewService(pool, &broker.Options{
		Addr:     a.settings.DaemonAddr(),
		Version:  version,
		Verbose:  a.settings.Verbose,
		Reloader: store,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger.Info("daemon starting", "addr", a.settings.DaemonAddr(), "config", store.Path())
	if err := svc.ListenAndServe(ctx); err != nil {
		logger.Error("daemon failed", "error", err)
		return err
	}
	logger.Info("daemon stopped")
	return nil
}
