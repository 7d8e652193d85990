package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vikashloomba/mcps-go/pkg/config"
	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// Backoff between readiness probes after a spawn.
const (
	probeTimeout     = time.Second
	initialPollDelay = 100 * time.Millisecond
	maxPollDelay     = time.Second
	pollMultiplier   = 1.5
)

// LauncherOptions configures a Launcher.
type LauncherOptions struct {
	// StartTimeout bounds how long a freshly spawned daemon may take to
	// answer /health. Defaults to config.DefaultStartTimeout.
	StartTimeout time.Duration
	// Args are passed to the current executable to run the daemon in the
	// foreground. Defaults to "daemon run".
	Args []string
	// Spawn starts the daemon. Defaults to SpawnSelf(Args...).
	Spawn func() error
	Logger *slog.Logger
}

// Launcher makes sure a daemon answers on the control address, spawning one
// when nothing listens there.
type Launcher struct {
	client *Client
	opts   LauncherOptions
}

// NewLauncher returns a Launcher probing through client.
func NewLauncher(client *Client, opts *LauncherOptions) *Launcher {
	var o LauncherOptions
	if opts != nil {
		o = *opts
	}
	if o.StartTimeout <= 0 {
		o.StartTimeout = config.DefaultStartTimeout
	}
	if len(o.Args) == 0 {
		o.Args = []string{"daemon", "run"}
	}
	if o.Spawn == nil {
		args := o.Args
		o.Spawn = func() error { return SpawnSelf(args...) }
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Launcher{client: client, opts: o}
}

// Client returns the control API client the launcher probes with.
func (l *Launcher) Client() *Client { return l.client }

// EnsureReachable returns nil once a daemon answers /health. Every failure is
// a daemon_unavailable *mcpmgr.Error.
func (l *Launcher) EnsureReachable(ctx context.Context) error {
	err := l.probe(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotRunning) {
		return unavailable(err)
	}

	l.opts.Logger.Debug("starting daemon", "addr", l.client.BaseURL(), "args", l.opts.Args)
	if err := l.opts.Spawn(); err != nil {
		return unavailable(fmt.Errorf("start daemon: %w", err))
	}
	return l.waitReady(ctx)
}

func (l *Launcher) waitReady(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.opts.StartTimeout)
	defer cancel()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialPollDelay
	bo.Multiplier = pollMultiplier
	bo.MaxInterval = maxPollDelay
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = l.opts.StartTimeout

	err := backoff.Retry(func() error {
		return l.probe(ctx)
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return unavailable(fmt.Errorf("daemon did not become ready within %s: %w", l.opts.StartTimeout, err))
	}
	l.opts.Logger.Debug("daemon ready", "addr", l.client.BaseURL())
	return nil
}

func (l *Launcher) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := l.client.Health(ctx)
	return err
}

func unavailable(err error) error {
	var merr *mcpmgr.Error
	if errors.As(err, &merr) && merr.Kind == mcpmgr.KindDaemonUnavailable {
		return err
	}
	return &mcpmgr.Error{Kind: mcpmgr.KindDaemonUnavailable, Err: err}
}

// SpawnSelf starts the current executable with args, detached from the
// calling terminal, and does not wait for it.
func SpawnSelf(args ...string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(exe, args...)
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return err
	}
	return cmd.Process.Release()
}
