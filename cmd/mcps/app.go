package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vikashloomba/mcps-go/pkg/config"
	"github.com/vikashloomba/mcps-go/pkg/daemon"
	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// app carries what every command needs once flags are parsed.
type app struct {
	v        *viper.Viper
	out      io.Writer
	errOut   io.Writer
	settings config.Settings
	logger   *slog.Logger
	store    *config.Store

	// dialer and spawn replace the real downstream dialer and the detached
	// daemon launch when set.
	dialer mcpmgr.Dialer
	spawn  func() error
}

func newApp(out, errOut io.Writer) *app {
	return &app{v: config.NewViper(), out: out, errOut: errOut}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "mcps",
		Short: "Manage MCP servers and call their tools",
		Long: `mcps keeps MCP server definitions in ~/.mcps/mcp.json and calls their tools.

A background daemon pools live connections so repeated calls skip the
connect handshake. It starts on first use; when it cannot be reached, each
command connects directly instead.

Examples:
  mcps add fs --command npx --args -y,@modelcontextprotocol/server-filesystem,/tmp
  mcps tools fs
  mcps call fs read_file path=/tmp/notes.txt
  mcps status`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}
	config.RegisterFlags(root.PersistentFlags())
	root.SetOut(a.out)
	root.SetErr(a.errOut)
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &usageError{err: err}
	})

	root.AddCommand(
		newListCmd(a),
		newAddCmd(a),
		newRemoveCmd(a),
		newUpdateCmd(a),
		newEnableCmd(a),
		newDisableCmd(a),
		newToolsCmd(a),
		newCallCmd(a),
		newStartCmd(a),
		newStopCmd(a),
		newStatusCmd(a),
		newRestartCmd(a),
		newDaemonCmd(a),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.BindFlags(a.v, cmd.Root().PersistentFlags()); err != nil {
		return err
	}
	settings, err := config.LoadSettings(a.v)
	if err != nil {
		return &usageError{err: err}
	}
	envErr := config.LoadEnvFile(settings.ConfigDir)
	if envErr == nil {
		// The env file may carry MCPS_* settings.
		if settings, err = config.LoadSettings(a.v); err != nil {
			return &usageError{err: err}
		}
	}
	a.settings = settings

	level := slog.LevelWarn
	if settings.Verbose {
		level, _ = config.ParseLogLevel(settings.LogLevel)
	}
	a.logger = config.NewLogger(a.errOut, level)
	if envErr != nil {
		a.logger.Warn("ignoring env file", "dir", settings.ConfigDir, "error", envErr)
	}

	store, err := config.Open(settings.ConfigDir, a.logger)
	if err != nil {
		return err
	}
	a.store = store
	return nil
}

func (a *app) client() *daemon.Client {
	return daemon.NewClient(a.settings.DaemonAddr(), nil)
}

// daemonArgs re-creates the resolved settings on the spawned daemon's
// command line.
func (a *app) daemonArgs() []string {
	args := []string{
		"daemon", "run",
		"--" + config.KeyPort, strconv.Itoa(a.settings.Port),
		"--" + config.KeyConfigDir, a.settings.ConfigDir,
		"--" + config.KeyLogLevel, a.settings.LogLevel,
		"--" + config.KeyConnectTimeout, a.settings.ConnectTimeout.String(),
		"--" + logFileFlag, a.settings.LogPath(),
	}
	if a.settings.Verbose {
		args = append(args, "--"+config.KeyVerbose)
	}
	return args
}

func (a *app) launcher() *daemon.Launcher {
	return daemon.NewLauncher(a.client(), &daemon.LauncherOptions{
		StartTimeout: a.settings.StartTimeout,
		Args:         a.daemonArgs(),
		Spawn:        a.spawn,
		Logger:       a.logger,
	})
}

func (a *app) newDialer(logger *slog.Logger) mcpmgr.Dialer {
	if a.dialer != nil {
		return a.dialer
	}
	return mcpmgr.NewDialer(&mcpmgr.DialerOptions{
		ClientVersion:  version,
		DefaultTimeout: a.settings.ConnectTimeout,
		Logger:         logger,
	})
}

func (a *app) invoker() *daemon.Invoker {
	return daemon.NewInvoker(a.launcher(), a.store, a.newDialer(a.logger), &daemon.InvokerOptions{
		NoDaemon: a.settings.NoDaemon,
		Logger:   a.logger,
	})
}

// refreshDaemon makes a running daemon drop its connections so the next
// request sees the edited definitions. A daemon that is not running is left
// alone.
func (a *app) refreshDaemon(ctx context.Context) {
	client := a.client()
	if _, err := client.Health(ctx); err != nil {
		a.logger.Debug("daemon not refreshed", "error", err)
		return
	}
	if _, err := client.Restart(ctx); err != nil {
		a.logger.Warn("daemon refresh failed", "error", err)
		return
	}
	fmt.Fprintln(a.out, mutedStyle.Render("Daemon connections refreshed."))
}
