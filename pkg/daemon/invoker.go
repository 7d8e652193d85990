package daemon

import (
	"context"
	"errors"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// InvokerOptions configures an Invoker.
type InvokerOptions struct {
	// NoDaemon skips the daemon and always connects directly.
	NoDaemon bool
	Logger   *slog.Logger
}

// Invoker runs one tool operation, through the daemon when one is reachable
// and directly against the downstream server otherwise.
type Invoker struct {
	launcher *Launcher
	source   mcpmgr.ServerSource
	dialer   mcpmgr.Dialer
	noDaemon bool
	logger   *slog.Logger
}

// NewInvoker returns an Invoker. source and dialer serve the direct path.
func NewInvoker(launcher *Launcher, source mcpmgr.ServerSource, dialer mcpmgr.Dialer, opts *InvokerOptions) *Invoker {
	var o InvokerOptions
	if opts != nil {
		o = *opts
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return &Invoker{
		launcher: launcher,
		source:   source,
		dialer:   dialer,
		noDaemon: o.NoDaemon,
		logger:   o.Logger,
	}
}

// ListTools lists the tools of server.
func (i *Invoker) ListTools(ctx context.Context, server string) ([]*mcp.Tool, error) {
	if i.daemonReachable(ctx) {
		tools, err := i.launcher.Client().ListTools(ctx, server)
		if !errors.Is(err, ErrNotRunning) {
			return tools, err
		}
		i.logger.Debug("daemon went away; connecting directly", "server", server)
	}

	var tools []*mcp.Tool
	err := mcpmgr.Standalone(ctx, i.source, i.dialer, server, i.logger, func(s mcpmgr.Session) error {
		var err error
		tools, err = s.ListTools(ctx)
		return err
	})
	return tools, err
}

// CallTool invokes tool on server. A result with IsError set is returned
// without an error.
func (i *Invoker) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	if i.daemonReachable(ctx) {
		result, err := i.launcher.Client().CallTool(ctx, server, tool, args)
		if !errors.Is(err, ErrNotRunning) {
			return result, err
		}
		i.logger.Debug("daemon went away; connecting directly", "server", server, "tool", tool)
	}

	var result *mcp.CallToolResult
	err := mcpmgr.Standalone(ctx, i.source, i.dialer, server, i.logger, func(s mcpmgr.Session) error {
		var err error
		result, err = s.CallTool(ctx, tool, args)
		return err
	})
	return result, err
}

func (i *Invoker) daemonReachable(ctx context.Context) bool {
	if i.noDaemon || i.launcher == nil {
		return false
	}
	err := i.launcher.EnsureReachable(ctx)
	if err == nil {
		return true
	}
	i.logger.Debug("daemon unavailable; connecting directly", "error", err)
	return false
}
