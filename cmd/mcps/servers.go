package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List configured servers",
		Args:    usageArgs(cobra.NoArgs),
		RunE: func(*cobra.Command, []string) error {
			renderServers(a.out, a.store.Servers(), a.store.Invalid())
			return nil
		},
	}
}

type serverFlags struct {
	typ       string
	command   string
	args      []string
	url       string
	env       []string
	headers   []string
	lifecycle string
	timeout   string
	disabled  bool
}

func newAddCmd(a *app) *cobra.Command {
	var f serverFlags
	cmd := &cobra.Command{
		Use:   "add <name> [-- command [args...]]",
		Short: "Add a server definition",
		Long: `Add a server definition to mcp.json.

Stdio servers take --command and --args, or the command after "--".
Network servers take --url; --type picks sse or http when the URL does not
end in /sse.

Examples:
  mcps add fs --command npx --args -y,@modelcontextprotocol/server-filesystem,/tmp
  mcps add fs -- npx -y @modelcontextprotocol/server-filesystem /tmp
  mcps add remote --url https://example.com/mcp --header "Authorization=Bearer x"`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				if dash != 1 {
					return usagef("add takes exactly one name before --")
				}
				if f.command != "" {
					return usagef("use either --command or a command after --, not both")
				}
				if rest := args[1:]; len(rest) > 0 {
					f.command, f.args = rest[0], rest[1:]
				}
			} else if len(args) > 1 {
				return usagef("unexpected arguments %q; put the server command after --", args[1:])
			}

			srv, err := f.server(name)
			if err != nil {
				return err
			}
			if err := a.store.Add(srv); err != nil {
				return fmt.Errorf("add %q: %w", name, err)
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Server %q added.", name)))
			a.refreshDaemon(cmd.Context())
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&f.typ, "type", "", "transport for URL servers: sse or http")
	fs.StringVar(&f.command, "command", "", "command to spawn (stdio)")
	fs.StringSliceVar(&f.args, "args", nil, "command arguments, comma separated")
	fs.StringVar(&f.url, "url", "", "endpoint URL (sse or http)")
	fs.StringArrayVar(&f.env, "env", nil, "environment variable KEY=VALUE (repeatable)")
	fs.StringArrayVar(&f.headers, "header", nil, "HTTP header KEY=VALUE (repeatable)")
	fs.StringVar(&f.lifecycle, "lifecycle", "", "keep-alive (default) or on-demand")
	fs.StringVar(&f.timeout, "timeout", "", "connect and request timeout, e.g. 30s")
	fs.BoolVar(&f.disabled, "disabled", false, "add the server disabled")
	return cmd
}

func (f serverFlags) server(name string) (config.Server, error) {
	env, err := parsePairs("env", f.env)
	if err != nil {
		return config.Server{}, err
	}
	headers, err := parsePairs("header", f.headers)
	if err != nil {
		return config.Server{}, err
	}
	srv := config.Server{
		Name:      name,
		Command:   f.command,
		Args:      f.args,
		URL:       f.url,
		Env:       env,
		Headers:   headers,
		Disabled:  f.disabled,
		Lifecycle: config.Lifecycle(f.lifecycle),
		Timeout:   f.timeout,
	}
	switch f.typ {
	case "":
	case string(config.KindStdio), string(config.KindSSE), string(config.KindHTTP):
		srv.Type = config.Kind(f.typ)
	default:
		return config.Server{}, usagef("unknown --type %q (valid: stdio, sse, http)", f.typ)
	}
	return srv, nil
}

// parsePairs turns KEY=VALUE flags into a map. Values may contain "=".
func parsePairs(flag string, pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, usagef("--%s %q: expected KEY=VALUE", flag, pair)
		}
		out[strings.TrimSpace(k)] = v
	}
	return out, nil
}

func newRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <name>",
		Aliases: []string{"rm"},
		Short:   "Remove a server definition",
		Args:    usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.Remove(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Server %q removed.", args[0])))
			a.refreshDaemon(cmd.Context())
			return nil
		},
	}
}

func newUpdateCmd(a *app) *cobra.Command {
	var (
		command string
		args    []string
		url     string
		env     []string
	)
	cmd := &cobra.Command{
		Use:   "update [name]",
		Short: "Update a server definition, or refresh every connection",
		Long: `With a name, update that server's command, arguments, URL or environment.
The disabled flag is kept. Without a name, make the daemon close every pooled
connection and reload mcp.json, starting it first if needed.`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, positional []string) error {
			fs := cmd.Flags()
			if len(positional) == 0 {
				if fs.Changed("command") || fs.Changed("args") || fs.Changed("url") || fs.Changed("env") {
					return usagef("update flags need a server name")
				}
				return a.restartConnections(cmd)
			}

			name := positional[0]
			var u config.ServerUpdate
			if fs.Changed("command") {
				u.Command = &command
			}
			if fs.Changed("args") {
				u.Args = args
				if u.Args == nil {
					u.Args = []string{}
				}
			}
			if fs.Changed("url") {
				u.URL = &url
			}
			if fs.Changed("env") {
				pairs, err := parsePairs("env", env)
				if err != nil {
					return err
				}
				if pairs == nil {
					pairs = map[string]string{}
				}
				u.Env = pairs
			}
			if err := a.store.Update(name, u); err != nil {
				if errors.Is(err, config.ErrNoUpdates) {
					return usagef("no updates given; use mcps update %s --command <cmd> --args <args>", name)
				}
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Server %q updated.", name)))
			a.refreshDaemon(cmd.Context())
			return nil
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&command, "command", "", "new command")
	fs.StringSliceVar(&args, "args", nil, "new arguments, comma separated")
	fs.StringVar(&url, "url", "", "new endpoint URL")
	fs.StringArrayVar(&env, "env", nil, "replace environment with KEY=VALUE pairs (repeatable)")
	return cmd
}

func (a *app) restartConnections(cmd *cobra.Command) error {
	if a.settings.NoDaemon {
		fmt.Fprintln(a.out, mutedStyle.Render("Daemon disabled; nothing to refresh."))
		return nil
	}
	l := a.launcher()
	if err := l.EnsureReachable(cmd.Context()); err != nil {
		return err
	}
	msg, err := l.Client().Restart(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, successStyle.Render(msg))
	return nil
}

func newEnableCmd(a *app) *cobra.Command {
	return newToggleCmd(a, "enable", "Enable a server", false)
}

func newDisableCmd(a *app) *cobra.Command {
	return newToggleCmd(a, "disable", "Disable a server; it is kept but never connected", true)
}

func newToggleCmd(a *app, use, short string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name>",
		Short: short,
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.store.SetDisabled(args[0], disabled); err != nil {
				return err
			}
			fmt.Fprintln(a.out, successStyle.Render(fmt.Sprintf("Server %q %sd.", args[0], use)))
			a.refreshDaemon(cmd.Context())
			return nil
		},
	}
}
