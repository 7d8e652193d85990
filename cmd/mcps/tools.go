package main

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

func newToolsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tools <server>",
		Short: "List the tools a server exposes",
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			tools, err := a.invoker().ListTools(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return writeIndented(a.out, tools)
			}
			renderTools(a.out, args[0], tools)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the tool list as JSON")
	return cmd
}

func newCallCmd(a *app) *cobra.Command {
	var (
		rawArgs string
		raw     bool
	)
	cmd := &cobra.Command{
		Use:   "call <server> <tool> [key=value...]",
		Short: "Call a tool",
		Long: `Call a tool on a server and print its result.

Arguments are key=value pairs. Values that parse as JSON (numbers, booleans,
arrays, objects) are sent as such; anything else is sent as a string.
--json takes a JSON object; key=value pairs override its fields.

The command exits with status 6 when the tool reports an error.`,
		Args: usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, tool := args[0], args[1]
			toolArgs, err := parseCallArgs(rawArgs, args[2:])
			if err != nil {
				return err
			}
			result, err := a.invoker().CallTool(cmd.Context(), server, tool, toolArgs)
			if err != nil {
				return err
			}
			if raw {
				err = writeIndented(a.out, result)
			} else {
				err = renderResult(a.out, result)
			}
			if err != nil {
				return err
			}
			if result.IsError {
				return &mcpmgr.Error{Kind: mcpmgr.KindToolInvocation, Server: server, Tool: tool, Err: errors.New("tool reported an error")}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawArgs, "json", "", `tool arguments as a JSON object, e.g. '{"path":"/tmp"}'`)
	cmd.Flags().BoolVar(&raw, "raw", false, "print the whole result as JSON")
	return cmd
}

// parseCallArgs merges a JSON object with key=value pairs.
func parseCallArgs(raw string, pairs []string) (map[string]any, error) {
	args := map[string]any{}
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return nil, usagef("--json must be a JSON object: %v", err)
		}
		if args == nil {
			args = map[string]any{}
		}
	}
	for _, pair := range pairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" {
			return nil, usagef("argument %q: expected key=value", pair)
		}
		args[k] = parseValue(v)
	}
	return args, nil
}

func parseValue(v string) any {
	var decoded any
	if err := json.Unmarshal([]byte(v), &decoded); err == nil {
		return decoded
	}
	return v
}
