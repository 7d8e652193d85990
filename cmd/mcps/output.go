package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/broker"
	"github.com/vikashloomba/mcps-go/pkg/config"
	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	stdioColor   = lipgloss.Color("#06B6D4")

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Padding(0, 1)
	cellStyle    = lipgloss.NewStyle().Padding(0, 1)
	titleStyle   = lipgloss.NewStyle().Bold(true)
	toolStyle    = lipgloss.NewStyle().Bold(true).Foreground(stdioColor)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	successStyle = lipgloss.NewStyle().Foreground(successColor)
	warningStyle = lipgloss.NewStyle().Foreground(warningColor)
	errorStyle   = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderServers(w io.Writer, servers []config.Server, invalid map[string]error) {
	if len(servers) == 0 && len(invalid) == 0 {
		fmt.Fprintln(w, warningStyle.Render("No servers configured."))
		fmt.Fprintln(w, mutedStyle.Render("Add one with: mcps add <name> --command <cmd> --args <args>"))
		return
	}

	t := newTable("NAME", "TYPE", "ENABLED", "LIFECYCLE", "COMMAND/URL")
	for _, srv := range servers {
		enabled := successStyle.Render("✓")
		if srv.Disabled {
			enabled = errorStyle.Render("✗")
		}
		t.Row(srv.Name, string(srv.Kind()), enabled, string(srv.EffectiveLifecycle()), srv.Target())
	}
	names := make([]string, 0, len(invalid))
	for name := range invalid {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		t.Row(name, "-", warningStyle.Render("invalid"), "-", invalid[name].Error())
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("Total: %d server(s)", len(servers)+len(invalid))))
}

// toolSchema is the subset of a tool input schema shown by `mcps tools`.
type toolSchema struct {
	Properties map[string]struct {
		Type        any    `json:"type"`
		Description string `json:"description"`
	} `json:"properties"`
	Required []string `json:"required"`
}

func renderTools(w io.Writer, server string, tools []*mcp.Tool) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("Available tools for %s:", server)))
	if len(tools) == 0 {
		fmt.Fprintln(w, warningStyle.Render("No tools found."))
		return
	}
	for _, tool := range tools {
		fmt.Fprintln(w)
		fmt.Fprintln(w, toolStyle.Render("- "+tool.Name))
		if tool.Description != "" {
			fmt.Fprintln(w, "  "+tool.Description)
		}
		fmt.Fprintln(w, mutedStyle.Render("  Arguments:"))
		schema := decodeSchema(tool.InputSchema)
		if len(schema.Properties) == 0 {
			fmt.Fprintln(w, "    None")
			continue
		}
		required := make(map[string]bool, len(schema.Required))
		for _, name := range schema.Required {
			required[name] = true
		}
		names := make([]string, 0, len(schema.Properties))
		for name := range schema.Properties {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			prop := schema.Properties[name]
			mark := ""
			if required[name] {
				mark = errorStyle.Render("*")
			}
			typ := "any"
			if prop.Type != nil {
				typ = fmt.Sprint(prop.Type)
			}
			line := fmt.Sprintf("    %s%s: %s", name, mark, typ)
			if prop.Description != "" {
				line += " (" + prop.Description + ")"
			}
			fmt.Fprintln(w, line)
		}
	}
}

func decodeSchema(raw any) toolSchema {
	var schema toolSchema
	if raw == nil {
		return schema
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return schema
	}
	_ = json.Unmarshal(data, &schema)
	return schema
}

func renderResult(w io.Writer, result *mcp.CallToolResult) error {
	if len(result.Content) == 0 && result.StructuredContent != nil {
		return writeIndented(w, result.StructuredContent)
	}
	for _, content := range result.Content {
		switch c := content.(type) {
		case *mcp.TextContent:
			fmt.Fprintln(w, c.Text)
		case *mcp.ImageContent:
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("[image %s, %d bytes]", c.MIMEType, len(c.Data))))
		case *mcp.AudioContent:
			fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("[audio %s, %d bytes]", c.MIMEType, len(c.Data))))
		default:
			if err := writeIndented(w, content); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderStatus(w io.Writer, status *broker.StatusResponse) {
	fmt.Fprintln(w, successStyle.Render("Daemon running"))
	fmt.Fprintf(w, "  pid:     %d\n  version: %s\n  addr:    %s\n  uptime:  %s\n", status.PID, status.Version, status.Addr, status.Uptime)
	if len(status.Servers) == 0 {
		fmt.Fprintln(w, mutedStyle.Render("No pooled connections."))
		return
	}
	t := newTable("SERVER", "STATE", "SINCE")
	for _, e := range status.Servers {
		t.Row(e.Name, stateLabel(e.State), e.Since.Local().Format(time.DateTime))
	}
	fmt.Fprintln(w, t.Render())
}

func stateLabel(state mcpmgr.EntryState) string {
	switch state {
	case mcpmgr.StateReady:
		return successStyle.Render(string(state))
	case mcpmgr.StateFailed:
		return errorStyle.Render(string(state))
	default:
		return warningStyle.Render(string(state))
	}
}
