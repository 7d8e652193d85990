// Package config owns everything mcps reads from disk or the environment.
//
// Server definitions live in <dir>/mcp.json using the mcpServers layout shared
// by most MCP clients:
//
//	{
//	  "mcpServers": {
//	    "fs":   {"command": "npx", "args": ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]},
//	    "docs": {"url": "https://example.com/mcp", "headers": {"Authorization": "Bearer ..."}}
//	  }
//	}
//
// Store loads the file once and rewrites it atomically on every mutation.
// Runtime settings (port, config dir, log level, timeouts) are resolved by
// LoadSettings from cobra flags and MCPS_* environment variables via viper.
package config
