// Package broker serves the mcps control API: a loopback-only JSON-over-HTTP
// surface that lets short-lived commands list and call tools through a pool
// of long-lived MCP connections.
//
//	POST /list      {"server"}                    -> {"tools": [...]}
//	POST /call      {"server","tool","arguments"} -> CallToolResult
//	POST /restart   {}                            -> {"message"}
//	POST /shutdown                                -> {"message"}
//	GET  /health                                  -> {"ok","pid","version","uptime"}
//	GET  /status                                  -> {"servers": [...]}
//
// Failures are {"error","code"} with a status derived from the mcpmgr.Kind.
package broker
