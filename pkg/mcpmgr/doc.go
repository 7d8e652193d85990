// Package mcpmgr connects to Model Context Protocol (MCP) servers and keeps
// those connections alive for reuse. It layers connection pooling, request
// coalescing, and a shared error taxonomy on top of the
// modelcontextprotocol/go-sdk client.
//
// # Core entry points
//
//   - ClientDialer opens a Session for a config.Server: stdio servers are
//     spawned as child processes, URL servers are reached over Streamable
//     HTTP (falling back to SSE) or SSE directly.
//   - Pool is the long-lived owner of sessions, keyed by server name. Use runs
//     a function against the pooled session; CloseAll tears everything down.
//   - Standalone dials, runs, and closes a single session without a pool.
//
// Every failure surfaced by this package is an *Error carrying a Kind.
// Callers branch with errors.Is against the sentinels (ErrServerNotFound,
// ErrConnectionFailed, ...) or with KindOf.
package mcpmgr
