package broker

import (
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// Control API paths.
const (
	PathList     = "/list"
	PathCall     = "/call"
	PathRestart  = "/restart"
	PathShutdown = "/shutdown"
	PathHealth   = "/health"
	PathStatus   = "/status"
)

// RequestIDHeader carries the per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// ListRequest is the body of POST /list.
type ListRequest struct {
	Server string `json:"server"`
}

// ListResponse is the reply to POST /list.
type ListResponse struct {
	Tools []*mcp.Tool `json:"tools"`
}

// CallRequest is the body of POST /call. The reply is the downstream
// mcp.CallToolResult as is.
type CallRequest struct {
	Server    string         `json:"server"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// MessageResponse acknowledges /restart and /shutdown.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the reply to GET /health.
type HealthResponse struct {
	OK        bool      `json:"ok"`
	PID       int       `json:"pid"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
	StartedAt time.Time `json:"startedAt"`
}

// StatusResponse is the reply to GET /status.
type StatusResponse struct {
	PID     int                  `json:"pid"`
	Version string               `json:"version"`
	Addr    string               `json:"addr"`
	Uptime  string               `json:"uptime"`
	Servers []mcpmgr.EntryStatus `json:"servers"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error  string      `json:"error"`
	Code   mcpmgr.Kind `json:"code"`
	Server string      `json:"server,omitempty"`
	Tool   string      `json:"tool,omitempty"`
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind mcpmgr.Kind) int {
	switch kind {
	case mcpmgr.KindBadRequest:
		return http.StatusBadRequest
	case mcpmgr.KindServerNotFound:
		return http.StatusNotFound
	case mcpmgr.KindConfigInvalid:
		return http.StatusUnprocessableEntity
	case mcpmgr.KindToolInvocation:
		return http.StatusFailedDependency
	case mcpmgr.KindDownstream:
		return http.StatusBadGateway
	case mcpmgr.KindConnectionFailed, mcpmgr.KindDaemonUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
