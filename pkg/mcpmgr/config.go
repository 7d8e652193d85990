package mcpmgr

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

// RPCDirection represents the direction of an observed JSON-RPC message.
type RPCDirection string

const (
	RPCDirectionSend    RPCDirection = "send"
	RPCDirectionReceive RPCDirection = "receive"
)

// RPCLogEvent encapsulates JSON-RPC traffic for custom logging.
type RPCLogEvent struct {
	Direction RPCDirection
	Message   []byte
	ServerID  string
}

// RPCLogger is invoked for each JSON-RPC message when logging is enabled.
type RPCLogger func(RPCLogEvent)

// BaseServerConfig captures settings shared by all transport types.
type BaseServerConfig struct {
	Timeout time.Duration
}

// StdioServerConfig describes an MCP server launched via stdio.
type StdioServerConfig struct {
	BaseServerConfig
	Command string
	Args    []string
	Env     map[string]string
}

func (c *StdioServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// HTTPServerConfig describes an MCP server reachable over HTTP transports.
type HTTPServerConfig struct {
	BaseServerConfig
	Endpoint   string
	HTTPClient *http.Client
	MaxRetries int
	Headers    http.Header
	SessionID  string
	PreferSSE  *bool
}

func (c *HTTPServerConfig) base() *BaseServerConfig { return &c.BaseServerConfig }

// ServerConfig is implemented by all transport-specific configurations.
type ServerConfig interface {
	base() *BaseServerConfig
}

// ServerConfigFrom converts a stored definition into its dial configuration.
func ServerConfigFrom(srv config.Server) ServerConfig {
	base := BaseServerConfig{Timeout: srv.TimeoutDuration()}
	switch srv.Kind() {
	case config.KindStdio:
		return &StdioServerConfig{
			BaseServerConfig: base,
			Command:          srv.Command,
			Args:             append([]string(nil), srv.Args...),
			Env:              srv.Env,
		}
	default:
		preferSSE := srv.Kind() == config.KindSSE
		var headers http.Header
		if len(srv.Headers) > 0 {
			headers = make(http.Header, len(srv.Headers))
			for k, v := range srv.Headers {
				headers.Set(k, v)
			}
		}
		return &HTTPServerConfig{
			BaseServerConfig: base,
			Endpoint:         srv.URL,
			Headers:          headers,
			PreferSSE:        &preferSSE,
		}
	}
}

// DialerOptions configures a ClientDialer.
type DialerOptions struct {
	// ClientName is advertised during initialization. Defaults to "mcps".
	ClientName string
	// ClientVersion is the semantic version reported to servers.
	ClientVersion string
	// DefaultTimeout bounds connects and requests for servers without an
	// explicit timeout. Defaults to 30s.
	DefaultTimeout time.Duration
	// HTTPClient is the base client for sse/http servers.
	HTTPClient *http.Client
	// MaxRetries is passed to the Streamable HTTP transport.
	MaxRetries int
	// Logger receives connection events. JSON-RPC traffic is logged at
	// config.LevelTrace when the logger has that level enabled.
	Logger *slog.Logger
	// RPCLogger overrides the trace logging of JSON-RPC traffic.
	RPCLogger RPCLogger
}

func (o *DialerOptions) normalized() DialerOptions {
	var out DialerOptions
	if o != nil {
		out = *o
	}
	if out.ClientName == "" {
		out.ClientName = "mcps"
	}
	if out.ClientVersion == "" {
		out.ClientVersion = "1.0.0"
	}
	if out.DefaultTimeout <= 0 {
		out.DefaultTimeout = config.DefaultConnectTimeout
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// PoolOptions configures a Pool.
type PoolOptions struct {
	Logger *slog.Logger
}

func (o *PoolOptions) normalized() PoolOptions {
	var out PoolOptions
	if o != nil {
		out = *o
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}
