package mcpmgr

// Helpers for narrowing and inspecting ServerConfig values without a type
// switch at every call site.

// ConfigTransport identifies the transport family used by a ServerConfig.
type ConfigTransport string

const (
	TransportStdio ConfigTransport = "stdio"
	TransportHTTP  ConfigTransport = "http"
	TransportSSE   ConfigTransport = "sse"
)

// TransportOf returns the transport kind for a ServerConfig. HTTP configs
// that prefer SSE report TransportSSE. Returns an empty string when the value
// is nil or an unknown implementation.
func TransportOf(cfg ServerConfig) ConfigTransport {
	switch c := cfg.(type) {
	case *StdioServerConfig:
		return TransportStdio
	case *HTTPServerConfig:
		if c.PreferSSE != nil && *c.PreferSSE {
			return TransportSSE
		}
		return TransportHTTP
	default:
		return ""
	}
}

// AsStdio narrows cfg to *StdioServerConfig, returning (nil, false) when it
// does not match.
func AsStdio(cfg ServerConfig) (*StdioServerConfig, bool) {
	c, ok := cfg.(*StdioServerConfig)
	return c, ok
}

// AsHTTP narrows cfg to *HTTPServerConfig, returning (nil, false) when it
// does not match.
func AsHTTP(cfg ServerConfig) (*HTTPServerConfig, bool) {
	c, ok := cfg.(*HTTPServerConfig)
	return c, ok
}
