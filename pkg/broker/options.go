package broker

import (
	"log/slog"
	"time"
)

// DefaultAddr is the loopback address the control API listens on.
const DefaultAddr = "127.0.0.1:4100"

// Reloader is implemented by server sources that can re-read their backing
// file. /restart reloads the source before clearing the pool.
type Reloader interface {
	Reload() error
}

// Options configure a Service.
type Options struct {
	// Addr is the listen address used by ListenAndServe. Only loopback hosts
	// are accepted. Defaults to DefaultAddr.
	Addr string
	// Version is reported by /health and /status.
	Version string
	// Verbose logs every tool request and response at info level.
	Verbose bool
	// Reloader, when set, is reloaded by /restart.
	Reloader Reloader
	// Logger receives structured diagnostics.
	Logger *slog.Logger
	// ShutdownTimeout bounds the graceful stop of the HTTP server and the pool.
	ShutdownTimeout time.Duration
	// MaxBodyBytes caps request bodies. Defaults to 1 MiB.
	MaxBodyBytes int64
}

func (o *Options) withDefaults() Options {
	if o == nil {
		o = &Options{}
	}
	opts := *o
	if opts.Addr == "" {
		opts.Addr = DefaultAddr
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	return opts
}
