package mcpmgr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

const sessionIDHeaderName = "Mcp-Session-Id"

// Dialer opens a session to a server definition.
type Dialer interface {
	Dial(ctx context.Context, srv config.Server) (Session, error)
}

// ClientDialer dials servers with the MCP Go SDK client. Stdio servers are
// spawned as child processes; URL servers use Streamable HTTP with an SSE
// fallback, or SSE directly when the definition asks for it.
type ClientDialer struct {
	opts   DialerOptions
	logger *slog.Logger
}

// NewDialer constructs a ClientDialer. Callers can provide nil options to
// fall back to defaults.
func NewDialer(opts *DialerOptions) *ClientDialer {
	o := opts.normalized()
	return &ClientDialer{opts: o, logger: o.Logger}
}

// Dial connects to srv within its timeout. Failures are classified as
// config_invalid or connection_failed.
func (d *ClientDialer) Dial(ctx context.Context, srv config.Server) (Session, error) {
	if err := srv.Validate(); err != nil {
		return nil, classify(KindConfigInvalid, srv.Name, "", err)
	}
	cfg := ServerConfigFrom(srv)
	timeout := d.timeoutFor(cfg)

	start := time.Now()
	session, err := d.open(ctx, timeout, func(ctx context.Context) (*mcp.ClientSession, error) {
		return d.establishSession(ctx, srv.Name, cfg)
	})
	if err != nil {
		d.logger.Debug("connect failed", "server", srv.Name, "transport", TransportOf(cfg), "error", err)
		return nil, classify(KindConnectionFailed, srv.Name, "", err)
	}
	d.logger.Debug("connected", "server", srv.Name, "transport", TransportOf(cfg), "elapsed", time.Since(start))
	return newClientSession(srv.Name, session.session, timeout, session.release), nil
}

// DialTransport connects over a caller-supplied transport, such as one end
// of mcp.NewInMemoryTransports.
func (d *ClientDialer) DialTransport(ctx context.Context, name string, transport mcp.Transport) (Session, error) {
	session, err := d.open(ctx, d.opts.DefaultTimeout, func(ctx context.Context) (*mcp.ClientSession, error) {
		return d.connect(ctx, name, transport)
	})
	if err != nil {
		return nil, classify(KindConnectionFailed, name, "", err)
	}
	return newClientSession(name, session.session, d.opts.DefaultTimeout, session.release), nil
}

type openedSession struct {
	session *mcp.ClientSession
	release context.CancelFunc
}

// open runs dial on a context that is cancelled if ctx ends or timeout
// elapses before the handshake completes, and otherwise stays live until
// release is called. Some transports keep using the connect context after
// the handshake; SSE holds its event stream on it.
func (d *ClientDialer) open(ctx context.Context, timeout time.Duration, dial func(context.Context) (*mcp.ClientSession, error)) (openedSession, error) {
	sessionCtx, cancel := context.WithCancelCause(context.WithoutCancel(ctx))
	var timer *time.Timer
	if timeout > 0 {
		timer = time.AfterFunc(timeout, func() {
			cancel(fmt.Errorf("handshake exceeded %s: %w", timeout, context.DeadlineExceeded))
		})
	}
	stopAfter := context.AfterFunc(ctx, func() { cancel(context.Cause(ctx)) })

	session, err := dial(sessionCtx)
	inTime := timer == nil || timer.Stop()
	if !stopAfter() {
		inTime = false
	}
	if err == nil && !inTime {
		_ = session.Close()
		err = errors.New("handshake completed after the connect context ended")
	}
	if err != nil {
		if cause := context.Cause(sessionCtx); cause != nil && !errors.Is(err, cause) {
			err = fmt.Errorf("%w: %v", cause, err)
		}
		cancel(context.Canceled)
		return openedSession{}, err
	}
	return openedSession{session: session, release: func() { cancel(context.Canceled) }}, nil
}

func (d *ClientDialer) timeoutFor(cfg ServerConfig) time.Duration {
	if t := cfg.base().Timeout; t > 0 {
		return t
	}
	return d.opts.DefaultTimeout
}

func (d *ClientDialer) establishSession(ctx context.Context, serverID string, cfg ServerConfig) (*mcp.ClientSession, error) {
	if c, ok := AsStdio(cfg); ok {
		transport, err := buildStdioTransport(serverID, c)
		if err != nil {
			return nil, err
		}
		return d.connect(ctx, serverID, transport)
	}
	if c, ok := AsHTTP(cfg); ok {
		return d.establishHTTPSession(ctx, serverID, c)
	}
	return nil, fmt.Errorf("mcpmgr: unsupported config for %q", serverID)
}

func (d *ClientDialer) connect(ctx context.Context, serverID string, transport mcp.Transport) (*mcp.ClientSession, error) {
	impl := &mcp.Implementation{Name: d.opts.ClientName, Version: d.opts.ClientVersion}
	client := mcp.NewClient(impl, nil)
	wrapped := transport
	if logger := d.resolveRPCLogger(ctx); logger != nil {
		wrapped = &loggingTransport{serverID: serverID, delegate: transport, logger: logger}
	}
	return client.Connect(ctx, wrapped, nil)
}

func (d *ClientDialer) establishHTTPSession(ctx context.Context, serverID string, cfg *HTTPServerConfig) (*mcp.ClientSession, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("mcpmgr: endpoint missing for %q", serverID)
	}
	tracker := newSessionIDTracker(cfg.SessionID)
	baseClient := cfg.HTTPClient
	if baseClient == nil {
		baseClient = d.opts.HTTPClient
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = d.opts.MaxRetries
	}

	var streamErr error
	if !shouldPreferSSE(cfg) {
		streamable := &mcp.StreamableClientTransport{
			Endpoint:   cfg.Endpoint,
			HTTPClient: decorateHTTPClient(baseClient, cfg.Headers, tracker),
			MaxRetries: maxRetries,
		}
		session, err := d.connect(ctx, serverID, streamable)
		if err == nil {
			tracker.Set(session.ID())
			return session, nil
		}
		streamErr = err
		d.logger.Debug("streamable connect failed, trying sse", "server", serverID, "error", err)
	}

	sse := &mcp.SSEClientTransport{
		Endpoint:   cfg.Endpoint,
		HTTPClient: decorateHTTPClient(baseClient, cfg.Headers, tracker),
	}
	session, err := d.connect(ctx, serverID, sse)
	if err != nil {
		if streamErr != nil {
			return nil, fmt.Errorf("streamable error: %v; sse error: %w", streamErr, err)
		}
		return nil, err
	}
	tracker.Set(session.ID())
	return session, nil
}

func buildStdioTransport(serverID string, cfg *StdioServerConfig) (mcp.Transport, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("mcpmgr: command missing for %q", serverID)
	}
	cmd := exec.Command(cfg.Command, cfg.Args...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, fmt.Sprintf("%s=%s", k, v))
		}
		cmd.Env = env
	}
	return &mcp.CommandTransport{Command: cmd}, nil
}

func (d *ClientDialer) resolveRPCLogger(ctx context.Context) RPCLogger {
	if d.opts.RPCLogger != nil {
		return d.opts.RPCLogger
	}
	if !d.logger.Enabled(ctx, config.LevelTrace) {
		return nil
	}
	logger := d.logger
	return func(event RPCLogEvent) {
		logger.Log(context.Background(), config.LevelTrace, "jsonrpc",
			"server", event.ServerID,
			"direction", strings.ToUpper(string(event.Direction)),
			"message", string(event.Message))
	}
}

type loggingTransport struct {
	serverID string
	delegate mcp.Transport
	logger   RPCLogger
}

func (t *loggingTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := t.delegate.Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &loggingConnection{serverID: t.serverID, delegate: conn, logger: t.logger}, nil
}

type loggingConnection struct {
	serverID string
	delegate mcp.Connection
	logger   RPCLogger
	mu       sync.Mutex
}

func (c *loggingConnection) SessionID() string { return c.delegate.SessionID() }

func (c *loggingConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.delegate.Read(ctx)
	if err == nil {
		c.emit(RPCDirectionReceive, msg)
	}
	return msg, err
}

func (c *loggingConnection) Write(ctx context.Context, msg jsonrpc.Message) error {
	if err := c.delegate.Write(ctx, msg); err != nil {
		return err
	}
	c.emit(RPCDirectionSend, msg)
	return nil
}

func (c *loggingConnection) Close() error { return c.delegate.Close() }

func (c *loggingConnection) emit(direction RPCDirection, msg jsonrpc.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	encoded, err := json.Marshal(msg)
	if err != nil {
		encoded = []byte(err.Error())
	}
	c.logger(RPCLogEvent{Direction: direction, Message: encoded, ServerID: c.serverID})
}

type sessionIDTracker struct {
	mu    sync.RWMutex
	value string
}

func newSessionIDTracker(initial string) *sessionIDTracker {
	return &sessionIDTracker{value: initial}
}

func (s *sessionIDTracker) Set(value string) {
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
}

func (s *sessionIDTracker) Value() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.value
}

func shouldPreferSSE(cfg *HTTPServerConfig) bool {
	if cfg.PreferSSE != nil {
		return *cfg.PreferSSE
	}
	return strings.HasSuffix(strings.TrimSpace(cfg.Endpoint), "/sse")
}

func decorateHTTPClient(base *http.Client, headers http.Header, tracker *sessionIDTracker) *http.Client {
	if base == nil {
		base = http.DefaultClient
	}
	clone := *base
	clone.Transport = &headerDecorator{
		next:    defaultRoundTripper(base.Transport),
		headers: cloneHeader(headers),
		tracker: tracker,
	}
	return &clone
}

func cloneHeader(h http.Header) http.Header {
	if len(h) == 0 {
		return nil
	}
	clone := make(http.Header, len(h))
	for k, values := range h {
		clone[k] = append([]string(nil), values...)
	}
	return clone
}

// headerDecorator applies configured headers and the tracked session ID to
// every outbound request.
type headerDecorator struct {
	next    http.RoundTripper
	headers http.Header
	tracker *sessionIDTracker
}

func (d *headerDecorator) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if req.Header == nil {
		req.Header = make(http.Header)
	}
	for k, values := range d.headers {
		req.Header.Del(k)
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	if d.tracker != nil && req.Header.Get(sessionIDHeaderName) == "" {
		if sessionID := d.tracker.Value(); sessionID != "" {
			req.Header.Set(sessionIDHeaderName, sessionID)
		}
	}
	return d.next.RoundTrip(req)
}

func defaultRoundTripper(next http.RoundTripper) http.RoundTripper {
	if next != nil {
		return next
	}
	return http.DefaultTransport
}
