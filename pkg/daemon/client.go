package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/broker"
	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// ErrNotRunning reports that nothing accepts connections on the control
// address.
var ErrNotRunning = errors.New("daemon is not running")

// maxErrorBody bounds how much of a failed reply is read.
const maxErrorBody = 64 << 10

// Client talks to a running broker over the control API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a Client for addr, which is either a host:port or a base
// URL. A nil httpClient means http.DefaultClient.
func NewClient(addr string, httpClient *http.Client) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}
}

// BaseURL returns the control API root.
func (c *Client) BaseURL() string { return c.base }

// Health probes GET /health.
func (c *Client) Health(ctx context.Context) (*broker.HealthResponse, error) {
	var out broker.HealthResponse
	if err := c.do(ctx, http.MethodGet, broker.PathHealth, nil, &out); err != nil {
		return nil, err
	}
	if !out.OK {
		return nil, &mcpmgr.Error{Kind: mcpmgr.KindDaemonUnavailable, Err: fmt.Errorf("%s reports unhealthy", c.base)}
	}
	return &out, nil
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (*broker.StatusResponse, error) {
	var out broker.StatusResponse
	if err := c.do(ctx, http.MethodGet, broker.PathStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTools lists the tools of server through the daemon's pool.
func (c *Client) ListTools(ctx context.Context, server string) ([]*mcp.Tool, error) {
	var out broker.ListResponse
	if err := c.do(ctx, http.MethodPost, broker.PathList, broker.ListRequest{Server: server}, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// CallTool invokes tool on server through the daemon's pool. Results with
// IsError set are returned without an error.
func (c *Client) CallTool(ctx context.Context, server, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	var out mcp.CallToolResult
	req := broker.CallRequest{Server: server, Tool: tool, Arguments: args}
	if err := c.do(ctx, http.MethodPost, broker.PathCall, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restart closes every pooled connection and makes the daemon reload its
// configuration.
func (c *Client) Restart(ctx context.Context) (string, error) {
	var out broker.MessageResponse
	if err := c.do(ctx, http.MethodPost, broker.PathRestart, struct{}{}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown(ctx context.Context) (string, error) {
	var out broker.MessageResponse
	if err := c.do(ctx, http.MethodPost, broker.PathShutdown, struct{}{}, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", path, err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isConnRefused(err) {
			return fmt.Errorf("%w at %s", ErrNotRunning, c.base)
		}
		return &mcpmgr.Error{Kind: mcpmgr.KindDaemonUnavailable, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &mcpmgr.Error{Kind: mcpmgr.KindDaemonUnavailable, Err: fmt.Errorf("decode %s reply: %w", path, err)}
	}
	return nil
}

// decodeError turns a non-2xx reply back into a classified error. Replies
// that are not control API errors mean something else owns the port.
func (c *Client) decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e broker.ErrorResponse
	if err := json.Unmarshal(data, &e); err != nil || e.Code == "" {
		return &mcpmgr.Error{
			Kind: mcpmgr.KindDaemonUnavailable,
			Err:  fmt.Errorf("unexpected reply from %s (%d): %s", c.base, resp.StatusCode, strings.TrimSpace(string(data))),
		}
	}
	return &mcpmgr.Error{Kind: e.Code, Err: errors.New(e.Error)}
}

// isConnRefused reports whether err is a refused TCP connect.
func isConnRefused(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) && errno == syscall.ECONNREFUSED {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Err != nil {
		return errors.As(opErr.Err, &errno) && errno == syscall.ECONNREFUSED
	}
	return false
}
