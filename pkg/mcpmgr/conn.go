package mcpmgr

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Session is one open connection to a downstream server. A Session is owned
// by whoever dialed it; pooled sessions are owned by the Pool.
type Session interface {
	// ListTools returns the full tool catalog, following pagination.
	ListTools(ctx context.Context) ([]*mcp.Tool, error)
	// CallTool invokes a tool. A result with IsError set is returned as is.
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Close() error
}

// waiter is implemented by sessions that can report when the downstream
// side went away.
type waiter interface {
	Wait() error
}

type clientSession struct {
	server  string
	session *mcp.ClientSession
	timeout time.Duration
	release context.CancelFunc
}

func newClientSession(server string, session *mcp.ClientSession, timeout time.Duration, release context.CancelFunc) *clientSession {
	if release == nil {
		release = func() {}
	}
	return &clientSession{server: server, session: session, timeout: timeout, release: release}
}

func (s *clientSession) ListTools(ctx context.Context) ([]*mcp.Tool, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	tools := []*mcp.Tool{}
	params := &mcp.ListToolsParams{}
	for {
		res, err := s.session.ListTools(ctx, params)
		if err != nil {
			if isMethodUnavailableError(err) {
				return []*mcp.Tool{}, nil
			}
			return nil, classify(KindDownstream, s.server, "", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		params = &mcp.ListToolsParams{Cursor: res.NextCursor}
	}
}

func (s *clientSession) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if args == nil {
		args = map[string]any{}
	}
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	res, err := s.session.CallTool(ctx, &mcp.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return nil, classify(KindToolInvocation, s.server, name, err)
	}
	return res, nil
}

func (s *clientSession) Close() error {
	defer s.release()
	return s.session.Close()
}

func (s *clientSession) Wait() error { return s.session.Wait() }

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// isMethodUnavailableError reports whether a server rejected a request
// because it does not implement the method.
func isMethodUnavailableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "method not found") ||
		strings.Contains(lower, "not implemented") ||
		strings.Contains(lower, "does not support") ||
		strings.Contains(lower, "unimplemented")
}
