// Package mcptest provides in-memory MCP servers and a Dialer that reaches
// them, for tests of code built on mcpmgr.
package mcptest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/config"
	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// EchoArgs is the input of the "echo" tool.
type EchoArgs struct {
	Text string `json:"text"`
}

// NewServer returns a server named name exposing three tools: "echo" returns
// its text argument, "fail" returns an IsError result, and "whoami" returns
// the server name.
func NewServer(name string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "Echo the text argument"},
		func(_ context.Context, _ *mcp.CallToolRequest, in EchoArgs) (*mcp.CallToolResult, any, error) {
			return TextResult(in.Text), nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "fail", Description: "Always fails"},
		func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
			return nil, nil, errors.New("tool failed on purpose")
		})
	mcp.AddTool(server, &mcp.Tool{Name: "whoami", Description: "Report the server name"},
		func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
			return TextResult(name), nil, nil
		})
	return server
}

// TextResult wraps text in a single-content result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

// Dialer implements mcpmgr.Dialer over in-memory transports. Servers are
// looked up by definition name; unknown names fail with connection_failed.
type Dialer struct {
	client *mcpmgr.ClientDialer

	mu      sync.Mutex
	servers map[string]*mcp.Server
	dials   map[string]int
	open    int
}

// NewDialer returns a Dialer for the given servers.
func NewDialer(client *mcpmgr.ClientDialer, servers map[string]*mcp.Server) *Dialer {
	if client == nil {
		client = mcpmgr.NewDialer(nil)
	}
	return &Dialer{client: client, servers: servers, dials: make(map[string]int)}
}

// Dial connects a fresh client session to the named in-memory server.
func (d *Dialer) Dial(ctx context.Context, srv config.Server) (mcpmgr.Session, error) {
	d.mu.Lock()
	d.dials[srv.Name]++
	server, ok := d.servers[srv.Name]
	d.mu.Unlock()
	if !ok {
		return nil, &mcpmgr.Error{Kind: mcpmgr.KindConnectionFailed, Server: srv.Name, Err: fmt.Errorf("no in-memory server %q", srv.Name)}
	}

	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := server.Connect(ctx, serverTransport, nil); err != nil {
		return nil, &mcpmgr.Error{Kind: mcpmgr.KindConnectionFailed, Server: srv.Name, Err: err}
	}
	session, err := d.client.DialTransport(ctx, srv.Name, clientTransport)
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.open++
	d.mu.Unlock()
	return &trackedSession{Session: session, dialer: d, closed: make(chan struct{})}, nil
}

// Dials reports how many times name was dialed.
func (d *Dialer) Dials(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[name]
}

// Open reports how many dialed sessions have not been closed.
func (d *Dialer) Open() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.open
}

type trackedSession struct {
	mcpmgr.Session
	dialer *Dialer
	once   sync.Once
	closed chan struct{}
}

func (s *trackedSession) Close() error {
	s.once.Do(func() {
		s.dialer.mu.Lock()
		s.dialer.open--
		s.dialer.mu.Unlock()
		close(s.closed)
	})
	return s.Session.Close()
}

// Wait forwards to the wrapped session so pools can watch for disconnects.
func (s *trackedSession) Wait() error {
	if w, ok := s.Session.(interface{ Wait() error }); ok {
		return w.Wait()
	}
	<-s.closed
	return nil
}
