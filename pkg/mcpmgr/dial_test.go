package mcpmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

type echoArgs struct {
	Text string `json:"text"`
}

func newEchoServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "echo-server", Version: "0.0.1"}, nil)
	mcp.AddTool(server, &mcp.Tool{Name: "echo", Description: "echoes text"},
		func(_ context.Context, _ *mcp.CallToolRequest, in echoArgs) (*mcp.CallToolResult, any, error) {
			return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: in.Text}}}, nil, nil
		})
	mcp.AddTool(server, &mcp.Tool{Name: "fail", Description: "always fails"},
		func(context.Context, *mcp.CallToolRequest, struct{}) (*mcp.CallToolResult, any, error) {
			return nil, nil, errors.New("boom")
		})
	return server
}

func dialInMemory(t *testing.T, d *ClientDialer, name string) Session {
	t.Helper()
	ctx := context.Background()
	clientTransport, serverTransport := mcp.NewInMemoryTransports()
	if _, err := newEchoServer().Connect(ctx, serverTransport, nil); err != nil {
		t.Fatalf("server connect: %v", err)
	}
	session, err := d.DialTransport(ctx, name, clientTransport)
	if err != nil {
		t.Fatalf("DialTransport: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestDialTransportRoundTrip(t *testing.T) {
	t.Parallel()

	d := NewDialer(&DialerOptions{Logger: quietLogger(), DefaultTimeout: 5 * time.Second})
	session := dialInMemory(t, d, "alpha")
	ctx := context.Background()

	tools, err := session.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	if !reflect.DeepEqual(names, []string{"echo", "fail"}) {
		t.Fatalf("tools = %v", names)
	}

	res, err := session.CallTool(ctx, "echo", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("CallTool(echo): %v", err)
	}
	if res.IsError || len(res.Content) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if text, ok := res.Content[0].(*mcp.TextContent); !ok || text.Text != "hello" {
		t.Fatalf("content = %#v", res.Content[0])
	}

	res, err = session.CallTool(ctx, "fail", nil)
	if err != nil {
		t.Fatalf("CallTool(fail) should report failure in the result, got %v", err)
	}
	if !res.IsError {
		t.Fatalf("expected IsError result")
	}

	_, err = session.CallTool(ctx, "missing", nil)
	if !errors.Is(err, ErrToolInvocation) {
		t.Fatalf("CallTool(missing) = %v, expected ErrToolInvocation", err)
	}
	var merr *Error
	if !errors.As(err, &merr) || merr.Server != "alpha" || merr.Tool != "missing" {
		t.Fatalf("error lacks target: %#v", err)
	}
}

func TestDialerRPCLogger(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[RPCDirection]int{}
	d := NewDialer(&DialerOptions{
		Logger: quietLogger(),
		RPCLogger: func(ev RPCLogEvent) {
			mu.Lock()
			defer mu.Unlock()
			if ev.ServerID != "alpha" {
				t.Errorf("event for %q", ev.ServerID)
			}
			seen[ev.Direction]++
		},
	})
	session := dialInMemory(t, d, "alpha")
	if _, err := session.ListTools(context.Background()); err != nil {
		t.Fatalf("ListTools: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if seen[RPCDirectionSend] == 0 || seen[RPCDirectionReceive] == 0 {
		t.Fatalf("expected traffic in both directions, got %v", seen)
	}
}

func TestDialClassifiesFailures(t *testing.T) {
	t.Parallel()

	d := NewDialer(&DialerOptions{Logger: quietLogger(), DefaultTimeout: 5 * time.Second})
	ctx := context.Background()

	_, err := d.Dial(ctx, config.Server{Name: "bad"})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("Dial(invalid) = %v, expected ErrConfigInvalid", err)
	}
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("validation error not preserved: %v", err)
	}

	_, err = d.Dial(ctx, config.Server{Name: "missing", Command: "/nonexistent/mcps-test-binary"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Dial(missing binary) = %v, expected ErrConnectionFailed", err)
	}
}

func TestDialHTTPTransportsOutliveDial(t *testing.T) {
	t.Parallel()

	getServer := func(*http.Request) *mcp.Server { return newEchoServer() }
	cases := []struct {
		name    string
		handler http.Handler
		srv     func(base string) config.Server
	}{
		{
			name:    "streamable",
			handler: mcp.NewStreamableHTTPHandler(getServer, nil),
			srv: func(base string) config.Server {
				return config.Server{Name: "remote", URL: base + "/mcp", Type: config.KindHTTP}
			},
		},
		{
			name:    "sse",
			handler: mcp.NewSSEHandler(getServer, nil),
			srv: func(base string) config.Server {
				return config.Server{Name: "remote", URL: base + "/sse"}
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			ts := httptest.NewServer(tc.handler)
			t.Cleanup(ts.Close)

			d := NewDialer(&DialerOptions{Logger: quietLogger(), DefaultTimeout: 5 * time.Second})
			ctx := context.Background()
			session, err := d.Dial(ctx, tc.srv(ts.URL))
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			defer session.Close()

			for i := 0; i < 2; i++ {
				tools, err := session.ListTools(ctx)
				if err != nil {
					t.Fatalf("ListTools #%d: %v", i+1, err)
				}
				if len(tools) != 2 {
					t.Fatalf("tools = %d, expected 2", len(tools))
				}
			}
			res, err := session.CallTool(ctx, "echo", map[string]any{"text": "still here"})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			if text, ok := res.Content[0].(*mcp.TextContent); !ok || text.Text != "still here" {
				t.Fatalf("content = %#v", res.Content[0])
			}
		})
	}
}

func TestDialHandshakeTimeout(t *testing.T) {
	t.Parallel()

	unblock := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-unblock:
		}
	}))
	t.Cleanup(ts.Close)
	t.Cleanup(func() { close(unblock) })

	d := NewDialer(&DialerOptions{Logger: quietLogger(), DefaultTimeout: 30 * time.Second})
	start := time.Now()
	_, err := d.Dial(context.Background(), config.Server{Name: "slow", URL: ts.URL + "/mcp", Timeout: "200ms"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Fatalf("Dial = %v, expected ErrConnectionFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Dial = %v, expected deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Dial took %s", elapsed)
	}
}

func TestStandaloneClosesSession(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.closeErr["alpha"] = errors.New("stuck process")
	store := newTestStore(t, alpha)
	ctx := context.Background()
	var logs strings.Builder
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	var tools []*mcp.Tool
	err := Standalone(ctx, store, dialer, "alpha", logger, func(s Session) error {
		var err error
		tools, err = s.ListTools(ctx)
		return err
	})
	if err != nil {
		t.Fatalf("Standalone: %v", err)
	}
	if len(tools) != 1 {
		t.Fatalf("tools = %v", tools)
	}
	if !dialer.sessions[0].isClosed() {
		t.Fatalf("standalone session left open")
	}
	if !strings.Contains(logs.String(), "stuck process") {
		t.Fatalf("close failure not logged to the given logger: %q", logs.String())
	}

	err = Standalone(ctx, store, dialer, "ghost", nil, func(Session) error { return nil })
	if !errors.Is(err, ErrServerNotFound) {
		t.Fatalf("Standalone(ghost) = %v", err)
	}
	if dialer.dialCount("ghost") != 0 {
		t.Fatalf("ghost should not be dialed")
	}
}

func TestBuildStdioTransportForServerEverything(t *testing.T) {
	t.Parallel()

	cfg := &StdioServerConfig{
		BaseServerConfig: BaseServerConfig{Timeout: 5 * time.Second},
		Command:          "npx",
		Args:             []string{"@modelcontextprotocol/server-everything"},
		Env:              map[string]string{"MCP_SERVER_MODE": "stdio"},
	}

	transport, err := buildStdioTransport("stdio-example", cfg)
	if err != nil {
		t.Fatalf("buildStdioTransport error: %v", err)
	}

	cmdTransport, ok := transport.(*mcp.CommandTransport)
	if !ok {
		t.Fatalf("expected CommandTransport, got %T", transport)
	}

	expectedArgs := append([]string{cfg.Command}, cfg.Args...)
	if !reflect.DeepEqual(cmdTransport.Command.Args, expectedArgs) {
		t.Fatalf("command args = %v, expected %v", cmdTransport.Command.Args, expectedArgs)
	}

	if !envContains(cmdTransport.Command.Env, "MCP_SERVER_MODE", "stdio") {
		t.Fatalf("env missing MCP_SERVER_MODE from stdio config")
	}
}

func TestStdioServerEverythingListsTools(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	d := NewDialer(&DialerOptions{Logger: quietLogger(), DefaultTimeout: 60 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	session, err := d.Dial(ctx, config.Server{
		Name:    "everything",
		Command: "npx",
		Args:    []string{"-y", "@modelcontextprotocol/server-everything"},
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer session.Close()

	tools, err := session.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if len(tools) == 0 {
		t.Fatalf("expected at least one tool")
	}
}

func TestDecorateHTTPClientAddsHeadersAndSession(t *testing.T) {
	t.Parallel()

	tracker := newSessionIDTracker("session-http")
	headers := http.Header{"X-Mcp-Source": []string{"mcps-tests"}, "Authorization": []string{"Bearer example-token"}}

	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("X-MCP-Source"); got != "mcps-tests" {
			t.Errorf("decorated header missing, got %q", got)
		}
		if got := req.Header.Get(sessionIDHeaderName); got != "session-http" {
			t.Errorf("session header missing, got %q", got)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer example-token" {
			t.Errorf("auth header mismatch, got %q", got)
		}
		return &http.Response{
			StatusCode: http.StatusNoContent,
			Header:     make(http.Header),
			Body:       io.NopCloser(strings.NewReader("")),
			Request:    req,
		}, nil
	})

	decorated := decorateHTTPClient(&http.Client{Transport: rt}, headers, tracker)
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "https://example.com/mcp", nil)
	if err != nil {
		t.Fatalf("request creation failed: %v", err)
	}
	resp, err := decorated.Do(req)
	if err != nil {
		t.Fatalf("decorated client Do error: %v", err)
	}
	_ = resp.Body.Close()
	if req.Header.Get("X-MCP-Source") != "" {
		t.Fatalf("caller request must not be mutated")
	}
}

func TestShouldPreferSSEHeuristic(t *testing.T) {
	t.Parallel()

	if shouldPreferSSE(&HTTPServerConfig{Endpoint: "https://example.com/mcp"}) {
		t.Fatalf("did not expect SSE preference for non-sse endpoint")
	}
	if !shouldPreferSSE(&HTTPServerConfig{Endpoint: "https://example.com/sse"}) {
		t.Fatalf("expected SSE preference for /sse endpoint")
	}
	override := false
	if shouldPreferSSE(&HTTPServerConfig{Endpoint: "https://example.com/sse", PreferSSE: &override}) {
		t.Fatalf("explicit PreferSSE=false should win")
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func envContains(env []string, key, value string) bool {
	target := key + "=" + value
	for _, item := range env {
		if item == target {
			return true
		}
	}
	return false
}
