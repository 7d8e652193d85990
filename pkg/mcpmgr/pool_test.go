package mcpmgr

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

type fakeSession struct {
	id       int
	server   string
	closeErr error

	mu     sync.Mutex
	closed bool
	ended  chan struct{}
	once   sync.Once
}

func (s *fakeSession) ListTools(context.Context) ([]*mcp.Tool, error) {
	return []*mcp.Tool{{Name: s.server + "-tool"}}, nil
}

func (s *fakeSession) CallTool(_ context.Context, name string, _ map[string]any) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: name}}}, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.end()
	return s.closeErr
}

func (s *fakeSession) Wait() error {
	<-s.ended
	return nil
}

func (s *fakeSession) end() { s.once.Do(func() { close(s.ended) }) }

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	mu       sync.Mutex
	dials    map[string]int
	fail     map[string]error
	closeErr map[string]error
	sessions []*fakeSession

	// When block is non-nil, Dial signals started and waits for release.
	block   chan struct{}
	started chan string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		dials:    make(map[string]int),
		fail:     make(map[string]error),
		closeErr: make(map[string]error),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, srv config.Server) (Session, error) {
	d.mu.Lock()
	d.dials[srv.Name]++
	block, started := d.block, d.started
	d.mu.Unlock()

	if block != nil {
		if started != nil {
			started <- srv.Name
		}
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail[srv.Name]; err != nil {
		return nil, err
	}
	s := &fakeSession{
		id:       len(d.sessions) + 1,
		server:   srv.Name,
		closeErr: d.closeErr[srv.Name],
		ended:    make(chan struct{}),
	}
	d.sessions = append(d.sessions, s)
	return s, nil
}

func (d *fakeDialer) dialCount(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[name]
}

func (d *fakeDialer) session(i int) *fakeSession {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.sessions) {
		return nil
	}
	return d.sessions[i]
}

func (d *fakeDialer) setFail(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err == nil {
		delete(d.fail, name)
		return
	}
	d.fail[name] = err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T, servers ...config.Server) *config.Store {
	t.Helper()
	store, err := config.Open(t.TempDir(), quietLogger())
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	for _, srv := range servers {
		if err := store.Add(srv); err != nil {
			t.Fatalf("store.Add(%s): %v", srv.Name, err)
		}
	}
	return store
}

func newTestPool(t *testing.T, dialer Dialer, servers ...config.Server) (*Pool, *config.Store) {
	t.Helper()
	store := newTestStore(t, servers...)
	return NewPool(store, dialer, &PoolOptions{Logger: quietLogger()}), store
}

var alpha = config.Server{Name: "alpha", Command: "echo", Args: []string{"hi"}}

func TestPoolGetReusesReadySession(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	pool, _ := newTestPool(t, dialer, alpha)
	ctx := context.Background()

	first, err := pool.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := pool.Get(ctx, "alpha")
	if err != nil {
		t.Fatalf("second Get: %v", err)
	}
	if first != second {
		t.Fatalf("expected the same session, got %v and %v", first, second)
	}
	if n := dialer.dialCount("alpha"); n != 1 {
		t.Fatalf("dials = %d, expected 1", n)
	}
	if pool.Len() != 1 {
		t.Fatalf("Len = %d", pool.Len())
	}
}

func TestPoolCoalescesConcurrentConnects(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.block = make(chan struct{})
	dialer.started = make(chan string, 4)
	pool, _ := newTestPool(t, dialer, alpha)

	type outcome struct {
		session Session
		err     error
	}
	results := make(chan outcome, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := pool.Get(context.Background(), "alpha")
			results <- outcome{s, err}
		}()
	}

	<-dialer.started
	if snap := pool.Snapshot(); len(snap) != 1 || snap[0].State != StateConnecting {
		t.Fatalf("expected one connecting entry, got %+v", snap)
	}
	time.Sleep(20 * time.Millisecond)
	close(dialer.block)

	a, b := <-results, <-results
	if a.err != nil || b.err != nil {
		t.Fatalf("unexpected errors: %v, %v", a.err, b.err)
	}
	if a.session != b.session {
		t.Fatalf("concurrent callers received different sessions")
	}
	if n := dialer.dialCount("alpha"); n != 1 {
		t.Fatalf("dials = %d, expected exactly 1", n)
	}
}

func TestPoolConcurrentFailureSharedAndNotCached(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.setFail("alpha", errors.New("spawn failed"))
	dialer.block = make(chan struct{})
	dialer.started = make(chan string, 4)
	pool, _ := newTestPool(t, dialer, alpha)

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := pool.Get(context.Background(), "alpha")
			errs <- err
		}()
	}
	<-dialer.started
	time.Sleep(20 * time.Millisecond)
	close(dialer.block)

	for i := 0; i < 2; i++ {
		if err := <-errs; !errors.Is(err, ErrConnectionFailed) {
			t.Fatalf("Get = %v, expected ErrConnectionFailed", err)
		}
	}
	if pool.Len() != 0 {
		t.Fatalf("failed entry must be removed, Len = %d", pool.Len())
	}

	dialer.mu.Lock()
	dialer.block = nil
	dialer.mu.Unlock()
	dialer.setFail("alpha", nil)
	if _, err := pool.Get(context.Background(), "alpha"); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
	if n := dialer.dialCount("alpha"); n != 2 {
		t.Fatalf("dials = %d, expected a fresh attempt", n)
	}
}

func TestPoolUnknownAndDisabledServers(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	pool, store := newTestPool(t, dialer, alpha)
	if err := store.SetDisabled("alpha", true); err != nil {
		t.Fatalf("SetDisabled: %v", err)
	}

	for _, name := range []string{"ghost", "alpha"} {
		_, err := pool.Get(context.Background(), name)
		if !errors.Is(err, ErrServerNotFound) {
			t.Fatalf("Get(%s) = %v, expected ErrServerNotFound", name, err)
		}
		if KindOf(err) != KindServerNotFound {
			t.Fatalf("KindOf = %s", KindOf(err))
		}
		if n := dialer.dialCount(name); n != 0 {
			t.Fatalf("Get(%s) dialed %d times", name, n)
		}
	}
	if pool.Len() != 0 {
		t.Fatalf("no entries expected")
	}
}

func TestPoolCloseAllSurvivesCloseErrors(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.closeErr["alpha"] = errors.New("stuck process")
	beta := config.Server{Name: "beta", Command: "cat"}
	pool, _ := newTestPool(t, dialer, alpha, beta)
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta"} {
		if _, err := pool.Get(ctx, name); err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
	}
	if err := pool.CloseAll(ctx); err != nil {
		t.Fatalf("CloseAll returned %v", err)
	}
	if pool.Len() != 0 {
		t.Fatalf("Len after CloseAll = %d", pool.Len())
	}
	for _, s := range dialer.sessions {
		if !s.isClosed() {
			t.Fatalf("session for %s not closed", s.server)
		}
	}

	if _, err := pool.Get(ctx, "alpha"); err != nil {
		t.Fatalf("Get after CloseAll: %v", err)
	}
	if n := dialer.dialCount("alpha"); n != 2 {
		t.Fatalf("dials = %d, expected reconnect after CloseAll", n)
	}
}

func TestPoolOnDemandNeverPooled(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	onDemand := config.Server{Name: "once", Command: "echo", Lifecycle: config.LifecycleOnDemand}
	pool, _ := newTestPool(t, dialer, onDemand)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		var names []string
		err := pool.Use(ctx, "once", func(s Session) error {
			tools, err := s.ListTools(ctx)
			for _, tool := range tools {
				names = append(names, tool.Name)
			}
			return err
		})
		if err != nil {
			t.Fatalf("Use: %v", err)
		}
		if len(names) != 1 || names[0] != "once-tool" {
			t.Fatalf("tools = %v", names)
		}
	}
	if pool.Len() != 0 {
		t.Fatalf("on-demand server was pooled")
	}
	if n := dialer.dialCount("once"); n != 2 {
		t.Fatalf("dials = %d, expected one per Use", n)
	}
	for _, s := range dialer.sessions {
		if !s.isClosed() {
			t.Fatalf("on-demand session left open")
		}
	}
	if _, err := pool.Get(ctx, "once"); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("Get(on-demand) = %v, expected ErrBadRequest", err)
	}
}

func TestPoolEvictsEndedSession(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	pool, _ := newTestPool(t, dialer, alpha)
	ctx := context.Background()

	if _, err := pool.Get(ctx, "alpha"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	dialer.sessions[0].end()

	deadline := time.Now().Add(2 * time.Second)
	for pool.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("ended session was not evicted")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := pool.Get(ctx, "alpha"); err != nil {
		t.Fatalf("Get after eviction: %v", err)
	}
	if n := dialer.dialCount("alpha"); n != 2 {
		t.Fatalf("dials = %d, expected reconnect", n)
	}
}

func TestPoolAbandonedAttemptStillCompletes(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.block = make(chan struct{})
	dialer.started = make(chan string, 1)
	pool, _ := newTestPool(t, dialer, alpha)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := pool.Get(ctx, "alpha")
		errs <- err
	}()
	<-dialer.started
	cancel()
	if err := <-errs; !errors.Is(err, context.Canceled) {
		t.Fatalf("Get after cancel = %v, expected context.Canceled", err)
	}

	close(dialer.block)
	if _, err := pool.Get(context.Background(), "alpha"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if n := dialer.dialCount("alpha"); n != 1 {
		t.Fatalf("dials = %d, abandoned attempt should be reused", n)
	}
}

func TestPoolCloseAllWaitsForUse(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	pool, _ := newTestPool(t, dialer, alpha)
	ctx := context.Background()

	inUse := make(chan struct{})
	finish := make(chan struct{})
	useErr := make(chan error, 1)
	go func() {
		useErr <- pool.Use(ctx, "alpha", func(s Session) error {
			close(inUse)
			<-finish
			if s.(*fakeSession).isClosed() {
				return errors.New("session closed mid-operation")
			}
			return nil
		})
	}()
	<-inUse

	closed := make(chan struct{})
	go func() {
		_ = pool.CloseAll(ctx)
		close(closed)
	}()
	select {
	case <-closed:
		t.Fatalf("CloseAll returned while Use was running")
	case <-time.After(100 * time.Millisecond):
	}

	close(finish)
	if err := <-useErr; err != nil {
		t.Fatalf("Use: %v", err)
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatalf("CloseAll did not finish after Use returned")
	}
	if pool.Len() != 0 || !dialer.session(0).isClosed() {
		t.Fatalf("CloseAll left len=%d", pool.Len())
	}
}

func TestPoolOrphanedAttemptClosesItsSession(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.block = make(chan struct{})
	dialer.started = make(chan string, 1)
	pool, _ := newTestPool(t, dialer, alpha)

	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() {
		_, err := pool.Get(ctx, "alpha")
		errs <- err
	}()
	<-dialer.started
	cancel()
	<-errs

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancelClose()
	if err := pool.CloseAll(closeCtx); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if pool.Len() != 0 {
		t.Fatalf("Len after CloseAll = %d", pool.Len())
	}

	close(dialer.block)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if s := dialer.session(0); s != nil && s.isClosed() {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("orphaned session was not closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if pool.Len() != 0 {
		t.Fatalf("orphaned session entered the pool")
	}
}

func TestPoolSnapshotSorted(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	beta := config.Server{Name: "beta", Command: "cat"}
	pool, _ := newTestPool(t, dialer, beta, alpha)
	ctx := context.Background()
	for _, name := range []string{"beta", "alpha"} {
		if _, err := pool.Get(ctx, name); err != nil {
			t.Fatalf("Get(%s): %v", name, err)
		}
	}
	snap := pool.Snapshot()
	if len(snap) != 2 || snap[0].Name != "alpha" || snap[1].Name != "beta" {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, st := range snap {
		if st.State != StateReady || st.Since.IsZero() {
			t.Fatalf("unexpected entry %+v", st)
		}
	}
}
