package mcpmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

// EntryState represents the lifecycle of a pooled connection.
type EntryState string

const (
	StateConnecting EntryState = "connecting"
	StateReady      EntryState = "ready"
	StateFailed     EntryState = "failed"
)

// errOnDemand is returned by Get for servers that must not be pooled.
var errOnDemand = errors.New("server uses the on-demand lifecycle; use Pool.Use")

// EntryStatus is a snapshot of one pool entry.
type EntryStatus struct {
	Name  string     `json:"name"`
	State EntryState `json:"state"`
	Since time.Time  `json:"since"`
}

// Pool keeps at most one live session per server name. Concurrent requests
// for the same unconnected server share a single connect attempt; failed
// attempts are dropped so the next request tries again.
type Pool struct {
	source ServerSource
	dialer Dialer
	logger *slog.Logger

	// gate is held shared by Get and Use and exclusively by CloseAll, so a
	// restart never closes a session that is in use.
	gate sync.RWMutex

	mu      sync.Mutex
	entries map[string]*poolEntry
}

type poolEntry struct {
	state   EntryState
	session Session
	err     error
	since   time.Time
	// done is closed by the connect goroutine once state leaves connecting.
	done chan struct{}
}

// NewPool constructs an empty Pool. Connections are made lazily.
func NewPool(source ServerSource, dialer Dialer, opts *PoolOptions) *Pool {
	o := opts.normalized()
	return &Pool{
		source:  source,
		dialer:  dialer,
		logger:  o.Logger,
		entries: make(map[string]*poolEntry),
	}
}

// Get returns the pooled session for name, connecting if needed. The session
// stays owned by the pool; callers must not close it. Prefer Use, which also
// keeps CloseAll from closing the session mid-operation.
func (p *Pool) Get(ctx context.Context, name string) (Session, error) {
	p.gate.RLock()
	defer p.gate.RUnlock()
	srv, err := p.resolve(name)
	if err != nil {
		return nil, err
	}
	if srv.EffectiveLifecycle() == config.LifecycleOnDemand {
		return nil, &Error{Kind: KindBadRequest, Server: name, Err: errOnDemand}
	}
	return p.acquire(ctx, srv)
}

// Use runs fn with a session for name. Keep-alive servers use the pooled
// session; on-demand servers get a fresh session that is closed when fn
// returns and never enters the pool.
func (p *Pool) Use(ctx context.Context, name string, fn func(Session) error) error {
	p.gate.RLock()
	defer p.gate.RUnlock()
	srv, err := p.resolve(name)
	if err != nil {
		return err
	}
	if srv.EffectiveLifecycle() == config.LifecycleOnDemand {
		return useOnce(ctx, p.dialer, srv, p.logger, fn)
	}
	session, err := p.acquire(ctx, srv)
	if err != nil {
		return err
	}
	return fn(session)
}

func (p *Pool) resolve(name string) (config.Server, error) {
	srv, err := p.source.Lookup(name)
	if err != nil {
		return config.Server{}, lookupError(name, err)
	}
	return srv, nil
}

// acquire must be called with the gate held shared.
func (p *Pool) acquire(ctx context.Context, srv config.Server) (Session, error) {
	name := srv.Name

	p.mu.Lock()
	e, ok := p.entries[name]
	if ok && e.state == StateReady {
		session := e.session
		p.mu.Unlock()
		return session, nil
	}
	if !ok {
		e = &poolEntry{state: StateConnecting, since: time.Now(), done: make(chan struct{})}
		p.entries[name] = e
		go p.connect(ctx, srv, e)
	}
	done := e.done
	p.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, classify(KindConnectionFailed, name, "", ctx.Err())
	case <-done:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return e.session, nil
}

// connect runs one attempt detached from the caller, so a caller that stops
// waiting does not abort it.
func (p *Pool) connect(ctx context.Context, srv config.Server, e *poolEntry) {
	name := srv.Name
	session, err := p.dialer.Dial(context.WithoutCancel(ctx), srv)

	p.mu.Lock()
	current := p.entries[name] == e
	if err != nil {
		e.state = StateFailed
		e.err = classify(KindConnectionFailed, name, "", err)
		if current {
			delete(p.entries, name)
		}
	} else {
		e.state = StateReady
		e.session = session
		e.since = time.Now()
	}
	close(e.done)
	p.mu.Unlock()

	switch {
	case err != nil:
		p.logger.Warn("connect failed", "server", name, "error", err)
	case !current:
		// The pool was cleared while this attempt ran.
		if cerr := session.Close(); cerr != nil {
			p.logger.Debug("closing orphaned session", "server", name, "error", cerr)
		}
	default:
		p.logger.Info("connected", "server", name)
		if w, ok := session.(waiter); ok {
			go p.monitorSession(name, e, w)
		}
	}
}

// monitorSession evicts e once its downstream session ends on its own.
func (p *Pool) monitorSession(name string, e *poolEntry, w waiter) {
	err := w.Wait()
	p.mu.Lock()
	evicted := p.entries[name] == e
	if evicted {
		delete(p.entries, name)
	}
	p.mu.Unlock()
	if evicted {
		p.logger.Info("session ended; evicted from pool", "server", name, "error", err)
	}
}

// CloseAll closes every pooled session and empties the pool. It waits for
// running connect attempts first, bounded by ctx. Close failures are logged
// and never returned.
func (p *Pool) CloseAll(ctx context.Context) error {
	p.gate.Lock()
	defer p.gate.Unlock()

	p.mu.Lock()
	var pending []chan struct{}
	for _, e := range p.entries {
		if e.state == StateConnecting {
			pending = append(pending, e.done)
		}
	}
	p.mu.Unlock()

wait:
	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			p.logger.Warn("connect attempts still running during close", "error", ctx.Err())
			break wait
		}
	}

	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]*poolEntry)
	sessions := make(map[string]Session, len(entries))
	for name, e := range entries {
		if e.state == StateReady && e.session != nil {
			sessions[name] = e.session
		}
	}
	p.mu.Unlock()

	var errs []error
	for _, name := range sortedKeys(sessions) {
		if err := sessions[name].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		p.logger.Warn("closing pooled sessions", "error", err)
	}
	p.logger.Info("pool cleared", "closed", len(sessions))
	return nil
}

// Snapshot lists the current entries sorted by name.
func (p *Pool) Snapshot() []EntryStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EntryStatus, 0, len(p.entries))
	for _, name := range sortedKeys(p.entries) {
		e := p.entries[name]
		out = append(out, EntryStatus{Name: name, State: e.state, Since: e.since})
	}
	return out
}

// Len returns the number of entries, connecting or ready.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
