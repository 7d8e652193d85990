package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/cors"

	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// Service serves the control API for one Pool. The pool is owned by the
// caller and closed by the Service when serving stops.
type Service struct {
	pool    *mcpmgr.Pool
	opts    Options
	started time.Time
	handler http.Handler

	stopOnce sync.Once
	stop     chan struct{}

	httpServerMu sync.Mutex
	httpServer   *http.Server
}

// NewService builds a Service around pool. The listen address must be a
// loopback address.
func NewService(pool *mcpmgr.Pool, opts *Options) (*Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("broker: pool is required")
	}
	options := opts.withDefaults()
	if err := checkLoopback(options.Addr); err != nil {
		return nil, err
	}
	s := &Service{
		pool:    pool,
		opts:    options,
		started: time.Now(),
		stop:    make(chan struct{}),
	}
	s.handler = s.mountHandler()
	return s, nil
}

// Handler exposes the HTTP handler serving the control API.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Done is closed once a stop was requested through /shutdown or Stop.
func (s *Service) Done() <-chan struct{} {
	return s.stop
}

// Stop asks a running ListenAndServe or Serve to return.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// ListenAndServe listens on Options.Addr and serves until ctx is cancelled
// or a stop is requested.
func (s *Service) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("broker: listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled or a stop is requested, then
// shuts the HTTP server down gracefully and closes every pooled session.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.httpServerMu.Lock()
	if s.httpServer != nil {
		serv := s.httpServer
		s.httpServerMu.Unlock()
		_ = ln.Close()
		return fmt.Errorf("broker: server already running on %s", serv.Addr)
	}
	srv := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = srv
	s.httpServerMu.Unlock()
	defer func() {
		s.httpServerMu.Lock()
		if s.httpServer == srv {
			s.httpServer = nil
		}
		s.httpServerMu.Unlock()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.opts.Logger.Info("control API listening", "addr", srv.Addr, "version", s.opts.Version)

	var serveErr error
	select {
	case <-ctx.Done():
		s.opts.Logger.Info("stopping", "reason", ctx.Err())
	case <-s.stop:
		s.opts.Logger.Info("stopping", "reason", "shutdown requested")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logError("http shutdown", err)
	}
	_ = s.pool.CloseAll(shutdownCtx)
	return serveErr
}

func (s *Service) mountHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathList, s.handleList)
	mux.HandleFunc("POST "+PathCall, s.handleCall)
	mux.HandleFunc("POST "+PathRestart, s.handleRestart)
	mux.HandleFunc("POST "+PathShutdown, s.handleShutdown)
	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
	mux.HandleFunc("GET "+PathStatus, s.handleStatus)

	c := cors.New(cors.Options{
		AllowOriginFunc: isLoopbackOrigin,
		AllowedMethods:  []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:  []string{"Content-Type", RequestIDHeader},
		ExposedHeaders:  []string{RequestIDHeader},
	})
	return s.withRequestID(c.Handler(mux))
}

func (s *Service) logError(msg string, err error, args ...any) {
	if err == nil {
		return
	}
	attrs := append([]any{"error", err}, args...)
	s.opts.Logger.Error(msg, attrs...)
}

func checkLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("broker: invalid listen address %q: %w", addr, err)
	}
	if !isLoopbackHost(host) {
		return fmt.Errorf("broker: listen address %q is not loopback", addr)
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(strings.Trim(host, "[]"))
	return ip != nil && ip.IsLoopback()
}

func isLoopbackOrigin(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return isLoopbackHost(u.Hostname())
}
