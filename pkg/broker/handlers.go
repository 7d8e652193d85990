package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

type requestLoggerKey struct{}

// withRequestID assigns every request an ID, echoes it in the response, and
// attaches a logger carrying it to the request context.
func (s *Service) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		logger := s.opts.Logger.With("request_id", id)
		logger.Debug("request", "method", r.Method, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestLoggerKey{}, logger)))
	})
}

func (s *Service) requestLogger(r *http.Request) *slog.Logger {
	if logger, ok := r.Context().Value(requestLoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return s.opts.Logger
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	var req ListRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Server == "" {
		s.writeError(w, r, badRequest("server is required"))
		return
	}

	var tools []*mcp.Tool
	err := s.pool.Use(r.Context(), req.Server, func(session mcpmgr.Session) error {
		var err error
		tools, err = session.ListTools(r.Context())
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if tools == nil {
		tools = []*mcp.Tool{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Tools: tools})
}

func (s *Service) handleCall(w http.ResponseWriter, r *http.Request) {
	var req CallRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	switch {
	case req.Server == "":
		s.writeError(w, r, badRequest("server is required"))
		return
	case req.Tool == "":
		s.writeError(w, r, badRequest("tool is required"))
		return
	}

	logger := s.requestLogger(r)
	if s.opts.Verbose {
		logger.Info("tool request", "server", req.Server, "tool", req.Tool, "arguments", req.Arguments)
	}
	var result *mcp.CallToolResult
	err := s.pool.Use(r.Context(), req.Server, func(session mcpmgr.Session) error {
		var err error
		result, err = session.CallTool(r.Context(), req.Tool, req.Arguments)
		return err
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.opts.Verbose {
		logger.Info("tool response", "server", req.Server, "tool", req.Tool, "isError", result.IsError, "result", result)
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Service) handleRestart(w http.ResponseWriter, r *http.Request) {
	logger := s.requestLogger(r)
	// Reload before closing so a request racing the restart cannot pool a
	// session built from the old definitions.
	var reloadErr error
	if s.opts.Reloader != nil {
		if reloadErr = s.opts.Reloader.Reload(); reloadErr != nil {
			logger.Warn("config reload failed", "error", reloadErr)
		}
	}
	closed := s.pool.Len()
	_ = s.pool.CloseAll(r.Context())
	msg := fmt.Sprintf("Restarted: closed %d connection(s)", closed)
	if reloadErr != nil {
		msg += "; config reload failed: " + reloadErr.Error()
	}
	logger.Info("pool restarted", "closed", closed)
	writeJSON(w, http.StatusOK, MessageResponse{Message: msg})
}

func (s *Service) handleShutdown(w http.ResponseWriter, r *http.Request) {
	s.requestLogger(r).Info("shutdown requested")
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Daemon shutting down"})
	s.Stop()
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:        true,
		PID:       os.Getpid(),
		Version:   s.opts.Version,
		Uptime:    s.uptime(),
		StartedAt: s.started,
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		PID:     os.Getpid(),
		Version: s.opts.Version,
		Addr:    s.opts.Addr,
		Uptime:  s.uptime(),
		Servers: s.pool.Snapshot(),
	})
}

func (s *Service) uptime() string {
	return time.Since(s.started).Round(time.Second).String()
}

// decode reads a JSON body into v. An empty body decodes as {}.
func (s *Service) decode(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: " + err.Error())
	}
	return nil
}

func (s *Service) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := mcpmgr.KindOf(err)
	resp := ErrorResponse{Error: err.Error(), Code: kind}
	var merr *mcpmgr.Error
	if errors.As(err, &merr) {
		resp.Server = merr.Server
		resp.Tool = merr.Tool
	}
	status := StatusFor(kind)
	logger := s.requestLogger(r)
	if status >= http.StatusInternalServerError {
		logger.Warn("request failed", "path", r.URL.Path, "status", status, "code", kind, "error", err)
	} else {
		logger.Debug("request rejected", "path", r.URL.Path, "status", status, "code", kind, "error", err)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(msg string) error {
	return &mcpmgr.Error{Kind: mcpmgr.KindBadRequest, Err: errors.New(msg)}
}
