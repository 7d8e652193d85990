package mcpmgr

import (
	"errors"
	"fmt"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

// Kind classifies a failure so every layer (pool, control API, CLI exit code)
// can react to it without string matching.
type Kind string

const (
	KindServerNotFound    Kind = "server_not_found"
	KindDaemonUnavailable Kind = "daemon_unavailable"
	KindConnectionFailed  Kind = "connection_failed"
	KindToolInvocation    Kind = "tool_invocation_failed"
	KindConfigInvalid     Kind = "config_invalid"
	KindDownstream        Kind = "downstream_error"
	KindBadRequest        Kind = "bad_request"
	KindInternal          Kind = "internal"
)

func (k Kind) phrase() string {
	switch k {
	case KindServerNotFound:
		return "server not found"
	case KindDaemonUnavailable:
		return "daemon unavailable"
	case KindConnectionFailed:
		return "connection failed"
	case KindToolInvocation:
		return "tool invocation failed"
	case KindConfigInvalid:
		return "invalid configuration"
	case KindDownstream:
		return "downstream error"
	case KindBadRequest:
		return "bad request"
	default:
		return "internal error"
	}
}

// Error is a classified failure. Server and Tool name the target when known.
type Error struct {
	Kind   Kind
	Server string
	Tool   string
	Err    error
}

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrServerNotFound    = &Error{Kind: KindServerNotFound}
	ErrDaemonUnavailable = &Error{Kind: KindDaemonUnavailable}
	ErrConnectionFailed  = &Error{Kind: KindConnectionFailed}
	ErrToolInvocation    = &Error{Kind: KindToolInvocation}
	ErrConfigInvalid     = &Error{Kind: KindConfigInvalid}
	ErrDownstream        = &Error{Kind: KindDownstream}
	ErrBadRequest        = &Error{Kind: KindBadRequest}
)

func (e *Error) Error() string {
	switch {
	case e.Server == "" && e.Tool == "":
		if e.Err != nil {
			return e.Err.Error()
		}
		return e.Kind.phrase()
	case e.Tool != "":
		return e.wrap(fmt.Sprintf("server %q: tool %q: %s", e.Server, e.Tool, e.Kind.phrase()))
	default:
		return e.wrap(fmt.Sprintf("server %q: %s", e.Server, e.Kind.phrase()))
	}
}

func (e *Error) wrap(prefix string) string {
	if e.Err == nil {
		return prefix
	}
	return prefix + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a sentinel of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Err != nil || t.Server != "" || t.Tool != "" {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf classifies err. Store errors map to server_not_found and
// config_invalid; anything unclassified is internal. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	var verr *config.ValidationError
	switch {
	case errors.Is(err, config.ErrServerNotFound), errors.Is(err, config.ErrServerDisabled):
		return KindServerNotFound
	case errors.As(err, &verr):
		return KindConfigInvalid
	}
	return KindInternal
}

// classify attaches kind and target to err unless it is already classified.
func classify(kind Kind, server, tool string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Server: server, Tool: tool, Err: err}
}

// lookupError classifies a store lookup failure.
func lookupError(server string, err error) error {
	return classify(KindOf(err), server, "", err)
}
