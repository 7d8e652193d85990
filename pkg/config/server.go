package config

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Kind identifies how a downstream MCP server is reached.
type Kind string

const (
	KindStdio Kind = "stdio"
	KindSSE   Kind = "sse"
	KindHTTP  Kind = "http"
)

// Lifecycle controls whether the broker keeps a connection open between calls.
type Lifecycle string

const (
	// LifecycleKeepAlive pools the connection across calls. It is the default.
	LifecycleKeepAlive Lifecycle = "keep-alive"
	// LifecycleOnDemand connects for a single request and closes afterwards.
	LifecycleOnDemand Lifecycle = "on-demand"
)

// Server is one named entry of the mcpServers map.
type Server struct {
	Name      string            `json:"-"`
	Type      Kind              `json:"type,omitempty"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
	Lifecycle Lifecycle         `json:"lifecycle,omitempty"`
	Timeout   string            `json:"timeout,omitempty"`
}

// Kind derives the transport family. An explicit type wins for URL-based
// servers; otherwise a path ending in /sse selects SSE.
func (s Server) Kind() Kind {
	if s.Command != "" {
		return KindStdio
	}
	switch s.Type {
	case KindSSE, KindHTTP:
		return s.Type
	}
	if strings.HasSuffix(strings.TrimRight(strings.TrimSpace(s.URL), "/"), "/sse") {
		return KindSSE
	}
	return KindHTTP
}

// EffectiveLifecycle returns the lifecycle with the keep-alive default applied.
func (s Server) EffectiveLifecycle() Lifecycle {
	if s.Lifecycle == "" {
		return LifecycleKeepAlive
	}
	return s.Lifecycle
}

// TimeoutDuration parses Timeout. Zero means "use the caller's default".
func (s Server) TimeoutDuration() time.Duration {
	if s.Timeout == "" {
		return 0
	}
	d, err := time.ParseDuration(s.Timeout)
	if err != nil || d <= 0 {
		return 0
	}
	return d
}

// Target renders the command line or URL for display.
func (s Server) Target() string {
	if s.Command != "" {
		return strings.TrimSpace(s.Command + " " + strings.Join(s.Args, " "))
	}
	return s.URL
}

// Validate checks the definition and returns a *ValidationError describing the
// first problem found.
func (s Server) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return &ValidationError{Server: s.Name, Field: "name", Reason: "must not be empty"}
	}
	switch s.Type {
	case "", KindStdio, KindSSE, KindHTTP:
	default:
		return &ValidationError{Server: s.Name, Field: "type", Reason: fmt.Sprintf("unknown type %q (valid: stdio, sse, http)", s.Type)}
	}
	hasCommand := strings.TrimSpace(s.Command) != ""
	hasURL := strings.TrimSpace(s.URL) != ""
	switch {
	case hasCommand && hasURL:
		return &ValidationError{Server: s.Name, Field: "command", Reason: "command and url are mutually exclusive"}
	case !hasCommand && !hasURL:
		if s.Type == KindSSE || s.Type == KindHTTP {
			return &ValidationError{Server: s.Name, Field: "url", Reason: fmt.Sprintf("url is required for %s servers", s.Type)}
		}
		return &ValidationError{Server: s.Name, Field: "command", Reason: "command is required for stdio servers"}
	case hasCommand && (s.Type == KindSSE || s.Type == KindHTTP):
		return &ValidationError{Server: s.Name, Field: "type", Reason: fmt.Sprintf("%s servers take a url, not a command", s.Type)}
	case hasURL && s.Type == KindStdio:
		return &ValidationError{Server: s.Name, Field: "type", Reason: "stdio servers take a command, not a url"}
	}
	if hasURL {
		u, err := url.Parse(s.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Server: s.Name, Field: "url", Reason: fmt.Sprintf("%q is not an http(s) URL", s.URL)}
		}
	}
	switch s.Lifecycle {
	case "", LifecycleKeepAlive, LifecycleOnDemand:
	default:
		return &ValidationError{Server: s.Name, Field: "lifecycle", Reason: fmt.Sprintf("unknown lifecycle %q (valid: keep-alive, on-demand)", s.Lifecycle)}
	}
	if s.Timeout != "" {
		d, err := time.ParseDuration(s.Timeout)
		if err != nil || d <= 0 {
			return &ValidationError{Server: s.Name, Field: "timeout", Reason: fmt.Sprintf("%q is not a positive duration", s.Timeout)}
		}
	}
	return nil
}

// ServerUpdate carries the fields of an update; nil fields are left alone.
type ServerUpdate struct {
	Command *string
	Args    []string
	URL     *string
	Env     map[string]string
}

func (u ServerUpdate) empty() bool {
	return u.Command == nil && u.Args == nil && u.URL == nil && u.Env == nil
}

func (u ServerUpdate) apply(s Server) Server {
	if u.Command != nil {
		s.Command = *u.Command
		if s.Command != "" {
			s.URL = ""
			if s.Type != KindStdio {
				s.Type = ""
			}
		}
	}
	if u.Args != nil {
		s.Args = append([]string(nil), u.Args...)
	}
	if u.URL != nil {
		s.URL = *u.URL
		if s.URL != "" {
			s.Command = ""
			s.Args = nil
			if s.Type == KindStdio {
				s.Type = ""
			}
		}
	}
	if u.Env != nil {
		s.Env = cloneStrings(u.Env)
	}
	return s
}

func (s Server) clone() Server {
	out := s
	out.Args = append([]string(nil), s.Args...)
	out.Env = cloneStrings(s.Env)
	out.Headers = cloneStrings(s.Headers)
	return out
}

func cloneStrings(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedNames[V any](m map[string]V) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
