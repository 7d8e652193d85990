package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// FileName is the name of the server definition file inside the config dir.
const FileName = "mcp.json"

// fileFormat is the standard MCP client configuration layout.
type fileFormat struct {
	MCPServers map[string]json.RawMessage `json:"mcpServers"`
}

type legacyFormat struct {
	Servers []json.RawMessage `json:"servers"`
}

// serverKeys are the entry fields Server owns. Other keys in an entry belong
// to other MCP clients and are carried through rewrites.
var serverKeys = []string{"type", "command", "args", "env", "url", "headers", "disabled", "lifecycle", "timeout"}

// Store persists named server definitions in <dir>/mcp.json. It is loaded
// once on Open and written on every mutation. Entries are kept as read, so a
// mutation rewrites only the entry it touches; invalid entries survive.
type Store struct {
	mu      sync.RWMutex
	path    string
	logger  *slog.Logger
	servers map[string]Server
	invalid map[string]error
	raw     map[string]json.RawMessage
}

// Open loads the store from dir, creating nothing until the first mutation.
// A missing file yields an empty store.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		path:   filepath.Join(dir, FileName),
		logger: logger,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Reload re-reads the backing file, replacing the in-memory view.
func (s *Store) Reload() error {
	servers, invalid, raw, err := s.read()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.servers = servers
	s.invalid = invalid
	s.raw = raw
	s.mu.Unlock()
	return nil
}

func (s *Store) read() (map[string]Server, map[string]error, map[string]json.RawMessage, error) {
	servers := make(map[string]Server)
	invalid := make(map[string]error)
	raw := make(map[string]json.RawMessage)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return servers, invalid, raw, nil
	}
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: read %s: %w", s.path, err)
	}

	var file fileFormat
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nil, nil, fmt.Errorf("config: parse %s: %w", s.path, err)
	}
	if file.MCPServers == nil {
		var legacy legacyFormat
		if json.Unmarshal(data, &legacy) == nil && legacy.Servers != nil {
			s.logger.Warn("ignoring legacy config format; move entries under \"mcpServers\"", "path", s.path)
		}
		return servers, invalid, raw, nil
	}

	for name, entry := range file.MCPServers {
		raw[name] = entry
		var srv Server
		if err := json.Unmarshal(entry, &srv); err != nil {
			invalid[name] = &ValidationError{Server: name, Field: "definition", Reason: err.Error()}
			continue
		}
		srv.Name = name
		if err := srv.Validate(); err != nil {
			invalid[name] = err
			s.logger.Warn("invalid server definition", "server", name, "error", err)
			continue
		}
		servers[name] = srv
	}
	return servers, invalid, raw, nil
}

// Server returns the definition for name, or false when it is absent or
// invalid. Disabled servers are returned; filtering is the caller's job.
func (s *Store) Server(name string) (Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.servers[name]
	if !ok {
		return Server{}, false
	}
	return srv.clone(), true
}

// Lookup resolves a server that may be connected to. It fails with
// ErrServerNotFound, ErrServerDisabled, or the entry's *ValidationError.
func (s *Store) Lookup(name string) (Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err, ok := s.invalid[name]; ok {
		return Server{}, err
	}
	srv, ok := s.servers[name]
	if !ok {
		return Server{}, fmt.Errorf("%w: %q", ErrServerNotFound, name)
	}
	if srv.Disabled {
		return Server{}, fmt.Errorf("%w: %q", ErrServerDisabled, name)
	}
	return srv.clone(), nil
}

// Servers lists every valid definition, including disabled ones, sorted by name.
func (s *Store) Servers() []Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Server, 0, len(s.servers))
	for _, name := range sortedNames(s.servers) {
		out = append(out, s.servers[name].clone())
	}
	return out
}

// Invalid returns the validation failures found during the last load.
func (s *Store) Invalid() map[string]error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]error, len(s.invalid))
	for name, err := range s.invalid {
		out[name] = err
	}
	return out
}

// Add validates and stores a new definition.
func (s *Store) Add(srv Server) error {
	if err := srv.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.servers[srv.Name]; ok {
		return fmt.Errorf("%w: %q", ErrServerExists, srv.Name)
	}
	if _, ok := s.invalid[srv.Name]; ok {
		return fmt.Errorf("%w: %q", ErrServerExists, srv.Name)
	}
	next := s.copyLocked()
	next[srv.Name] = srv.clone()
	return s.commitLocked(next, srv.Name)
}

// Update applies the non-nil fields of u to the named server. The disabled
// flag and lifecycle are preserved.
func (s *Store) Update(name string, u ServerUpdate) error {
	if u.empty() {
		return ErrNoUpdates
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.servers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrServerNotFound, name)
	}
	updated := u.apply(cur.clone())
	if err := updated.Validate(); err != nil {
		return err
	}
	next := s.copyLocked()
	next[name] = updated
	return s.commitLocked(next, name)
}

// Remove deletes the named server.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.servers[name]
	_, bad := s.invalid[name]
	if !ok && !bad {
		return fmt.Errorf("%w: %q", ErrServerNotFound, name)
	}
	next := s.copyLocked()
	delete(next, name)
	return s.commitLocked(next, name)
}

// SetDisabled toggles the disabled flag of the named server.
func (s *Store) SetDisabled(name string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.servers[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrServerNotFound, name)
	}
	if cur.Disabled == disabled {
		return nil
	}
	cur.Disabled = disabled
	next := s.copyLocked()
	next[name] = cur
	return s.commitLocked(next, name)
}

// Save rewrites the backing file from the in-memory view.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(s.raw)
}

func (s *Store) copyLocked() map[string]Server {
	next := make(map[string]Server, len(s.servers)+1)
	for name, srv := range s.servers {
		next[name] = srv
	}
	return next
}

// commitLocked writes next to disk and swaps it in only when the write
// succeeded. Only the changed entry is re-encoded; a name missing from next
// is removed from the file.
func (s *Store) commitLocked(next map[string]Server, changed string) error {
	entries := make(map[string]json.RawMessage, len(s.raw)+1)
	for name, entry := range s.raw {
		if name != changed {
			entries[name] = entry
		}
	}
	if srv, ok := next[changed]; ok {
		entry, err := mergeEntry(s.raw[changed], srv)
		if err != nil {
			return fmt.Errorf("config: encode %q: %w", changed, err)
		}
		entries[changed] = entry
	}
	if err := s.write(entries); err != nil {
		return err
	}
	s.servers = next
	s.raw = entries
	delete(s.invalid, changed)
	return nil
}

// mergeEntry encodes srv over orig, keeping the keys Server does not own.
func mergeEntry(orig json.RawMessage, srv Server) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(orig) > 0 && json.Unmarshal(orig, &fields) != nil {
		fields = map[string]json.RawMessage{}
	}
	for _, key := range serverKeys {
		delete(fields, key)
	}
	encoded, err := json.Marshal(srv)
	if err != nil {
		return nil, err
	}
	var known map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &known); err != nil {
		return nil, err
	}
	for key, value := range known {
		fields[key] = value
	}
	return json.Marshal(fields)
}

func (s *Store) write(entries map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(fileFormat{MCPServers: entries}, "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("config: write %s: %w", s.path, err)
	}
	return nil
}
