package mcpmgr

import (
	"context"
	"log/slog"

	"github.com/vikashloomba/mcps-go/pkg/config"
)

// ServerSource resolves a server name to a connectable definition. It fails
// with config.ErrServerNotFound or config.ErrServerDisabled, or returns the
// entry's *config.ValidationError.
type ServerSource interface {
	Lookup(name string) (config.Server, error)
}

// Standalone runs fn against a fresh session to the named server and closes
// it afterwards. Nothing is pooled. A nil logger uses slog.Default.
func Standalone(ctx context.Context, source ServerSource, dialer Dialer, name string, logger *slog.Logger, fn func(Session) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	srv, err := source.Lookup(name)
	if err != nil {
		return lookupError(name, err)
	}
	return useOnce(ctx, dialer, srv, logger, fn)
}

func useOnce(ctx context.Context, dialer Dialer, srv config.Server, logger *slog.Logger, fn func(Session) error) error {
	session, err := dialer.Dial(ctx, srv)
	if err != nil {
		return classify(KindConnectionFailed, srv.Name, "", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			logger.Debug("closing session", "server", srv.Name, "error", cerr)
		}
	}()
	return fn(session)
}
