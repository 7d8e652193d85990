package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcps-go/pkg/config"
	"github.com/vikashloomba/mcps-go/pkg/mcpmgr"
)

// Process exit codes.
const (
	exitOK         = 0
	exitFailure    = 1
	exitUsage      = 2
	exitNotFound   = 3
	exitDaemon     = 4
	exitConnect    = 5
	exitTool       = 6
	exitConfig     = 7
	exitDownstream = 8
)

// usageError marks invalid command-line input.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }
func (e *usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// usageArgs wraps a cobra positional-args validator so its failures exit
// with the usage code.
func usageArgs(validate cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate(cmd, args); err != nil {
			return &usageError{err: err}
		}
		return nil
	}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var uerr *usageError
	if errors.As(err, &uerr) || errors.Is(err, config.ErrNoUpdates) {
		return exitUsage
	}
	switch mcpmgr.KindOf(err) {
	case mcpmgr.KindServerNotFound:
		return exitNotFound
	case mcpmgr.KindDaemonUnavailable:
		return exitDaemon
	case mcpmgr.KindConnectionFailed:
		return exitConnect
	case mcpmgr.KindToolInvocation:
		return exitTool
	case mcpmgr.KindConfigInvalid:
		return exitConfig
	case mcpmgr.KindDownstream:
		return exitDownstream
	case mcpmgr.KindBadRequest:
		return exitUsage
	}
	return exitFailure
}
