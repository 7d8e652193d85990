//go:build windows

package daemon

import "os/exec"

// Windows has no Setsid; a started process already outlives its parent.
func configureDaemonProc(cmd *exec.Cmd) {}
