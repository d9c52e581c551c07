//go:build !linux

package procpool

import "os/exec"

// setProcAttr is a no-op outside Linux: process-group isolation here is
// best-effort only, since the pool's primary deployment target is Linux.
func setProcAttr(cmd *exec.Cmd) {}

// terminateGroup falls back to killing the direct child only.
func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
