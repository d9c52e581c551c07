//go:build linux

package procpool

import (
	"os/exec"
	"syscall"
)

// setProcAttr isolates the child into its own process group and arranges
// for it to receive SIGKILL if this process dies first, so a crash of the
// pool never leaves grandchildren running unsupervised.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// terminateGroup forcibly kills cmd's entire process group, not just the
// direct child, so any children it spawned are reaped along with it.
func terminateGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}
