//go:build unix

package toolchain

import (
	"os/exec"
	"syscall"
)

// setProcessGroup places the subprocess in its own process group and makes
// context cancellation kill the whole group, so cancelled builds leave no
// orphaned workers behind.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}

		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
