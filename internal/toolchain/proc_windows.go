//go:build windows

package toolchain

import "os/exec"

// setProcessGroup is a no-op on Windows; the default context cancellation
// kills the direct child only.
func setProcessGroup(cmd *exec.Cmd) {}
