//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// setupProcessGroup runs the tool in its own process group and kills the
// whole group on cancellation, so interpreters that fork workers do not leave
// orphans holding the output pipes.
func setupProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
