//go:build windows

package sandbox

import "os/exec"

func setupProcessGroup(cmd *exec.Cmd) {}
