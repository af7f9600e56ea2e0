//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// setProcessGroup starts the tool in its own process group so cancellation
// kills any helpers it spawned (ffmpeg, imagemagick) along with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
