//go:build unix

package execution

import (
	"os/exec"
	"syscall"
)

// isolate puts the child in its own process group and makes cancellation
// kill the whole group, so grandchildren do not outlive a timeout.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// killGroup kills every process left in the group led by pgid. A group
// that is already empty reports ESRCH, which is the expected case.
func killGroup(pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}
