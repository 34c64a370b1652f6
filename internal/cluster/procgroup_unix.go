//go:build unix

package cluster

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func killProcessGroup(proc *exec.Cmd) {
	proc.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	proc.Cancel = func() error {
		if proc.Process == nil {
			return nil
		}
		err := syscall.Kill(-proc.Process.Pid, syscall.SIGKILL)
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
}
