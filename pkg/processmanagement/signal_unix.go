//go:build unix

package processmanagement

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Workers lead their own process group so helpers they spawn are signalled with them
func setProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func terminateProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGTERM)
}

func killProcess(cmd *exec.Cmd) error {
	return signalGroup(cmd, unix.SIGKILL)
}

func signalGroup(cmd *exec.Cmd, sig unix.Signal) error {
	pid := cmd.Process.Pid
	err := unix.Kill(-pid, sig)
	if err == unix.ESRCH {
		// Group already gone, fall back to the leader alone
		err = unix.Kill(pid, sig)
		if err == unix.ESRCH {
			return nil
		}
	}
	return err
}
