//go:build !windows

package commands

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the script in its own process group so children it spawns
// can be killed with it.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// reapProcessGroup kills whatever is left in the script's process group once the
// script itself has been waited for.
func reapProcessGroup(cmd *exec.Cmd) {
	_ = killProcessTree(cmd)
}

// exitedOnItsOwn reports a normal exit; a process ended by a signal did not
func exitedOnItsOwn(state *os.ProcessState) bool {
	return state != nil && state.Exited()
}
