//go:build windows

package commands

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func killProcessTree(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(cmd.Process.Pid)).Run(); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

// reapProcessGroup is a no-op: once the script is waited for its pid may be reused, so
// taskkill /T could hit an unrelated tree.
func reapProcessGroup(*exec.Cmd) {}

// exitedOnItsOwn cannot tell a normal exit from TerminateProcess, so only the kill
// flag decides.
func exitedOnItsOwn(*os.ProcessState) bool {
	return false
}
