//go:build !windows

package jobmanager

import (
	"os/exec"
	"syscall"
)

// setProcessGroup puts the renderer in its own process group so Abort can
// signal the whole subtree with a single negative-pid kill, matching the
// "tree-kill" step of §4.5.3 without needing to enumerate /proc by hand.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killTree sends sig to the process group led by pid.
func killTree(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// pidAlive reports whether pid is still running.
func pidAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
