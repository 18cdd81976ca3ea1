//go:build unix

package toolchain

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// setProcessGroup starts cmd as the leader of a new process group so the
// whole tree it spawns can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func interruptGroup(p *os.Process) error {
	return syscall.Kill(-p.Pid, syscall.SIGINT)
}

// stopGroup waits up to grace for every member of p's group to exit, then
// kills whatever is left.
func stopGroup(p *os.Process, grace time.Duration) {
	if waitGroupExit(p.Pid, grace) {
		return
	}
	_ = syscall.Kill(-p.Pid, syscall.SIGKILL)
	waitGroupExit(p.Pid, time.Second)
}

func waitGroupExit(pgid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if err := syscall.Kill(-pgid, 0); errors.Is(err, syscall.ESRCH) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}
