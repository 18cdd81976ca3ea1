//go:build !unix

package toolchain

import (
	"os"
	"os/exec"
	"time"
)

func setProcessGroup(*exec.Cmd) {}

func interruptGroup(p *os.Process) error { return p.Kill() }

func stopGroup(p *os.Process, _ time.Duration) { _ = p.Kill() }
