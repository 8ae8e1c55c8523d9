//go:build linux

package transport

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Children die with the coordinator instead of lingering as orphans.
func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: unix.SIGKILL}
}
