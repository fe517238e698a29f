//go:build unix

package procexec

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup puts the child in its own process group so a
// silence-timeout kill can target the whole group, not just the immediate
// child (which is typically a shell with its own children).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup sends SIGKILL to the process's group so a supervised
// shell script's own children are reaped along with it, falling back to
// killing just the process if the group signal fails.
func killProcessGroup(p *os.Process) {
	if p == nil {
		return
	}
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		p.Kill()
	}
}
