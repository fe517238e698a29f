//go:build !unix

package procexec

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(p *os.Process) {
	if p != nil {
		p.Kill()
	}
}
