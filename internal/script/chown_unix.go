//go:build unix

package script

import (
	"os/user"
	"strconv"
	"syscall"
)

func chownGroup(path, group string) error {
	g, err := user.LookupGroup(group)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(g.Gid)
	if err != nil {
		return err
	}
	return syscall.Chown(path, -1, gid)
}
