//go:build unix

package lockfile

import (
	"os/user"
	"strconv"
	"syscall"
)

// chownGroup changes path's group to the named POSIX group, leaving its
// owner untouched.
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
