//go:build unix

package buildcache

import (
	"os"
	"syscall"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// inodeKey identifies a directory across symlink traversal for cycle
// detection in symlinkCopyTree.
type inodeKey struct {
	dev uint64
	ino uint64
}

func inodeOf(info os.FileInfo) (inodeKey, error) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return inodeKey{}, perrors.New(perrors.SrcStageFailed, "cannot determine inode identity on this platform")
	}
	return inodeKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}
