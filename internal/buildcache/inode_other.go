//go:build !unix

package buildcache

import (
	"os"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

type inodeKey struct {
	path string
}

func inodeOf(info os.FileInfo) (inodeKey, error) {
	return inodeKey{}, perrors.New(perrors.SrcStageFailed, "cycle detection requires a POSIX filesystem")
}
