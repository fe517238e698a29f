//go:build !unix

package lockfile

import "errors"

func chownGroup(path, group string) error {
	return errors.New("group ownership is not supported on this platform")
}
