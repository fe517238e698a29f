//go:build !unix

package script

import "errors"

func chownGroup(path, group string) error {
	return errors.New("group ownership is not supported on this platform")
}
