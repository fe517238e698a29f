package stage

import (
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// isTarAfterGunzip decompresses the (partial) compressed head and checks for
// the tar magic in the decompressed prefix. A partial gzip stream is
// expected to yield a read error once its buffered output is exhausted;
// that is not itself a sniff failure.
func isTarAfterGunzip(head []byte) (bool, error) {
	zr, err := gzip.NewReader(bytes.NewReader(head))
	if err != nil {
		return false, nil
	}
	defer zr.Close()
	return peekTarMagic(zr)
}

func isTarAfterBunzip2(head []byte) (bool, error) {
	return peekTarMagic(bzip2.NewReader(bytes.NewReader(head)))
}

func isTarAfterUnxz(head []byte) (bool, error) {
	zr, err := xz.NewReader(bytes.NewReader(head))
	if err != nil {
		return false, nil
	}
	return peekTarMagic(zr)
}

func isTarAfterUnlzma(head []byte) (bool, error) {
	zr, err := lzma.NewReader(bytes.NewReader(head))
	if err != nil {
		return false, nil
	}
	return peekTarMagic(zr)
}

// peekTarMagic reads up to tarMagicOffset+5 bytes from r and checks for the
// ustar magic, tolerating a short/erroring read since r is fed only a
// partial compressed prefix.
func peekTarMagic(r io.Reader) (bool, error) {
	buf := make([]byte, tarMagicOffset+5)
	n, _ := io.ReadFull(r, buf)
	return isTarfile(buf[:n]), nil
}
