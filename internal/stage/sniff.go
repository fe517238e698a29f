package stage

import (
	"bufio"
	"bytes"
	"io"
)

// Kind is a tagged variant of the compression/archive format a staged file
// was sniffed as, produced by sniff and dispatched on by exactly one
// handler each in stage().
type Kind int

const (
	KindUnknown Kind = iota
	KindTar
	KindTarGz
	KindTarBz2
	KindTarXz
	KindTarLzma
	KindZip
	KindGz
	KindBz2
	KindXz
	KindLzma
	KindCopy
)

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
	xzMagic    = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	zipMagic   = []byte("PK\x03\x04")
	// lzmaMagic matches the legacy ".lzma" alone-format header: a properties
	// byte followed by a 4-byte dictionary size; there is no fixed magic, so
	// lzma detection below falls back to the file extension.
)

const tarMagicOffset = 257

// sniff inspects the first bytes of r (which must support re-reading, so
// callers pass a *bufio.Reader and keep using it afterward) and the
// filename's extension to classify the staged file into a Kind.
func sniff(r *bufio.Reader, name string) (Kind, error) {
	head, err := r.Peek(512)
	if err != nil && err != io.EOF {
		return KindUnknown, err
	}

	switch {
	case bytes.HasPrefix(head, gzipMagic):
		if inner, _ := isTarAfterGunzip(head); inner {
			return KindTarGz, nil
		}
		return KindGz, nil
	case bytes.HasPrefix(head, bzip2Magic):
		if inner, _ := isTarAfterBunzip2(head); inner {
			return KindTarBz2, nil
		}
		return KindBz2, nil
	case bytes.HasPrefix(head, xzMagic):
		if inner, _ := isTarAfterUnxz(head); inner {
			return KindTarXz, nil
		}
		return KindXz, nil
	case bytes.HasPrefix(head, zipMagic):
		return KindZip, nil
	case isTarfile(head):
		return KindTar, nil
	case hasSuffix(name, ".lzma"):
		if inner, _ := isTarAfterUnlzma(head); inner {
			return KindTarLzma, nil
		}
		return KindLzma, nil
	default:
		return KindCopy, nil
	}
}

// isTarfile reports whether head (read from offset 0) carries the ustar
// magic at the fixed tar header offset, mirroring Python's tarfile.is_tarfile
// without requiring a seekable stream.
func isTarfile(head []byte) bool {
	if len(head) < tarMagicOffset+5 {
		return false
	}
	magic := head[tarMagicOffset : tarMagicOffset+5]
	return bytes.Equal(magic, []byte("ustar"))
}

func hasSuffix(name, suffix string) bool {
	return len(name) >= len(suffix) && name[len(name)-len(suffix):] == suffix
}
