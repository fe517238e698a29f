// Package hashutil provides the deterministic hashing primitives that feed
// build fingerprint computation: config-dictionary hashing, file content
// hashing, and a cheap non-content directory "summary" used in place of an
// exhaustive content hash for large source trees.
package hashutil

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// blockSize matches hashFile's 4 MiB read chunk from spec 4.4.
const blockSize = 4 << 20

// HashConfig canonically hashes a decoded-JSON-shaped value: maps are
// recursed into with keys sorted lexicographically, slices are folded in
// order, and strings contribute their UTF-8 bytes. The result is stable
// across key reordering and insensitive to anything not encoded in the
// value itself.
func HashConfig(v interface{}) [32]byte {
	h := sha256.New()
	foldValue(h, v)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func foldValue(h io.Writer, v interface{}) {
	switch t := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			io.WriteString(h, k)
			foldValue(h, t[k])
		}
	case []interface{}:
		for _, e := range t {
			foldValue(h, e)
		}
	case string:
		io.WriteString(h, t)
	case nil:
		// contributes nothing, matching an absent key
	default:
		fmt.Fprintf(h, "%v", t)
	}
}

// HashFile computes the SHA-256 of path's contents, read in blockSize
// chunks so hashing a large staged source doesn't require loading it whole.
func HashFile(path string) ([32]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, perrors.Wrapf(perrors.SrcStageFailed, err, "hash file %q", path)
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return [32]byte{}, perrors.Wrapf(perrors.SrcStageFailed, err, "hash file %q", path)
	}
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out, nil
}

// TouchDirToLatest sets dir's own mtime to the maximum mtime found among
// all entries beneath it (including itself), so a later SummarizeDir call
// observes a single timestamp that changes whenever anything inside
// changed.
func TouchDirToLatest(dir string) error {
	latest, err := latestModTime(dir)
	if err != nil {
		return perrors.Wrapf(perrors.SrcStageFailed, err, "scan %q for mtime", dir)
	}
	if err := os.Chtimes(dir, latest, latest); err != nil {
		return perrors.Wrapf(perrors.SrcStageFailed, err, "touch %q", dir)
	}
	return nil
}

func latestModTime(root string) (time.Time, error) {
	var latest time.Time
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if mt := info.ModTime(); mt.After(latest) {
			latest = mt
		}
		return nil
	})
	return latest, err
}

// SummarizeDir is NOT a content hash. It first calls TouchDirToLatest, then
// returns "<path> <mtime>" with the mtime in seconds to five decimal
// places, matching spec 4.4's
// deliberate timestamp-summarized shortcut for large source trees: callers
// that need content-strict invalidation must copy into the archive path
// instead of pointing at a live directory.
func SummarizeDir(path string) ([]byte, error) {
	if err := TouchDirToLatest(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, perrors.Wrapf(perrors.SrcStageFailed, err, "stat %q", path)
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	return []byte(fmt.Sprintf("%s %.5f", path, mtime)), nil
}
