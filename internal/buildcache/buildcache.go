// Package buildcache implements the content-addressed, deduplicated build
// tree store: at most one concurrent builder publishes any given
// fingerprint, every other caller observes the published tree and
// materializes it into its own test directory without rebuilding.
package buildcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/not-pflarr/Pavilion/internal/hashutil"
	"github.com/not-pflarr/Pavilion/internal/lockfile"
	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// fingerprintBytes is the 64-bit (16 hex char) prefix length spec 4.7 fixes
// the fingerprint to.
const fingerprintBytes = 8

// BuildFunc populates tmp with a build tree and returns whether it
// succeeded; a false return with a nil error means the build ran to
// completion but the underlying command failed (a reportable, non-fatal
// outcome), distinct from err which signals a setup failure.
type BuildFunc func(ctx context.Context, tmp string) (ok bool, err error)

// Cache is the shared, group-visible build store rooted at <workdir>/builds.
type Cache struct {
	root  string
	group string

	// inProcess collapses concurrent build attempts for the same
	// fingerprint within this process before they ever reach the
	// cross-process LockFile; a pure optimization layered on top of the
	// lock-backed invariant.
	inProcess singleflight.Group
}

// New returns a Cache rooted at root (typically <workdir>/builds).
func New(root, group string) *Cache {
	return &Cache{root: root, group: group}
}

// Fingerprint composes the 16-hex-char build fingerprint from a config hash,
// the staged source's content-or-summary hash, each extra file's
// content-or-summary hash, and a free-form specificity discriminator.
func Fingerprint(configHash [32]byte, srcPath string, extraFiles []string, specificity string) (string, error) {
	h := sha256.New()
	h.Write(configHash[:])

	if err := writeSourceDigest(h, srcPath); err != nil {
		return "", err
	}
	for _, extra := range extraFiles {
		if err := writeSourceDigest(h, extra); err != nil {
			return "", err
		}
	}
	h.Write([]byte(specificity))

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:fingerprintBytes]), nil
}

func writeSourceDigest(h interface{ Write([]byte) (int, error) }, path string) error {
	if path == "" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return perrors.Wrapf(perrors.SrcStageFailed, err, "stat %q for fingerprint", path)
	}
	if info.IsDir() {
		digest, err := hashutil.SummarizeDir(path)
		if err != nil {
			return err
		}
		h.Write(digest)
		return nil
	}
	digest, err := hashutil.HashFile(path)
	if err != nil {
		return err
	}
	h.Write(digest[:])
	return nil
}

// Origin returns the published (or yet-to-be-published) cache path for
// fingerprint.
func (c *Cache) Origin(fingerprint string) string {
	return filepath.Join(c.root, fingerprint)
}

// Ensure guarantees that Origin(fingerprint) exists, building it via build
// if necessary, then materializes it into testDir/build as a symlink-copy
// and refreshes its mtime for LRU. It implements the protocol of spec 4.7
// literally.
func (c *Cache) Ensure(ctx context.Context, fingerprint string, build BuildFunc, testDir string) (bool, error) {
	origin := c.Origin(fingerprint)

	if _, err := os.Stat(origin); err == nil {
		return c.materialize(origin, testDir)
	}

	type buildResult struct {
		ok  bool
		err error
	}
	v, err, _ := c.inProcess.Do(fingerprint, func() (interface{}, error) {
		ok, err := c.buildLocked(ctx, fingerprint, build)
		return buildResult{ok, err}, err
	})
	if err != nil {
		return false, err
	}
	res := v.(buildResult)
	if !res.ok {
		return false, nil
	}
	return c.materialize(origin, testDir)
}

func (c *Cache) buildLocked(ctx context.Context, fingerprint string, build BuildFunc) (bool, error) {
	origin := c.Origin(fingerprint)
	if err := os.MkdirAll(c.root, 0o755); err != nil {
		return false, err
	}

	lf := lockfile.New(origin+".lock", lockfile.WithGroup(c.group))
	unlock, err := lf.Acquire(ctx, 10*time.Minute)
	if err != nil {
		return false, err
	}
	defer unlock()

	// Double-check: another process may have published while we waited.
	if _, err := os.Stat(origin); err == nil {
		return true, nil
	}

	tmp := origin + ".tmp"
	os.RemoveAll(tmp)

	ok, err := build(ctx, tmp)
	if err != nil {
		os.RemoveAll(tmp)
		return false, err
	}
	if !ok {
		os.RemoveAll(tmp)
		return false, nil
	}

	if err := fixPermissions(tmp); err != nil {
		os.RemoveAll(tmp)
		return false, perrors.Wrapf(perrors.BuildError, err, "fix permissions on %q", tmp)
	}
	if err := os.Rename(tmp, origin); err != nil {
		os.RemoveAll(tmp)
		return false, perrors.Wrapf(perrors.BuildError, err, "publish build %q", origin)
	}
	return true, nil
}

func (c *Cache) materialize(origin, testDir string) (bool, error) {
	buildLink := filepath.Join(testDir, "build")
	if err := symlinkCopyTree(origin, buildLink); err != nil {
		return false, perrors.Wrapf(perrors.BuildError, err, "materialize %q into %q", origin, buildLink)
	}
	now := time.Now()
	os.Chtimes(origin, now, now)
	return true, nil
}

// fixPermissions strips write bits from every regular file (not directory)
// beneath tmp, so a published build tree is read-only the moment it lands.
func fixPermissions(tmp string) error {
	return filepath.Walk(tmp, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || info.Mode()&os.ModeSymlink != 0 {
			return nil
		}
		return os.Chmod(path, info.Mode()&^0o222)
	})
}

// symlinkCopyTree mirrors src into dst: every real directory in src becomes
// a real, writable directory in dst; every regular file becomes a symlink
// pointing at the corresponding file in src; existing symlinks in src are
// preserved pointing at their original targets. Cycles (a symlink back to
// an already-visited directory) are detected via device+inode tracking and
// rejected, since naively following one would recurse forever.
func symlinkCopyTree(src, dst string) error {
	visited := map[inodeKey]bool{}
	return walkCopy(src, dst, visited)
}

func walkCopy(src, dst string, visited map[inodeKey]bool) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		if ti, err := os.Stat(src); err == nil && ti.IsDir() {
			if key, err := inodeOf(ti); err == nil && visited[key] {
				return perrors.Errorf(perrors.SrcStageFailed, "symlink cycle detected at %q", src)
			}
		}
		return os.Symlink(target, dst)
	}

	if !info.IsDir() {
		abs, err := filepath.Abs(src)
		if err != nil {
			return err
		}
		return os.Symlink(abs, dst)
	}

	key, err := inodeOf(info)
	if err != nil {
		return err
	}
	if visited[key] {
		return perrors.Errorf(perrors.SrcStageFailed, "symlink cycle detected at %q", src)
	}
	visited[key] = true

	if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := walkCopy(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name()), visited); err != nil {
			return err
		}
	}
	return nil
}
