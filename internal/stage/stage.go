// Package stage resolves a test's source location and materializes it (and
// any extra files) into a build directory, handling local search paths,
// delegated URL downloads, and archive extraction with single-top-directory
// flattening.
package stage

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"

	"github.com/not-pflarr/Pavilion/internal/perrors"
)

// Downloader is the external collaborator that performs conditional-GET
// downloads of remote sources; the core only computes the destination path
// and delegates the transfer.
type Downloader interface {
	Update(ctx context.Context, url, dest string) error
	Head(ctx context.Context, url string) (map[string]string, error)
}

// Config is the subset of a resolved test config that source staging reads.
type Config struct {
	SourceLocation     string
	SourceDownloadName string
	ExtraFiles         []string
}

// Stager resolves and stages source trees.
type Stager struct {
	configDirs []string
	downloads  string
	downloader Downloader
}

// New returns a Stager. configDirs is searched in order for local sources;
// downloads is the shared cache directory for URL-resolved sources.
func New(configDirs []string, downloads string, downloader Downloader) *Stager {
	return &Stager{configDirs: configDirs, downloads: downloads, downloader: downloader}
}

// Resolve returns the local path backing cfg's source, or "" if the test
// has no source section at all (an "empty build").
func (s *Stager) Resolve(ctx context.Context, cfg Config) (string, error) {
	if cfg.SourceLocation == "" {
		return "", nil
	}

	if u, err := url.Parse(cfg.SourceLocation); err == nil && u.Scheme != "" {
		return s.resolveURL(ctx, cfg, u)
	}

	if filepath.IsAbs(cfg.SourceLocation) {
		return s.checkType(cfg.SourceLocation)
	}

	for _, dir := range s.configDirs {
		candidate := filepath.Join(dir, "test_src", cfg.SourceLocation)
		if _, err := os.Stat(candidate); err == nil {
			return s.checkType(candidate)
		}
	}
	return "", perrors.Errorf(perrors.SrcNotFound, "source %q not found under any config dir's test_src", cfg.SourceLocation)
}

func (s *Stager) checkType(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", perrors.Wrapf(perrors.SrcNotFound, err, "stat source %q", path)
	}
	if info.Mode().IsRegular() || info.IsDir() {
		return path, nil
	}
	return "", perrors.Errorf(perrors.SrcBadType, "source %q is neither a regular file nor a directory", path)
}

func (s *Stager) resolveURL(ctx context.Context, cfg Config, u *url.URL) (string, error) {
	name := cfg.SourceDownloadName
	if name == "" {
		name = filepath.Base(u.Path)
	}
	if name == "" || name == "." || name == "/" {
		sum := sha256.Sum256([]byte(cfg.SourceLocation))
		name = hex.EncodeToString(sum[:])
	}
	dest := filepath.Join(s.downloads, name)

	if s.downloader == nil {
		return "", perrors.New(perrors.SrcStageFailed, "source is a URL but no downloader is configured")
	}
	if err := os.MkdirAll(s.downloads, 0o755); err != nil {
		return "", perrors.Wrapf(perrors.SrcStageFailed, err, "create download cache %q", s.downloads)
	}
	if err := s.downloader.Update(ctx, cfg.SourceLocation, dest); err != nil {
		return "", perrors.Wrapf(perrors.SrcStageFailed, err, "download %q", cfg.SourceLocation)
	}
	return dest, nil
}

// Stage materializes srcPath (as returned by Resolve, or "" for an empty
// build) plus extraFiles into buildPath, which must not already exist.
func (s *Stager) Stage(ctx context.Context, srcPath, buildPath string, extraFiles []string) error {
	if err := s.stageSource(srcPath, buildPath); err != nil {
		return perrors.Wrap(perrors.SrcStageFailed, err, "stage source")
	}
	for _, extra := range extraFiles {
		if err := copyExtraFile(extra, buildPath); err != nil {
			return perrors.Wrapf(perrors.SrcStageFailed, err, "stage extra file %q", extra)
		}
	}
	return nil
}

func (s *Stager) stageSource(srcPath, buildPath string) error {
	if srcPath == "" {
		return os.MkdirAll(buildPath, 0o755)
	}

	info, err := os.Stat(srcPath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return copyTree(srcPath, buildPath)
	}
	return stageFile(srcPath, buildPath)
}

func stageFile(srcPath, buildPath string) error {
	f, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	kind, err := sniff(br, srcPath)
	if err != nil {
		return err
	}

	switch kind {
	case KindTar:
		return extractTar(br, buildPath)
	case KindTarGz:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return err
		}
		defer zr.Close()
		return extractTar(zr, buildPath)
	case KindTarBz2:
		return extractTar(bzip2.NewReader(br), buildPath)
	case KindTarXz:
		zr, err := xz.NewReader(br)
		if err != nil {
			return err
		}
		return extractTar(zr, buildPath)
	case KindTarLzma:
		zr, err := lzma.NewReader(br)
		if err != nil {
			return err
		}
		return extractTar(zr, buildPath)
	case KindZip:
		return extractZip(srcPath, buildPath)
	case KindGz:
		zr, err := pgzip.NewReader(br)
		if err != nil {
			return err
		}
		defer zr.Close()
		return decompressSingle(zr, srcPath, ".gz", buildPath)
	case KindBz2:
		return decompressSingle(bzip2.NewReader(br), srcPath, ".bz2", buildPath)
	case KindXz:
		zr, err := xz.NewReader(br)
		if err != nil {
			return err
		}
		return decompressSingle(zr, srcPath, ".xz", buildPath)
	case KindLzma:
		zr, err := lzma.NewReader(br)
		if err != nil {
			return err
		}
		return decompressSingle(zr, srcPath, ".lzma", buildPath)
	default:
		if err := os.MkdirAll(buildPath, 0o755); err != nil {
			return err
		}
		return copyFile(srcPath, filepath.Join(buildPath, filepath.Base(srcPath)))
	}
}

func decompressSingle(r io.Reader, srcPath, ext, buildPath string) error {
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(srcPath), ext)
	out, err := os.Create(filepath.Join(buildPath, name))
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, r)
	return err
}

// tarEntry is the minimal shape extractTar buffers per archive member
// before applying the single-top-level-directory flattening rule.
type tarEntry struct {
	name   string
	isDir  bool
	isLink bool
	link   string
	mode   os.FileMode
	body   io.Reader
}

func extractTar(r io.Reader, buildPath string) error {
	tr := tar.NewReader(r)
	var entries []tarEntry
	var bodies [][]byte

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		var body []byte
		if hdr.Typeflag == tar.TypeReg {
			body, err = io.ReadAll(tr)
			if err != nil {
				return err
			}
		}
		entries = append(entries, tarEntry{
			name:   hdr.Name,
			isDir:  hdr.Typeflag == tar.TypeDir,
			isLink: hdr.Typeflag == tar.TypeSymlink,
			link:   hdr.Linkname,
			mode:   os.FileMode(hdr.Mode),
			body:   nil,
		})
		bodies = append(bodies, body)
	}

	strip := commonTopLevelDir(entryPaths(entries))
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return err
	}
	for i, e := range entries {
		if err := writeEntry(buildPath, e, bodies[i], strip); err != nil {
			return err
		}
	}
	return nil
}

func extractZip(srcPath, buildPath string) error {
	zr, err := zip.OpenReader(srcPath)
	if err != nil {
		return err
	}
	defer zr.Close()

	paths := make([]pathEntry, len(zr.File))
	for i, f := range zr.File {
		paths[i] = pathEntry{name: f.Name, isDir: f.FileInfo().IsDir()}
	}
	strip := commonTopLevelDir(paths)

	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return err
	}
	for _, f := range zr.File {
		rel := stripPrefix(f.Name, strip)
		if rel == "" {
			continue
		}
		dest := filepath.Join(buildPath, rel)
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(dest, 0o755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode())
		if err != nil {
			rc.Close()
			return err
		}
		_, err = io.Copy(out, rc)
		rc.Close()
		out.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

// pathEntry is the minimal (name, is-directory) shape commonTopLevelDir
// needs from either archive format.
type pathEntry struct {
	name  string
	isDir bool
}

func entryPaths(entries []tarEntry) []pathEntry {
	paths := make([]pathEntry, len(entries))
	for i, e := range entries {
		paths[i] = pathEntry{name: e.name, isDir: e.isDir}
	}
	return paths
}

// commonTopLevelDir returns the single shared top-level path component of
// entries if every entry shares exactly one AND that component is backed by
// a directory, else "". A component counts as directory-backed either
// because something is nested beneath it (e.g. "top/file") or because an
// entry named exactly "top" is itself a directory entry; a lone top-level
// regular file (e.g. a tar with the single member "foo.bin") does not
// qualify and is left unflattened, matching the original's
// `len(top_level) == 1 and top_level[0].isdir()` check.
func commonTopLevelDir(entries []pathEntry) string {
	var top string
	hasNested := false
	sawBareTop := false
	bareTopIsDir := false

	for _, e := range entries {
		n := strings.TrimPrefix(e.name, "./")
		n = strings.TrimSuffix(n, "/")
		if n == "" {
			continue
		}
		parts := strings.SplitN(n, "/", 2)
		if top == "" {
			top = parts[0]
		} else if top != parts[0] {
			return ""
		}
		if len(parts) == 2 && parts[1] != "" {
			hasNested = true
		}
		if n == top {
			sawBareTop = true
			bareTopIsDir = e.isDir
		}
	}
	if top == "" {
		return ""
	}
	if !hasNested && !(sawBareTop && bareTopIsDir) {
		return ""
	}
	return top
}

func stripPrefix(name, top string) string {
	name = strings.TrimPrefix(name, "./")
	if top == "" {
		return name
	}
	rel := strings.TrimPrefix(name, top)
	rel = strings.TrimPrefix(rel, "/")
	return rel
}

func writeEntry(buildPath string, e tarEntry, body []byte, strip string) error {
	rel := stripPrefix(e.name, strip)
	if rel == "" {
		return nil
	}
	dest := filepath.Join(buildPath, rel)

	switch {
	case e.isDir:
		return os.MkdirAll(dest, 0o755)
	case e.isLink:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		os.Remove(dest)
		return os.Symlink(e.link, dest)
	default:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		return os.WriteFile(dest, body, mode)
	}
}

func copyExtraFile(src, buildPath string) error {
	if err := os.MkdirAll(buildPath, 0o755); err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	dest := filepath.Join(buildPath, filepath.Base(src))
	if info.IsDir() {
		return copyTree(src, dest)
	}
	return copyFile(src, dest)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// copyTree recursively copies src into dest, preserving symlinks verbatim
// (as opposed to buildcache's symlinkCopyTree, which turns files into
// symlinks; this is a real, independent copy used only at stage time).
func copyTree(src, dest string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dest, rel)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		default:
			return copyFile(path, target)
		}
	})
}

