// Package suite groups a set of TestInstances into one directory of
// symlinks, named by suite ID, so a scheduler can dispatch and a user can
// inspect them as a single unit.
package suite

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/not-pflarr/Pavilion/internal/idalloc"
	"github.com/not-pflarr/Pavilion/internal/logging"
	"github.com/not-pflarr/Pavilion/internal/pavcfg"
	"github.com/not-pflarr/Pavilion/internal/perrors"
	"github.com/not-pflarr/Pavilion/internal/testinstance"
)

// Member is the minimal view of a TestInstance a Suite needs: its ID and
// its directory.
type Member interface {
	ID() uint64
	Path() string
}

// Suite is a directory of symlinks grouping a set of test directories.
type Suite struct {
	id   uint64
	path string
}

// ID returns the suite's numeric ID.
func (s *Suite) ID() uint64 { return s.id }

// Path returns the suite's directory.
func (s *Suite) Path() string { return s.path }

// Timestamp returns the suite directory's mtime as a Unix timestamp.
func (s *Suite) Timestamp() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, perrors.Wrapf(perrors.StatusIO, err, "stat suite directory %q", s.path)
	}
	return info.ModTime().Unix(), nil
}

// Create allocates a new suite ID under pavCfg.WorkingDir/suites and
// symlinks each test's directory into it, concurrently, bounded by
// GOMAXPROCS like the teacher's parallel build step. It rejects an empty
// test list with SUITE_EMPTY.
func Create(ctx context.Context, pavCfg *pavcfg.Config, tests []Member) (*Suite, error) {
	if len(tests) == 0 {
		return nil, perrors.New(perrors.SuiteEmpty, "cannot create a suite with no tests")
	}

	root := filepath.Join(pavCfg.WorkingDir, "suites")
	alloc := idalloc.New(root, pavCfg.SharedGroup)
	id, path, err := alloc.Allocate(ctx)
	if err != nil {
		return nil, err
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, test := range tests {
		test := test
		g.Go(func() error {
			link := filepath.Join(path, idalloc.Pad(test.ID()))
			return os.Symlink(test.Path(), link)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, perrors.Wrapf(perrors.StatusIO, err, "link tests into suite %q", path)
	}

	writeLastSuite(pavCfg, id)

	return &Suite{id: id, path: path}, nil
}

// writeLastSuite best-effort records id as the most recently created suite,
// for commands that default to "the suite I just made".
func writeLastSuite(pavCfg *pavcfg.Config, id uint64) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	path := filepath.Join(home, ".pavilion", "last_suite")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(path, []byte(idalloc.Pad(id)), 0o644); err != nil {
		logging.Debugf(context.Background(), "suite: best-effort last_suite write failed: %v", err)
	}
}

// FromId loads a Suite by scanning its directory; each symlink is expected
// to point at a test directory, and its basename (a decimal integer) is
// used as the test ID to reconstruct the TestInstance via deps.
func FromId(ctx context.Context, deps *testinstance.Deps, id uint64) (*Suite, []*testinstance.TestInstance, error) {
	path := filepath.Join(deps.PavCfg.WorkingDir, "suites", idalloc.Pad(id))
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, nil, perrors.Wrapf(perrors.StatusIO, err, "read suite directory %q", path)
	}

	var testIDs []uint64
	for _, e := range entries {
		info, err := os.Lstat(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, nil, perrors.Wrapf(perrors.SuitePolluted, err, "stat suite entry %q", e.Name())
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil, nil, perrors.Errorf(perrors.SuitePolluted, "suite entry %q is not a symlink", e.Name())
		}
		target, err := filepath.EvalSymlinks(filepath.Join(path, e.Name()))
		if err != nil {
			return nil, nil, perrors.Wrapf(perrors.SuitePolluted, err, "resolve suite entry %q", e.Name())
		}
		if fi, err := os.Stat(target); err != nil || !fi.IsDir() {
			return nil, nil, perrors.Errorf(perrors.SuitePolluted, "suite entry %q does not point at a directory", e.Name())
		}

		testID, ok := idalloc.Parse(e.Name())
		if !ok {
			logging.Warnf(ctx, "suite %d: skipping unparsable entry %q", id, e.Name())
			continue
		}
		testIDs = append(testIDs, testID)
	}

	sort.Slice(testIDs, func(i, j int) bool { return testIDs[i] < testIDs[j] })

	tests := make([]*testinstance.TestInstance, 0, len(testIDs))
	for _, testID := range testIDs {
		ti, err := testinstance.FromId(ctx, deps, testID)
		if err != nil {
			return nil, nil, err
		}
		tests = append(tests, ti)
	}

	return &Suite{id: id, path: path}, tests, nil
}
