// Package lockfile implements an advisory, cross-process filesystem lock
// with group ownership and a bounded acquisition timeout.
//
// A lock is a single file whose presence encodes ownership: the owner
// writes its identity and an expiration timestamp into the file body, and a
// waiter that finds an expired lock may break it. There is no kernel-level
// flock; this mirrors how PavTest's own lock_file.py coordinates multiple
// unrelated processes on a shared filesystem rather than threads in one.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"code.cloudfoundry.org/clock"

	"github.com/not-pflarr/Pavilion/internal/logging"
	"github.com/not-pflarr/Pavilion/internal/perrors"
)

const (
	// pollInterval is the base backoff between acquisition attempts.
	pollInterval = 100 * time.Millisecond

	// maxPollInterval bounds exponential backoff growth.
	maxPollInterval = 2 * time.Second

	// DefaultExpiry is how long a held lock is considered live before a
	// waiter is entitled to break it as stale.
	DefaultExpiry = 60 * time.Second
)

// LockFile is a scoped, cross-process advisory lock at a fixed path.
type LockFile struct {
	path   string
	group  string
	clock  clock.Clock
	expiry time.Duration

	acquired bool
}

// Option configures a LockFile.
type Option func(*LockFile)

// WithGroup sets the POSIX group applied to the lock file (and, by
// convention, to sibling files created while the lock is held).
func WithGroup(group string) Option {
	return func(lf *LockFile) { lf.group = group }
}

// WithClock overrides the clock used for timestamps and backoff, for tests.
func WithClock(c clock.Clock) Option {
	return func(lf *LockFile) { lf.clock = c }
}

// WithExpiry overrides how long a lock is considered live once acquired.
func WithExpiry(d time.Duration) Option {
	return func(lf *LockFile) { lf.expiry = d }
}

// New returns a LockFile bound to path. path is not touched until Acquire.
func New(path string, opts ...Option) *LockFile {
	lf := &LockFile{
		path:   path,
		clock:  clock.NewClock(),
		expiry: DefaultExpiry,
	}
	for _, opt := range opts {
		opt(lf)
	}
	return lf
}

type body struct {
	owner   string
	expires time.Time
}

func (lf *LockFile) selfIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}

func encodeBody(owner string, expires time.Time) []byte {
	return []byte(fmt.Sprintf("%s\n%d\n", owner, expires.Unix()))
}

func decodeBody(data []byte) (body, bool) {
	lines := strings.SplitN(strings.TrimSpace(string(data)), "\n", 2)
	if len(lines) != 2 {
		return body{}, false
	}
	sec, err := strconv.ParseInt(strings.TrimSpace(lines[1]), 10, 64)
	if err != nil {
		return body{}, false
	}
	return body{owner: lines[0], expires: time.Unix(sec, 0)}, true
}

// Acquire blocks until the lock is held, ctx is canceled, or timeout
// elapses, whichever comes first. The timeout is checked between polls, so
// a timed-out Acquire returns at the first poll after the deadline, up to
// one backoff interval late. Call Release (directly, or via the returned
// unlock func) exactly once on success.
func (lf *LockFile) Acquire(ctx context.Context, timeout time.Duration) (func(), error) {
	deadline := lf.clock.Now().Add(timeout)
	backoff := pollInterval
	owner := lf.selfIdentity()

	for {
		ok, err := lf.tryAcquire(owner)
		if err != nil {
			return nil, perrors.Wrapf(perrors.LockPermission, err, "acquire lock %q", lf.path)
		}
		if ok {
			lf.acquired = true
			return func() { lf.Release() }, nil
		}

		now := lf.clock.Now()
		if now.After(deadline) {
			return nil, perrors.Errorf(perrors.LockTimeout, "timed out acquiring lock %q after %s", lf.path, timeout)
		}

		select {
		case <-ctx.Done():
			return nil, perrors.Wrap(perrors.LockTimeout, ctx.Err(), "acquire lock canceled")
		case <-lf.clock.NewTimer(backoff).C():
		}

		backoff *= 2
		if backoff > maxPollInterval {
			backoff = maxPollInterval
		}
	}
}

// tryAcquire attempts a single non-blocking create-or-break-stale step.
func (lf *LockFile) tryAcquire(owner string) (bool, error) {
	expires := lf.clock.Now().Add(lf.expiry)
	data := encodeBody(owner, expires)

	f, err := os.OpenFile(lf.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			os.Remove(lf.path)
			return false, err
		}
		lf.chgrp()
		return true, nil
	}
	if !os.IsExist(err) {
		return false, err
	}

	// Lock file already exists: check for staleness.
	existing, readErr := os.ReadFile(lf.path)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			return false, nil // raced with a concurrent release, retry
		}
		return false, readErr
	}
	b, ok := decodeBody(existing)
	if !ok || lf.clock.Now().Before(b.expires) {
		return false, nil
	}

	// Stale: break it by rewriting in place, tolerating a lost race.
	if err := os.WriteFile(lf.path, data, 0o644); err != nil {
		return false, err
	}
	lf.chgrp()
	return true, nil
}

func (lf *LockFile) chgrp() {
	if lf.group == "" {
		return
	}
	// Best effort: chownGroup looks the group up by name and changes the
	// lock file's group; a failure is logged at debug level and the lock
	// is still held.
	if err := chownGroup(lf.path, lf.group); err != nil {
		logging.Debugf(context.Background(), "lockfile: chgrp %q to %q: %v", lf.path, lf.group, err)
	}
}

// Release drops the lock if held. Safe to call multiple times.
func (lf *LockFile) Release() {
	if !lf.acquired {
		return
	}
	lf.acquired = false
	os.Remove(lf.path)
}
