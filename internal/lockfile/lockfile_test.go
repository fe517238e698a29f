package lockfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
)

func TestAcquireExcludesConcurrentHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	fc := fakeclock.NewFakeClock(time.Now())

	a := New(path, WithClock(fc))
	unlockA, err := a.Acquire(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	b := New(path, WithClock(fc))
	_, err = b.tryAcquire("other-owner")
	if err != nil {
		t.Fatalf("tryAcquire: %v", err)
	}

	ok, err := b.tryAcquire("other-owner")
	if err != nil {
		t.Fatalf("tryAcquire: %v", err)
	}
	if ok {
		t.Error("second holder acquired a lock already held, want exclusion")
	}

	unlockA()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after Release: err=%v", err)
	}
}

func TestAcquireBreaksStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	fc := fakeclock.NewFakeClock(time.Now())

	held := New(path, WithClock(fc), WithExpiry(time.Second))
	if _, err := held.tryAcquire("stale-owner"); err != nil {
		t.Fatalf("tryAcquire: %v", err)
	}

	fc.Increment(2 * time.Second)

	waiter := New(path, WithClock(fc))
	unlock, err := waiter.Acquire(context.Background(), 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire on stale lock: %v", err)
	}
	unlock()
}

func TestAcquireTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lock")
	fc := fakeclock.NewFakeClock(time.Now())

	held := New(path, WithClock(fc))
	if _, err := held.tryAcquire("holder"); err != nil {
		t.Fatalf("tryAcquire: %v", err)
	}

	waiter := New(path, WithClock(fc))
	done := make(chan error, 1)
	go func() {
		_, err := waiter.Acquire(context.Background(), 300*time.Millisecond)
		done <- err
	}()

	// Advance past the deadline in steps so Acquire's backoff timers fire.
	// Backoff doubles from 100ms, so the timers fire at 100ms, 300ms and
	// 700ms; the deadline is only checked after a timer fires, so Acquire
	// reports the timeout at 700ms.
	for i := 0; i < 7; i++ {
		fc.WaitForWatcherAndIncrement(100 * time.Millisecond)
	}

	err := <-done
	if err == nil {
		t.Fatal("Acquire on a permanently held lock returned nil error, want timeout")
	}
}
