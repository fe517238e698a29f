package logging

import (
	"context"
	"testing"
	"time"
)

type capturingLogger struct {
	levels []Level
	msgs   []string
}

func (c *capturingLogger) Log(level Level, ts time.Time, msg string) {
	c.levels = append(c.levels, level)
	c.msgs = append(c.msgs, msg)
}

func TestFromContextRoundTrip(t *testing.T) {
	rec := &capturingLogger{}
	ctx := NewContext(context.Background(), rec)

	got, ok := FromContext(ctx)
	if !ok {
		t.Fatal("FromContext returned ok=false after NewContext")
	}
	if got != Logger(rec) {
		t.Error("FromContext returned a different logger than was attached")
	}
}

func TestEmitRoutesToAttachedLogger(t *testing.T) {
	rec := &capturingLogger{}
	ctx := NewContext(context.Background(), rec)

	Infof(ctx, "value=%d", 42)

	if len(rec.msgs) != 1 || rec.msgs[0] != "value=42" {
		t.Errorf("captured messages = %v, want [\"value=42\"]", rec.msgs)
	}
	if len(rec.levels) != 1 || rec.levels[0] != LevelInfo {
		t.Errorf("captured level = %v, want LevelInfo", rec.levels)
	}
}

func TestEmitWithoutAttachedLoggerIsNoop(t *testing.T) {
	// Must not panic.
	Errorf(context.Background(), "no logger attached")
}

func TestMultiLoggerFansOut(t *testing.T) {
	a := &capturingLogger{}
	b := &capturingLogger{}
	ml := NewMultiLogger(a, b)

	ctx := NewContext(context.Background(), ml)
	Warnf(ctx, "shared message")

	if len(a.msgs) != 1 || len(b.msgs) != 1 {
		t.Errorf("MultiLogger did not fan out to both loggers: a=%v b=%v", a.msgs, b.msgs)
	}
}

func TestLevelString(t *testing.T) {
	if LevelDebug.String() != "DEBUG" || LevelError.String() != "ERROR" {
		t.Errorf("Level.String() mismatch: debug=%q error=%q", LevelDebug.String(), LevelError.String())
	}
}
