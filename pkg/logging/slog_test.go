package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestTextLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	log := NewText(&buf, true)
	ctx := context.Background()

	log.Debug(ctx, "dbg", "a", 1)
	log.Info(ctx, "inf", "b", 2)
	log.Warn(ctx, "wrn", "c", 3)
	log.Error(ctx, "err", "d", 4)

	out := buf.String()
	tests := []struct {
		level string
		msg   string
		kv    string
	}{
		{"DEBUG", "dbg", "a=1"},
		{"INFO", "inf", "b=2"},
		{"WARN", "wrn", "c=3"},
		{"ERROR", "err", "d=4"},
	}
	for _, tc := range tests {
		if !strings.Contains(out, "level="+tc.level) {
			t.Fatalf("expected level=%s in output:\n%s", tc.level, out)
		}
		if !strings.Contains(out, "msg="+tc.msg) {
			t.Fatalf("expected msg=%s in output:\n%s", tc.msg, out)
		}
		if !strings.Contains(out, tc.kv) {
			t.Fatalf("expected %s in output:\n%s", tc.kv, out)
		}
	}
}

func TestTextLoggerSuppressesDebugByDefault(t *testing.T) {
	var buf bytes.Buffer
	log := NewText(&buf, false)
	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record leaked:\n%s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("info record missing:\n%s", out)
	}
}

func TestWithAddsAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewText(&buf, false).With("attempt", "123", "user", "alice")
	log.Info(context.Background(), "hello", "k", "v")

	out := buf.String()
	for _, want := range []string{"attempt=123", "user=alice", "k=v"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output:\n%s", want, out)
		}
	}
}

func TestDiscard(t *testing.T) {
	log := Discard()
	ctx := context.Background()
	log.Error(ctx, "dropped")
	log.With("k", "v").Info(ctx, "dropped")
}
