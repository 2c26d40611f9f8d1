package log

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLoggerStampsComponent(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Writer: &buf, Level: slog.LevelDebug, Component: ComponentRemote})

	l.Info("fetched", FieldCount, 3)
	out := buf.String()
	if !strings.Contains(out, "component=remote") || !strings.Contains(out, "count=3") {
		t.Fatalf("unexpected output %q", out)
	}

	buf.Reset()
	l.WithComponent(ComponentWorker).Warn("retry")
	if !strings.Contains(buf.String(), "component=worker") {
		t.Fatalf("component not replaced: %q", buf.String())
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(Config{Writer: &buf, Format: "json"}).Info("hello")
	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"component":"app"`) {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestFromContext(t *testing.T) {
	if l := FromContext(context.Background()); l.Component() != "unknown" {
		t.Fatalf("fallback component = %q", l.Component())
	}
	want := Discard().WithComponent(ComponentHTTP)
	if got := FromContext(NewContext(context.Background(), want)); got != want {
		t.Fatal("logger not returned from context")
	}
}

func TestStructuredLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	sl := NewStructuredLogger(New(Config{Writer: &buf}))
	r := httptest.NewRequest("GET", "/api/dashboard?x=1", nil)

	sl.LogHTTPEnd(context.Background(), r, 503, 12, "10.0.0.1")
	if !strings.Contains(buf.String(), "level=ERROR") || !strings.Contains(buf.String(), "status_code=503") {
		t.Fatalf("unexpected output %q", buf.String())
	}

	buf.Reset()
	sl.LogError(context.Background(), "boom", errors.New("bad"), ComponentRemote, OpFetch, nil)
	if !strings.Contains(buf.String(), "error=bad") || !strings.Contains(buf.String(), "operation=fetch") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}
