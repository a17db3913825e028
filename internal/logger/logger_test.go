package logger

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/wardenhq/warden/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"garbage", slog.LevelInfo},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in); got != tc.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestNewReturnsUsableLogger(t *testing.T) {
	log, closer := New(config.Logging{Level: "debug", Service: "warden-test"})
	defer closer.Close()
	if log == nil {
		t.Fatal("expected non-nil logger")
	}
	log.Debug("hello")
}

// syncBuffer is a goroutine-safe writer for async handler tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestAsyncHandlerDrainsOnClose(t *testing.T) {
	buf := &syncBuffer{}
	inner := slog.NewJSONHandler(buf, nil)
	h := NewAsyncHandler(inner, 16, 1)
	log := slog.New(h)

	for range 5 {
		log.Info("queued record")
	}
	h.Close()

	if buf.String() == "" {
		t.Fatal("expected records to be flushed on close")
	}
	if h.DroppedCount() != 0 {
		t.Fatalf("expected no drops, got %d", h.DroppedCount())
	}
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-42")
	if got := RequestID(ctx); got != "req-42" {
		t.Fatalf("RequestID = %q, want req-42", got)
	}
	if got := RequestID(context.Background()); got != "" {
		t.Fatalf("expected empty request id, got %q", got)
	}
}
