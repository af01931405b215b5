package observability

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

type captureLogger struct {
	msgs []string
}

func (c *captureLogger) Debug(msg string, _ ...Field) { c.msgs = append(c.msgs, "debug:"+msg) }
func (c *captureLogger) Info(msg string, _ ...Field)  { c.msgs = append(c.msgs, "info:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...Field)  { c.msgs = append(c.msgs, "warn:"+msg) }
func (c *captureLogger) Error(msg string, _ ...Field) { c.msgs = append(c.msgs, "error:"+msg) }

func TestSetLoggerSwapsGlobal(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	capture := &captureLogger{}
	SetLogger(capture)
	Log().Info("hello")
	if len(capture.msgs) != 1 || capture.msgs[0] != "info:hello" {
		t.Fatalf("expected captured message, got %v", capture.msgs)
	}

	SetLogger(nil)
	Log().Info("dropped")
	if len(capture.msgs) != 1 {
		t.Fatalf("nil logger must restore the noop default")
	}
}

func TestSlogAdapterRendersFields(t *testing.T) {
	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlogLogger(slog.New(handler))

	logger.Warn("pool degraded", F("pool", "primary"), F("idle", 0))

	out := buf.String()
	if !strings.Contains(out, "pool degraded") {
		t.Fatalf("expected message in output: %s", out)
	}
	if !strings.Contains(out, "pool=primary") || !strings.Contains(out, "idle=0") {
		t.Fatalf("expected fields in output: %s", out)
	}
}
