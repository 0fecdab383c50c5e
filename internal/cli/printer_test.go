package cli

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/duet-run/duet/internal/supervisor"
)

func TestPrinterHumanMode(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newEventPrinter(&out, &errOut, false)

	stamp := time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)
	p.print(supervisor.Event{
		Timestamp: stamp,
		Process:   "server",
		Type:      supervisor.EventTypeLog,
		Message:   "listening on :3000",
	})
	p.print(supervisor.Event{
		Timestamp: stamp,
		Process:   "inspector",
		Type:      supervisor.EventTypeError,
		Message:   "termination request failed",
		Err:       errors.New("permission denied"),
	})

	stdout := out.String()
	if !strings.Contains(stdout, "15:04:05 server | listening on :3000") {
		t.Fatalf("unexpected log line rendering:\n%s", stdout)
	}
	stderr := errOut.String()
	if !strings.Contains(stderr, "termination request failed: permission denied") {
		t.Fatalf("expected error on stderr, got:\n%s", stderr)
	}
	if strings.Contains(stdout, "\x1b[") {
		t.Fatalf("expected no ANSI colors when writer is not a terminal:\n%s", stdout)
	}
}

func TestPrinterRedactsLogLines(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newEventPrinter(&out, &errOut, false)

	p.print(supervisor.Event{
		Timestamp: time.Unix(0, 0),
		Process:   "server",
		Type:      supervisor.EventTypeLog,
		Message:   `NPM_TOKEN=abc123 loaded`,
	})

	if strings.Contains(out.String(), "abc123") {
		t.Fatalf("expected secret redacted, got:\n%s", out.String())
	}
}

func TestPrinterJSONMode(t *testing.T) {
	var out, errOut bytes.Buffer
	p := newEventPrinter(&out, &errOut, true)

	p.print(supervisor.Event{
		Timestamp: time.Unix(0, 0),
		Process:   "server",
		Type:      supervisor.EventTypeRunning,
		Message:   "server running (pid 42)",
	})

	line := out.String()
	if !strings.Contains(line, `"process":"server"`) {
		t.Fatalf("expected JSON record, got:\n%s", line)
	}
	if !strings.Contains(line, `"type":"running"`) {
		t.Fatalf("expected type field, got:\n%s", line)
	}
}
