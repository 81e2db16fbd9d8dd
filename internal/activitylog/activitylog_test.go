package activitylog

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendThenTailRoundTrips(t *testing.T) {
	l := New(t.TempDir())

	if err := l.Append("job", "job-1", "created name=\"deploy\""); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := l.Append("job", "job-1", "step \"build\" started"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	lines, err := l.Tail("job", "job-1", 0)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "created name") || !strings.Contains(lines[1], "build") {
		t.Errorf("unexpected log content: %v", lines)
	}
}

func TestTailBoundsToLastN(t *testing.T) {
	l := New(t.TempDir())
	for i := 0; i < 5; i++ {
		if err := l.Append("queue", "deploy", "pushed"); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	lines, err := l.Tail("queue", "deploy", 2)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(lines) != 2 {
		t.Fatalf("expected the last 2 lines, got %d", len(lines))
	}
}

func TestTailMissingFileReturnsEmpty(t *testing.T) {
	l := New(t.TempDir())
	lines, err := l.Tail("agent", "does-not-exist", 10)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if lines != nil {
		t.Errorf("expected no lines for a file never written, got %v", lines)
	}
}

func TestNilLoggerAppendIsANoOp(t *testing.T) {
	var l *Logger
	if err := l.Append("job", "job-1", "anything"); err != nil {
		t.Errorf("expected nil Logger Append to be a no-op, got %v", err)
	}
}

func TestAppendCreatesKindSubdirectory(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	if err := l.Append("worker", "w-1", "started"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := l.Tail("worker", "w-1", 0); err != nil {
		t.Fatalf("Tail: %v", err)
	}
	wantPath := filepath.Join(dir, "worker", "w-1.log")
	lines, err := l.Tail("worker", "w-1", 0)
	if err != nil || len(lines) != 1 {
		t.Fatalf("expected one line at %s, got %v (err %v)", wantPath, lines, err)
	}
}
