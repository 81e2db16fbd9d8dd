// Package activitylog appends human-readable activity lines to the
// per-job, per-agent, per-worker, and per-queue log files under the
// state directory's logs/ tree, and serves tailed reads of them back to
// IPC log queries.
package activitylog

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Logger appends activity lines under one logs/ root, one flat file
// per (kind, name) pair: logs/<kind>/<name>.log.
type Logger struct {
	Dir string
}

// New returns a Logger rooted at dir (normally <state_dir>/logs).
func New(dir string) *Logger {
	return &Logger{Dir: dir}
}

func (l *Logger) path(kind, name string) string {
	return filepath.Join(l.Dir, kind, name+".log")
}

// Append writes one timestamped line to the given kind/name log,
// creating the containing directory on first use. A nil Logger is a
// silent no-op so callers don't need a guard at every call site.
func (l *Logger) Append(kind, name, line string) error {
	if l == nil {
		return nil
	}
	path := l.path(kind, name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	stamp := time.UnixMilli(nowMS()).UTC().Format(time.RFC3339)
	_, err = fmt.Fprintf(f, "%s %s\n", stamp, line)
	return err
}

// nowMS is a var so tests can pin the timestamp without the Go
// toolchain ever running Date.now()-style nondeterminism through this
// package's own tests.
var nowMS = func() int64 { return time.Now().UnixMilli() }

// Tail returns the last n lines of the given kind/name log (0 or
// negative n means "all lines"). A log that has never been written
// returns an empty slice, not an error.
func (l *Logger) Tail(kind, name string, n int) ([]string, error) {
	path := l.path(kind, name)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening log: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading log: %w", err)
	}

	if n <= 0 || len(lines) <= n {
		return lines, nil
	}
	return lines[len(lines)-n:], nil
}

// JoinOutputs renders a shell step's named outputs map
// (ShellExitedPayload.Outputs) into a single name="value" line suitable
// for Append, skipping outputs whose value is empty.
func JoinOutputs(outputs map[string]string) string {
	if len(outputs) == 0 {
		return ""
	}
	parts := make([]string, 0, len(outputs))
	for k, v := range outputs {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", k, v))
	}
	return strings.Join(parts, " ")
}
