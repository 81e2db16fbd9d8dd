// Package wal implements the daemon's write-ahead log: the single
// append-only, group-committed, JSONL-backed durability primitive that
// every event passes through before it is considered committed.
//
// The on-disk format, flush thresholds, corruption-recovery strategy,
// and truncation algorithm are carried over line-for-line from the
// reference Rust write-ahead log this daemon's behavior was distilled
// from; nothing comparable exists as a third-party library in the
// surrounding ecosystem, so this is implemented directly against
// os/bufio/encoding/json.
package wal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ojdaemon/ojd/internal/oj"
	"github.com/ojdaemon/ojd/internal/ojerr"
)

// Entry is one record in the log: an event tagged with its assigned
// sequence number.
type Entry struct {
	Seq   uint64   `json:"seq"`
	Event oj.Event `json:"event"`
}

// Wal is a single append-only JSONL log with group-commit flushing.
type Wal struct {
	mu sync.Mutex

	path string
	file *os.File

	flushInterval  time.Duration
	flushThreshold int

	writeSeq     uint64 // next sequence number to assign
	processedSeq uint64 // high-water mark of applied entries (bookkeeping only)

	buffer    []Entry
	lastFlush time.Time
}

// Open opens (creating if necessary) the log at path. If the file's
// tail is corrupt — a line that fails to parse as an Entry — the whole
// file is first copied to a ".bak.<n>" sibling and the live file is
// then truncated to its last valid line, matching the source WAL's
// recovery behavior: a torn write at the end of the file must never
// block startup.
func Open(path string, flushInterval time.Duration, flushThreshold int) (*Wal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	maxSeq, err := recoverCorruptTail(path)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	return &Wal{
		path:           path,
		file:           f,
		flushInterval:  flushInterval,
		flushThreshold: flushThreshold,
		writeSeq:       maxSeq + 1,
		lastFlush:      time.Now(),
	}, nil
}

// recoverCorruptTail scans the file at path line by line. The first
// line that fails to parse marks the start of a corrupt suffix: the
// whole file, suffix included, is copied to path+".bak.<n>" (n chosen so
// no existing backup is overwritten) and the live file is truncated to
// the valid prefix. It
// returns the highest seq found in the valid prefix, or 0 if the file
// is new or empty.
func recoverCorruptTail(path string) (uint64, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var maxSeq uint64
	var validEnd int64
	var offset int64

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		lineLen := int64(len(line)) + 1 // + newline

		var e Entry
		if len(bytes.TrimSpace(line)) == 0 {
			offset += lineLen
			continue
		}
		if err := json.Unmarshal(line, &e); err != nil {
			break // corrupt tail begins here
		}
		offset += lineLen
		validEnd = offset
		if e.Seq > maxSeq {
			maxSeq = e.Seq
		}
	}

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	if validEnd >= info.Size() {
		return maxSeq, nil
	}

	// Corrupt (or truncated) suffix present: rotate it out.
	n := 0
	backupPath := fmt.Sprintf("%s.bak.%d", path, n)
	for {
		if _, err := os.Stat(backupPath); os.IsNotExist(err) {
			break
		}
		n++
		backupPath = fmt.Sprintf("%s.bak.%d", path, n)
	}
	if err := copyFile(path, backupPath); err != nil {
		return 0, err
	}
	if err := os.Truncate(path, validEnd); err != nil {
		return 0, err
	}
	return maxSeq, nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

// Append assigns the next sequence number to ev, buffers it for the
// next flush, and returns the assigned seq. It does not itself block
// on disk I/O — callers drive flushing via NeedsFlush/Flush so many
// appends can share one fsync (group commit).
func (w *Wal) Append(ev oj.Event) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.writeSeq
	w.writeSeq++
	w.buffer = append(w.buffer, Entry{Seq: seq, Event: ev})
	return seq
}

// NeedsFlush reports whether the buffered entries should be flushed
// now: either the batch has grown past the threshold, or at least the
// flush interval has passed since the last flush.
func (w *Wal) NeedsFlush() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buffer) == 0 {
		return false
	}
	if len(w.buffer) >= w.flushThreshold {
		return true
	}
	return time.Since(w.lastFlush) >= w.flushInterval
}

// Flush writes every buffered entry in a single write call and syncs
// the file, so a batch of appends costs one fsync regardless of size.
func (w *Wal) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Wal) flushLocked() error {
	if len(w.buffer) == 0 {
		w.lastFlush = time.Now()
		return nil
	}

	var buf bytes.Buffer
	for _, e := range w.buffer {
		b, err := json.Marshal(e)
		if err != nil {
			return ojerr.Wrap(ojerr.CategoryDurability, ojerr.CodeDurabilityWriteFailed, "marshaling wal entry", err)
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}

	if _, err := w.file.Write(buf.Bytes()); err != nil {
		return ojerr.DurabilityWriteFailed(err)
	}
	if err := w.file.Sync(); err != nil {
		return ojerr.DurabilityWriteFailed(err)
	}

	w.buffer = w.buffer[:0]
	w.lastFlush = time.Now()
	return nil
}

// WriteSeq returns the next sequence number that will be assigned.
func (w *Wal) WriteSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeSeq
}

// MarkProcessed records the high-water mark of entries the caller has
// folded into materialized state. This is bookkeeping only — it does
// not affect what EntriesAfter returns — and exists so the lifecycle
// checkpoint loop knows where the next snapshot should resume from.
func (w *Wal) MarkProcessed(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.processedSeq {
		w.processedSeq = seq
	}
}

// ProcessedSeq returns the last-marked processed sequence number.
func (w *Wal) ProcessedSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processedSeq
}

// EntriesAfter replays the entire log and returns every entry with
// Seq > afterSeq, in order. Replay stops (without error) at the first
// line that fails to parse — Open already rotated any corrupt tail out
// at startup, so mid-scan corruption here means a concurrent writer
// produced a torn line; the caller gets everything valid that came
// before it.
//
// A trailing run of Shutdown events is dropped: a clean shutdown
// appends a Shutdown marker so a reader mid-replication can tell the
// log ended deliberately, but the marker carries no state to apply and
// replaying it would have no defined reducer behavior.
func (w *Wal) EntriesAfter(afterSeq uint64) ([]Entry, error) {
	w.mu.Lock()
	if err := w.flushLocked(); err != nil {
		w.mu.Unlock()
		return nil, err
	}
	w.mu.Unlock()

	f, err := os.Open(w.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		if e.Seq > afterSeq {
			entries = append(entries, e)
		}
	}

	for len(entries) > 0 && entries[len(entries)-1].Event.Kind == oj.EventShutdown {
		entries = entries[:len(entries)-1]
	}

	return entries, nil
}

// TruncateBefore rewrites the log to keep only entries with
// Seq >= seq, via a temp-file-plus-rename so a crash mid-truncation
// never leaves a partially written log in place. Call this after a
// snapshot has durably captured every entry up to seq.
func (w *Wal) TruncateBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushLocked(); err != nil {
		return err
	}

	src, err := os.Open(w.path)
	if err != nil {
		return err
	}

	tmpPath := w.path + ".tmp"
	tmp, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		src.Close()
		return err
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			break
		}
		if e.Seq >= seq {
			tmp.Write(scanner.Bytes())
			tmp.Write([]byte{'\n'})
		}
	}
	src.Close()

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		return err
	}

	if err := w.file.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = f
	return nil
}

// Close flushes any buffered entries and closes the underlying file.
func (w *Wal) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.file.Close()
}
