package breadcrumb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ojdaemon/ojd/internal/oj"
)

func TestWriteThenScanRoundTrips(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)

	job := &oj.Job{ID: oj.JobID("job-1"), Name: "build", Namespace: "default", Step: "compile", UpdatedAtMS: 1000}
	if err := w.Write(job); err != nil {
		t.Fatalf("Write: %v", err)
	}

	crumbs, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(crumbs) != 1 {
		t.Fatalf("expected 1 crumb, got %d", len(crumbs))
	}
	if crumbs[0].JobID != job.ID || crumbs[0].Step != "compile" {
		t.Errorf("unexpected crumb %+v", crumbs[0])
	}
}

func TestRemoveDeletesFile(t *testing.T) {
	dir := t.TempDir()
	w := New(dir)
	job := &oj.Job{ID: oj.JobID("job-2"), Step: "compile"}
	if err := w.Write(job); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Remove(job.ID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "job-2.json")); !os.IsNotExist(err) {
		t.Errorf("expected breadcrumb file to be gone, stat err = %v", err)
	}
}

func TestRemoveMissingFileIsNotAnError(t *testing.T) {
	w := New(t.TempDir())
	if err := w.Remove(oj.JobID("never-written")); err != nil {
		t.Errorf("Remove on a missing breadcrumb should be a no-op, got %v", err)
	}
}

func TestScanMissingDirReturnsEmpty(t *testing.T) {
	crumbs, err := Scan(filepath.Join(t.TempDir(), "does-not-exist"))
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if crumbs != nil {
		t.Errorf("expected nil crumbs for a missing dir, got %+v", crumbs)
	}
}

func TestScanSkipsUnreadableEntries(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "not-json.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not valid"), 0644); err != nil {
		t.Fatalf("setup: %v", err)
	}
	w := New(dir)
	job := &oj.Job{ID: oj.JobID("job-3"), Step: "build"}
	if err := w.Write(job); err != nil {
		t.Fatalf("Write: %v", err)
	}

	crumbs, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(crumbs) != 1 || crumbs[0].JobID != job.ID {
		t.Errorf("expected only the valid crumb, got %+v", crumbs)
	}
}
