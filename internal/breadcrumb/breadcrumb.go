// Package breadcrumb writes and reads the sidecar files that let a
// restarted daemon recognize jobs that were in flight when a previous
// instance died without a clean shutdown. One JSON file per non-terminal
// job lives under the breadcrumb directory; it is rewritten as the job
// progresses and removed the moment the job reaches a terminal step.
package breadcrumb

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ojdaemon/ojd/internal/oj"
)

// Crumb is the sidecar's on-disk shape: just enough to identify the job
// and show a human where it last was, without duplicating the full Job
// record the WAL/snapshot already own.
type Crumb struct {
	JobID       oj.JobID `json:"job_id"`
	Name        string   `json:"name"`
	Namespace   string   `json:"namespace"`
	Step        string   `json:"step"`
	UpdatedAtMS int64    `json:"updated_at_ms"`
}

// Writer manages breadcrumb files under one directory.
type Writer struct {
	Dir string
}

// New returns a Writer rooted at dir. dir is created lazily on first
// Write, matching how the rest of the state directory is populated.
func New(dir string) *Writer {
	return &Writer{Dir: dir}
}

func (w *Writer) path(id oj.JobID) string {
	return filepath.Join(w.Dir, string(id)+".json")
}

// Write persists job's breadcrumb, overwriting any previous one. Called
// every time a non-terminal job's state changes so the file always
// reflects where the job currently is.
func (w *Writer) Write(job *oj.Job) error {
	if w == nil || job == nil {
		return nil
	}
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return fmt.Errorf("creating breadcrumb dir: %w", err)
	}
	c := Crumb{
		JobID:       job.ID,
		Name:        job.Name,
		Namespace:   job.Namespace,
		Step:        job.Step,
		UpdatedAtMS: job.UpdatedAtMS,
	}
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling breadcrumb: %w", err)
	}

	path := w.path(job.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing breadcrumb: %w", err)
	}
	return os.Rename(tmp, path)
}

// Remove deletes id's breadcrumb, if any. Called once a job reaches a
// terminal step or is deleted outright.
func (w *Writer) Remove(id oj.JobID) error {
	if w == nil {
		return nil
	}
	err := os.Remove(w.path(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing breadcrumb: %w", err)
	}
	return nil
}

// Scan reads every breadcrumb file in the directory. A missing
// directory (no job has ever been created) is not an error.
func Scan(dir string) ([]Crumb, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading breadcrumb dir: %w", err)
	}

	var crumbs []Crumb
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		var c Crumb
		if err := json.Unmarshal(data, &c); err != nil {
			continue
		}
		crumbs = append(crumbs, c)
	}
	return crumbs, nil
}
