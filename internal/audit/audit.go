// Package audit records destructive operations (purge, kill-switch toggles)
// to an append-only newline-delimited log. Entries are written before the
// mutation executes.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Entry is one audited operation.
type Entry struct {
	Time    time.Time      `json:"time"`
	Action  string         `json:"action"`
	DryRun  bool           `json:"dry_run,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Log appends entries to a dated file under <dir>/.audit/logs/.
type Log struct {
	dir string
}

// New creates the audit directory if needed.
func New(stateDir string) (*Log, error) {
	dir := filepath.Join(stateDir, ".audit", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating audit dir: %w", err)
	}
	return &Log{dir: dir}, nil
}

// Record appends one entry. The file rotates daily by name.
func (l *Log) Record(entry Entry) error {
	if entry.Time.IsZero() {
		entry.Time = time.Now().UTC()
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding audit entry: %w", err)
	}
	path := filepath.Join(l.dir, entry.Time.Format("2006-01-02")+".ndjson")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending audit entry: %w", err)
	}
	return nil
}
