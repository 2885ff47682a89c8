package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// SpooledRequest is the unit handed from the foreground hook to its
// detached worker. The foreground validates and spools; the worker does the
// slow work (scan, embed, store) with its own timeouts.
type SpooledRequest struct {
	Event      *Event    `json:"event"`
	ReceivedAt time.Time `json:"received_at"`
}

// Spool writes the request to a uniquely named file under dir and returns
// its path. The write is atomic (temp + rename) so a worker never reads a
// torn file.
func Spool(dir string, ev *Event) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating spool dir: %w", err)
	}
	data, err := json.Marshal(SpooledRequest{Event: ev, ReceivedAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("encoding spool request: %w", err)
	}

	path := filepath.Join(dir, uuid.New().String()+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("writing spool file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("publishing spool file: %w", err)
	}
	return path, nil
}

// LoadSpool reads a spooled request and deletes the file. Deletion before
// processing is deliberate: a crashing worker must not replay an event into
// a duplicate capture, and the storage layer dedups anyway.
func LoadSpool(path string) (*SpooledRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading spool file: %w", err)
	}
	_ = os.Remove(path)

	var req SpooledRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if req.Event == nil {
		return nil, fmt.Errorf("%w: event", ErrMissingField)
	}
	return &req, nil
}

// Detach re-executes the current binary with the given arguments as a fully
// detached process: new session, no inherited stdio, not reaped by us. The
// foreground hook returns to the host immediately after this.
func Detach(args ...string) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}
	cmd := exec.Command(self, args...)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting detached worker: %w", err)
	}
	return cmd.Process.Release()
}
