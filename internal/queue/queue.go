// Package queue implements the file-backed pending queue that survives
// backend outages. Records are newline-delimited JSON in an append-only
// file; writers take an exclusive advisory lock, readers drain by atomically
// rewriting the remainder to a temp file and renaming it into place.
package queue

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
)

// Record is one self-contained storage request.
type Record struct {
	Item       memory.Item `json:"item"`
	Trust      float64     `json:"trust"`
	Retries    int         `json:"retries"`
	EnqueuedAt time.Time   `json:"enqueued_at"`
}

// Options tune the queue.
type Options struct {
	// Path is the queue file. Sibling files <path>.dead and <path>.quarantine
	// receive exhausted and malformed records.
	Path string
	// LockTimeout bounds the wait for the advisory lock.
	LockTimeout time.Duration
	// DrainBatchSize caps records taken per drain.
	DrainBatchSize int
	// MaxRetries before a record moves to the dead-letter file.
	MaxRetries int
}

func (o *Options) applyDefaults() {
	if o.LockTimeout == 0 {
		o.LockTimeout = 5 * time.Second
	}
	if o.DrainBatchSize == 0 {
		o.DrainBatchSize = 10
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
}

// Common errors.
var (
	ErrLockTimeout = errors.New("queue lock timeout")
)

// Queue is the file-backed pending queue. Safe for concurrent use across
// processes via the advisory lock.
type Queue struct {
	opts   Options
	logger *zap.Logger
}

// New creates a queue rooted at opts.Path. The parent directory is created
// if missing.
func New(opts Options, logger *zap.Logger) (*Queue, error) {
	opts.applyDefaults()
	if opts.Path == "" {
		return nil, errors.New("queue path required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating queue dir: %w", err)
	}
	return &Queue{opts: opts, logger: logger}, nil
}

// Path returns the queue file path.
func (q *Queue) Path() string { return q.opts.Path }

func (q *Queue) withLock(fn func() error) error {
	lock := flock.New(q.opts.Path + ".lock")
	deadline := time.Now().Add(q.opts.LockTimeout)
	for {
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("acquiring queue lock: %w", err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return ErrLockTimeout
		}
		time.Sleep(50 * time.Millisecond)
	}
	defer lock.Unlock()
	return fn()
}

// Enqueue appends one record.
func (q *Queue) Enqueue(rec Record) error {
	if rec.EnqueuedAt.IsZero() {
		rec.EnqueuedAt = time.Now().UTC()
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding queue record: %w", err)
	}
	return q.withLock(func() error {
		f, err := os.OpenFile(q.opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening queue: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("appending queue record: %w", err)
		}
		q.logger.Info("record queued", zap.String("queue", q.opts.Path))
		return nil
	})
}

// Depth counts records currently on disk.
func (q *Queue) Depth() (int, error) {
	var n int
	err := q.withLock(func() error {
		lines, err := readLines(q.opts.Path)
		if err != nil {
			return err
		}
		n = len(lines)
		return nil
	})
	return n, err
}

// Take removes up to DrainBatchSize records from the head of the queue.
// Malformed lines are moved to the quarantine file so a poison record never
// blocks the queue. The remaining records are rewritten atomically.
func (q *Queue) Take() ([]Record, error) {
	var batch []Record
	err := q.withLock(func() error {
		lines, err := readLines(q.opts.Path)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return nil
		}

		var remaining [][]byte
		for _, line := range lines {
			if len(batch) >= q.opts.DrainBatchSize {
				remaining = append(remaining, line)
				continue
			}
			var rec Record
			if err := json.Unmarshal(line, &rec); err != nil {
				metrics.QueueDrainsTotal.WithLabelValues("quarantined").Inc()
				q.logger.Warn("quarantining malformed queue record", zap.Error(err))
				if err := appendLine(q.opts.Path+".quarantine", line); err != nil {
					q.logger.Error("quarantine write failed", zap.Error(err))
					remaining = append(remaining, line)
				}
				continue
			}
			batch = append(batch, rec)
		}
		if err := rewrite(q.opts.Path, remaining); err != nil {
			return err
		}
		metrics.QueueDepth.Set(float64(len(remaining)))
		return nil
	})
	return batch, err
}

// Requeue puts a failed record back with an incremented retry count. When
// retries are exhausted the record moves to the dead-letter file instead.
func (q *Queue) Requeue(rec Record) error {
	rec.Retries++
	if rec.Retries > q.opts.MaxRetries {
		metrics.QueueDrainsTotal.WithLabelValues("dead_letter").Inc()
		q.logger.Warn("record exhausted retries, dead-lettering",
			zap.String("item_id", rec.Item.ID), zap.Int("retries", rec.Retries))
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding dead-letter record: %w", err)
		}
		return q.withLock(func() error {
			return appendLine(q.opts.Path+".dead", line)
		})
	}
	metrics.QueueDrainsTotal.WithLabelValues("requeued").Inc()
	return q.Enqueue(rec)
}

func readLines(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening queue: %w", err)
	}
	defer f.Close()

	var lines [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		copied := make([]byte, len(line))
		copy(copied, line)
		lines = append(lines, copied)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading queue: %w", err)
	}
	return lines, nil
}

func rewrite(path string, lines [][]byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".queue-*")
	if err != nil {
		return fmt.Errorf("creating temp queue: %w", err)
	}
	for _, line := range lines {
		if _, err := tmp.Write(append(line, '\n')); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return fmt.Errorf("writing temp queue: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp queue: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing queue: %w", err)
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}
