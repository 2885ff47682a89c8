package queue

import (
	"context"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/metrics"
)

// SaveFunc attempts storage for one drained item.
type SaveFunc func(ctx context.Context, item *memory.Item) error

// Worker drains the queue in the background. It wakes on queue file writes
// (fsnotify) and on a fallback ticker, so records still drain if the watch
// misses an event.
type Worker struct {
	queue    *Queue
	saver    SaveFunc
	interval time.Duration
	logger   *zap.Logger
}

// NewWorker creates a drain worker. interval is the fallback poll period.
func NewWorker(q *Queue, saver SaveFunc, interval time.Duration, logger *zap.Logger) *Worker {
	if interval == 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{queue: q, saver: saver, interval: interval, logger: logger}
}

// Run drains until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("fsnotify unavailable, polling only", zap.Error(err))
	} else {
		defer watcher.Close()
		// Watch the directory: the queue file may not exist yet and is
		// replaced on every drain.
		if err := watcher.Add(filepath.Dir(w.queue.Path())); err != nil {
			w.logger.Warn("queue watch failed, polling only", zap.Error(err))
		}
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.drain(ctx)
		case event, ok := <-watchEvents(watcher):
			if !ok {
				continue
			}
			if event.Name == w.queue.Path() && event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.drain(ctx)
			}
		}
	}
}

func watchEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

// drain takes one batch and attempts storage for each record. Failures are
// requeued with a jittered delay so a recovering backend is not hammered.
func (w *Worker) drain(ctx context.Context) {
	batch, err := w.queue.Take()
	if err != nil {
		w.logger.Warn("queue drain failed", zap.Error(err))
		return
	}
	if len(batch) == 0 {
		return
	}
	w.logger.Info("draining pending queue", zap.Int("batch", len(batch)))

	for _, rec := range batch {
		item := rec.Item
		if err := w.saver(ctx, &item); err != nil {
			w.logger.Warn("queued save failed",
				zap.String("item_id", item.ID),
				zap.Int("retries", rec.Retries),
				zap.Error(err))
			time.Sleep(time.Duration(rand.Int63n(int64(500 * time.Millisecond))))
			if err := w.queue.Requeue(rec); err != nil {
				w.logger.Error("requeue failed", zap.Error(err))
			}
			continue
		}
		metrics.QueueDrainsTotal.WithLabelValues("stored").Inc()
	}
}
