package queue

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

func newTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "pending.ndjson")
	}
	q, err := New(opts, zap.NewNop())
	require.NoError(t, err)
	return q
}

func testRecord(t *testing.T, content string) Record {
	t.Helper()
	item, err := memory.NewItem("proj", memory.TypeDecision, content, "post-tool-use")
	require.NoError(t, err)
	return Record{Item: *item, Trust: 0.9}
}

func TestEnqueueTake(t *testing.T) {
	q := newTestQueue(t, Options{})

	require.NoError(t, q.Enqueue(testRecord(t, "first pending capture")))
	require.NoError(t, q.Enqueue(testRecord(t, "second pending capture")))

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 2, depth)

	batch, err := q.Take()
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, "first pending capture", batch[0].Item.Content)
	assert.False(t, batch[0].EnqueuedAt.IsZero())

	depth, err = q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestTakeRespectsBatchSize(t *testing.T) {
	q := newTestQueue(t, Options{DrainBatchSize: 2})
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(testRecord(t, "pending capture number "+strings.Repeat("x", i+1))))
	}

	batch, err := q.Take()
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 3, depth)
}

func TestMalformedLineQuarantined(t *testing.T) {
	q := newTestQueue(t, Options{})
	require.NoError(t, q.Enqueue(testRecord(t, "valid record content here")))
	require.NoError(t, appendLine(q.Path(), []byte("{not json")))
	require.NoError(t, q.Enqueue(testRecord(t, "another valid record here")))

	batch, err := q.Take()
	require.NoError(t, err)
	assert.Len(t, batch, 2)

	quarantine, err := os.ReadFile(q.Path() + ".quarantine")
	require.NoError(t, err)
	assert.Contains(t, string(quarantine), "{not json")

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestRequeueDeadLetters(t *testing.T) {
	q := newTestQueue(t, Options{MaxRetries: 2})
	rec := testRecord(t, "doomed record content here")

	require.NoError(t, q.Requeue(rec)) // retries=1
	batch, err := q.Take()
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 1, batch[0].Retries)

	require.NoError(t, q.Requeue(batch[0])) // retries=2
	batch, err = q.Take()
	require.NoError(t, err)
	require.Len(t, batch, 1)

	require.NoError(t, q.Requeue(batch[0])) // retries=3 > max, dead-letter

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.Equal(t, 0, depth)

	dead, err := os.ReadFile(q.Path() + ".dead")
	require.NoError(t, err)
	assert.Contains(t, string(dead), "doomed record content here")
}

func TestWorkerDrains(t *testing.T) {
	q := newTestQueue(t, Options{})
	require.NoError(t, q.Enqueue(testRecord(t, "drain me to storage please")))

	var saved []string
	worker := NewWorker(q, func(ctx context.Context, item *memory.Item) error {
		saved = append(saved, item.Content)
		return nil
	}, 10*time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	err := worker.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"drain me to storage please"}, saved)
}

func TestWorkerRequeuesOnFailure(t *testing.T) {
	q := newTestQueue(t, Options{MaxRetries: 50})
	require.NoError(t, q.Enqueue(testRecord(t, "backend still down for me")))

	worker := NewWorker(q, func(ctx context.Context, item *memory.Item) error {
		return errors.New("backend down")
	}, time.Hour, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_ = worker.Run(ctx)

	depth, err := q.Depth()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, depth, 1)

	batch, err := q.Take()
	require.NoError(t, err)
	require.NotEmpty(t, batch)
	assert.GreaterOrEqual(t, batch[0].Retries, 1)
}
