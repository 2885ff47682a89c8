package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordAppends(t *testing.T) {
	dir := t.TempDir()
	log, err := New(dir)
	require.NoError(t, err)

	when := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	require.NoError(t, log.Record(Entry{
		Time:   when,
		Action: "purge",
		DryRun: true,
		Details: map[string]any{
			"collection": "discussions",
			"cutoff":     "2026-05-24",
		},
	}))
	require.NoError(t, log.Record(Entry{Time: when, Action: "purge"}))

	data, err := os.ReadFile(filepath.Join(dir, ".audit", "logs", "2026-08-24.ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first Entry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "purge", first.Action)
	assert.True(t, first.DryRun)
	assert.Equal(t, "discussions", first.Details["collection"])
}

func TestRecordDefaultsTime(t *testing.T) {
	log, err := New(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, log.Record(Entry{Action: "kill_switch_toggle"}))
}
