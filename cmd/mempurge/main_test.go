package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRetention(t *testing.T) {
	day := 24 * time.Hour
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90d", 90 * day},
		{"12w", 12 * 7 * day},
		{"6m", 6 * 30 * day},
		{"1y", 365 * day},
	}
	for _, tc := range tests {
		got, err := parseRetention(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseRetentionRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "d", "90", "90x", "-3d", "0w", "d90"} {
		_, err := parseRetention(in)
		assert.Error(t, err, in)
	}
}
