package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setEnv provides the configuration config.Load needs without a .env file
func setEnv(t *testing.T, scheduled string) {
	t.Helper()
	t.Setenv("FINNHUB_API_KEY", "test-finnhub")
	t.Setenv("ALPHAVANTAGE_API_KEY", "test-alphavantage")
	t.Setenv("RUN_SCHEDULED", scheduled)
	t.Setenv("STATUS_PORT", "0")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("ARCHIVE_BUCKET", "")
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{name: "default", args: nil, expected: "both"},
		{name: "dividend", args: []string{"--type=dividend"}, expected: "dividend"},
		{name: "split separate value", args: []string{"--type", "split"}, expected: "split"},
		{name: "value is passed through unchanged", args: []string{"-type=DIVIDEND"}, expected: "DIVIDEND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			jobType, usage, err := parseArgs(tt.args, &stderr)
			require.NoError(t, err)
			require.NotNil(t, usage)
			assert.Equal(t, tt.expected, jobType)
			assert.Empty(t, stderr.String())
		})
	}
}

func TestRun_ManualInvalidTypeExitsWithUsage(t *testing.T) {
	tests := []struct {
		name string
		arg  string
	}{
		{name: "unknown value", arg: "--type=foo"},
		{name: "wrong case", arg: "--type=DIVIDEND"},
		{name: "padded", arg: "--type= both"},
		{name: "empty", arg: "--type="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, "false")
			dataDir := t.TempDir()
			t.Setenv("DATA_DIR", dataDir)
			var stderr bytes.Buffer

			code := run([]string{tt.arg}, &stderr)

			assert.Equal(t, exitUsage, code)
			assert.Contains(t, stderr.String(), "invalid job type")
			assert.Contains(t, stderr.String(), "Usage: updater")
			assert.NoFileExists(t, filepath.Join(dataDir, "instruments.db"), "store must not be opened")
		})
	}
}

func TestRun_ScheduledModeIgnoresType(t *testing.T) {
	setEnv(t, "true")
	// A regular file as DATA_DIR makes opening the store fail, which proves
	// the invalid --type was not rejected first
	blocker := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	t.Setenv("DATA_DIR", blocker)
	var stderr bytes.Buffer

	code := run([]string{"--type=foo"}, &stderr)

	assert.Equal(t, exitFailure, code)
	assert.NotContains(t, stderr.String(), "invalid job type")
}

func TestRun_UnknownFlagExitsWithUsage(t *testing.T) {
	var stderr bytes.Buffer

	code := run([]string{"--verbose"}, &stderr)

	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr.String(), "Usage: updater")
}
