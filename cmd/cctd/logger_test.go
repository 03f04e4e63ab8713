package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoggerAuditSinkKeepsWarnings(t *testing.T) {
	dir := t.TempDir()
	logger, closeLog, err := NewLogger(LogConfig{
		Level:     "debug",
		File:      "cctd.log",
		AuditFile: filepath.Join(dir, "audit", "audit.log"),
		MaxSizeMB: 1,
	}, dir)
	require.NoError(t, err)

	logger.Info("operation committed")
	logger.Warn("operation rejected")
	closeLog()

	all, err := os.ReadFile(filepath.Join(dir, "cctd.log"))
	require.NoError(t, err)
	require.Contains(t, string(all), "operation committed")
	require.Contains(t, string(all), "operation rejected")

	audit, err := os.ReadFile(filepath.Join(dir, "audit", "audit.log"))
	require.NoError(t, err)
	require.NotContains(t, string(audit), "operation committed")
	require.Contains(t, string(audit), "operation rejected")
}

func TestLoggerRejectsUnknownLevel(t *testing.T) {
	_, _, err := NewLogger(LogConfig{Level: "loud"}, t.TempDir())
	require.Error(t, err)
}

func TestResolve(t *testing.T) {
	require.Equal(t, filepath.Join("data", "x.log"), resolve("data", "x.log"))
	require.Equal(t, "/var/log/x.log", resolve("data", "/var/log/x.log"))
	require.Equal(t, "x.log", resolve("", "x.log"))
}
