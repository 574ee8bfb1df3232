package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buf.conf")
	require.NoError(t, os.WriteFile(path, []byte("size 1KiB\nstart 7\nloglevel warn\n"), 0o644))

	require.NoError(t, rootCmd.ParseFlags([]string{"--config", path}))
	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	require.Equal(t, 1024, cfg.Size)
	require.Equal(t, uint64(7), cfg.Start)
	require.Equal(t, slog.LevelWarn, cfg.LogLevel)

	require.NoError(t, rootCmd.ParseFlags([]string{"--size", "4KiB", "--start", "0x10", "--log-level", "debug"}))
	cfg, err = loadConfig(rootCmd)
	require.NoError(t, err)
	require.Equal(t, 4096, cfg.Size)
	require.Equal(t, uint64(16), cfg.Start)
	require.Equal(t, slog.LevelDebug, cfg.LogLevel)

	require.NoError(t, rootCmd.ParseFlags([]string{"--size", "0"}))
	_, err = loadConfig(rootCmd)
	require.ErrorContains(t, err, "size 0 out of range")
}
