package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherTriggersReloadOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	reloaded := make(chan string, 1)
	watcher, err := NewWatcher(path, func(p string) error {
		select {
		case reloaded <- p:
		default:
		}
		return nil
	}, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, watcher.Start(ctx))
	defer func() { _ = watcher.Stop() }()
	require.True(t, watcher.IsRunning())

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	select {
	case got := <-reloaded:
		assert.Equal(t, path, got)
	case <-time.After(5 * time.Second):
		t.Fatal("reload was not triggered")
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	reloaded := make(chan struct{}, 1)
	watcher, err := NewWatcher(path, func(string) error {
		reloaded <- struct{}{}
		return nil
	}, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, watcher.Start(ctx))
	defer func() { _ = watcher.Stop() }()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o600))

	select {
	case <-reloaded:
		t.Fatal("unrelated file change triggered a reload")
	case <-time.After(2 * time.Second):
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o600))

	watcher, err := NewWatcher(path, func(string) error { return nil }, nil)
	require.NoError(t, err)

	require.NoError(t, watcher.Start(context.Background()))
	require.NoError(t, watcher.Stop())
	require.NoError(t, watcher.Stop())
	assert.False(t, watcher.IsRunning())
}
