package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeTestConfig(t *testing.T, path string, concurrency int) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Scrape.Concurrency = concurrency
	require.NoError(t, cfg.Save(path))
}

func TestWatcherReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cravehy.yaml")
	writeTestConfig(t, path, 2)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeTestConfig(t, path, 7)

	select {
	case c := <-reloaded:
		require.Equal(t, 7, c.Scrape.Concurrency)
	case <-time.After(5 * time.Second):
		t.Fatal("Config change never delivered")
	}
}

func TestWatcherIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cravehy.yaml")
	writeTestConfig(t, path, 2)

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(c *Config) { reloaded <- c })
	require.NoError(t, err)
	w.debounceDur = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	// Zero concurrency fails validation; the callback must stay quiet.
	require.NoError(t, os.WriteFile(path, []byte("scrape:\n  concurrency: 0\n"), 0644))

	select {
	case c := <-reloaded:
		t.Fatalf("Invalid config was delivered: %+v", c)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestWatcherStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cravehy.yaml")
	writeTestConfig(t, path, 2)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	w.Stop()
	w.Stop()
}
