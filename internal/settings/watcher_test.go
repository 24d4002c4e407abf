package settings

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForReload(t *testing.T, ch <-chan Settings, timeout time.Duration) Settings {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a settings reload")
		return Settings{}
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, Save(path, Default()))

	reloads := make(chan Settings, 4)
	w, err := Watch(path, log.New(io.Discard, "", 0), func(cfg Settings) {
		reloads <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	next := Default()
	next.Logging.Level = "debug"
	require.NoError(t, Save(path, next))

	cfg := waitForReload(t, reloads, 5*time.Second)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestWatcher_SkipsInvalidEdits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, Save(path, Default()))

	reloads := make(chan Settings, 4)
	w, err := Watch(path, log.New(io.Discard, "", 0), func(cfg Settings) {
		reloads <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	// A broken edit is logged and dropped; the callback never fires.
	require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
	select {
	case cfg := <-reloads:
		t.Fatalf("invalid settings were applied: %+v", cfg)
	case <-time.After(700 * time.Millisecond):
	}

	// A later valid edit still comes through.
	next := Default()
	next.Preload.UserSize = 10
	require.NoError(t, Save(path, next))

	cfg := waitForReload(t, reloads, 5*time.Second)
	assert.Equal(t, 10, cfg.Preload.UserSize)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, Save(path, Default()))

	reloads := make(chan Settings, 4)
	w, err := Watch(path, log.New(io.Discard, "", 0), func(cfg Settings) {
		reloads <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0o644))
	select {
	case <-reloads:
		t.Fatal("a sibling file change must not trigger a reload")
	case <-time.After(700 * time.Millisecond):
	}
}

func TestWatcher_CloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, Save(path, Default()))

	w, err := Watch(path, log.New(io.Discard, "", 0), func(Settings) {})
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
