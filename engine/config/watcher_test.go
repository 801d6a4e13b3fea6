package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-sched/engine/scheduler"
)

// waitForUpdate reads updates until match accepts one. A single save can
// produce several events, some of which see a truncated file.
func waitForUpdate(t *testing.T, w *Watcher, match func(*File) bool) *File {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-w.Updates():
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatal("no matching configuration update received")
			return nil
		}
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	path := writeFile(t, "anima.toml", sampleTOML)
	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	updated := `
[scheduler]
idle_backoff = "1ms"
load_balancing = "round_robin"
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))

	f := waitForUpdate(t, w, func(f *File) bool { return f.Scheduler.IdleBackoff == "1ms" })
	tuning, err := f.Scheduler.Tuning()
	require.NoError(t, err)
	assert.Equal(t, time.Millisecond, tuning.IdleBackoff)
	assert.Equal(t, scheduler.StrategyRoundRobin, tuning.LoadBalancing)
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	path := writeFile(t, "anima.yaml", sampleYAML)
	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "other.yaml"), []byte("x: 1"), 0o644))

	select {
	case f := <-w.Updates():
		t.Fatalf("unexpected update %+v", f)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWatcherReportsBrokenFile(t *testing.T) {
	path := writeFile(t, "anima.toml", sampleTOML)
	w, err := NewWatcher(path)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("[scheduler\n"), 0o644))
	select {
	case err := <-w.Errors():
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("no error reported")
	}
}

func TestWatcherClose(t *testing.T) {
	w, err := NewWatcher(writeFile(t, "anima.toml", sampleTOML))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Close(), ErrWatcherClosed)
}

func TestWatcherRejectsUnknownExtension(t *testing.T) {
	_, err := NewWatcher(writeFile(t, "anima.ini", ""))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
