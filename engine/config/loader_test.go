package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/scheduler"
)

const sampleTOML = `
[application]
name = "testbed"
frames = 120
log_level = "debug"

[scheduler]
worker_count = 4
contexts_per_worker = 3
queue_capacity = 1024
profiling = true
idle_backoff = "50us"
max_idle_backoff = "2ms"
load_balancing = "least-loaded"
fence_timeout = "250ms"
`

const sampleYAML = `
application:
  name: testbed
  frames: 120
  log_level: debug
scheduler:
  worker_count: 4
  contexts_per_worker: 3
  queue_capacity: 1024
  profiling: true
  idle_backoff: 50us
  max_idle_backoff: 2ms
  load_balancing: least_loaded
  fence_timeout: 250ms
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFormats(t *testing.T) {
	for name, content := range map[string]string{
		"anima.toml": sampleTOML,
		"anima.yaml": sampleYAML,
		"anima.yml":  sampleYAML,
	} {
		t.Run(name, func(t *testing.T) {
			f, err := Load(writeFile(t, name, content))
			require.NoError(t, err)

			assert.Equal(t, "testbed", f.Application.Name)
			assert.Equal(t, 120, f.Application.Frames)
			lvl, err := f.Application.Level()
			require.NoError(t, err)
			assert.Equal(t, core.DebugLevel, lvl)

			cfg, err := f.Scheduler.Config()
			require.NoError(t, err)
			assert.Equal(t, 4, cfg.WorkerCount)
			assert.Equal(t, 3, cfg.ContextsPerWorker)
			assert.Equal(t, 1024, cfg.QueueCapacity)
			assert.True(t, cfg.Profiling)
			assert.Equal(t, 50*time.Microsecond, cfg.IdleBackoff)
			assert.Equal(t, 2*time.Millisecond, cfg.MaxIdleBackoff)
			assert.Equal(t, scheduler.StrategyLeastLoaded, cfg.LoadBalancing)
			assert.Equal(t, 250*time.Millisecond, cfg.FenceTimeout)
		})
	}
}

func TestEmptySectionsKeepDefaults(t *testing.T) {
	f, err := Load(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)

	cfg, err := f.Scheduler.Config()
	require.NoError(t, err)
	assert.Equal(t, scheduler.DefaultConfig(), cfg)

	lvl, err := f.Application.Level()
	require.NoError(t, err)
	assert.Equal(t, core.InfoLevel, lvl)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(writeFile(t, "anima.json", "{}"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = Load(writeFile(t, "unknown.toml", "[scheduler]\nworkers = 2\n"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "unknown.yaml", "scheduler:\n  workers: 2\n"))
	assert.Error(t, err)
}

func TestInvalidValues(t *testing.T) {
	_, err := SchedulerConfig{IdleBackoff: "soon"}.Config()
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = SchedulerConfig{FenceTimeout: "-1s"}.Config()
	assert.ErrorIs(t, err, ErrInvalidDuration)

	_, err = SchedulerConfig{LoadBalancing: "random"}.Tuning()
	assert.ErrorIs(t, err, scheduler.ErrUnknownStrategy)

	_, err = ApplicationConfig{LogLevel: "loud"}.Level()
	assert.ErrorIs(t, err, core.ErrUnknownLogLevel)
}
