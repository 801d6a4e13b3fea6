package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/scheduler"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported configuration format")
	ErrInvalidDuration   = errors.New("invalid duration")
)

type Format int

const (
	FORMAT_TOML Format = iota
	FORMAT_YAML
)

// FormatFromPath picks the decoder from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return FORMAT_TOML, nil
	case ".yaml", ".yml":
		return FORMAT_YAML, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
}

type ApplicationConfig struct {
	Name string `toml:"name" yaml:"name"`
	// Frames is how many frames the engine runs before quitting, 0 for no limit.
	Frames      int    `toml:"frames" yaml:"frames"`
	LogLevel    string `toml:"log_level" yaml:"log_level"`
	MetricsAddr string `toml:"metrics_addr" yaml:"metrics_addr"`
}

// SchedulerConfig mirrors scheduler.Config with durations and the balancing
// strategy spelled as strings.
type SchedulerConfig struct {
	WorkerCount          int    `toml:"worker_count" yaml:"worker_count"`
	ContextsPerWorker    int    `toml:"contexts_per_worker" yaml:"contexts_per_worker"`
	QueueCapacity        int    `toml:"queue_capacity" yaml:"queue_capacity"`
	DependencyIndexLimit int    `toml:"dependency_index_limit" yaml:"dependency_index_limit"`
	Profiling            bool   `toml:"profiling" yaml:"profiling"`
	ThreadAffinity       bool   `toml:"thread_affinity" yaml:"thread_affinity"`
	ThreadPriorityBoost  bool   `toml:"thread_priority_boost" yaml:"thread_priority_boost"`
	IdleBackoff          string `toml:"idle_backoff" yaml:"idle_backoff"`
	MaxIdleBackoff       string `toml:"max_idle_backoff" yaml:"max_idle_backoff"`
	LoadBalancing        string `toml:"load_balancing" yaml:"load_balancing"`
	FenceTimeout         string `toml:"fence_timeout" yaml:"fence_timeout"`
}

// File is the engine configuration file.
type File struct {
	Application ApplicationConfig `toml:"application" yaml:"application"`
	Scheduler   SchedulerConfig   `toml:"scheduler" yaml:"scheduler"`
}

// Load reads and decodes the file at path.
func Load(path string) (*File, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func Parse(data []byte, format Format) (*File, error) {
	f := &File{}
	switch format {
	case FORMAT_TOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(f); err != nil {
			return nil, err
		}
	case FORMAT_YAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		// an empty document decodes to nothing
		if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedFormat, format)
	}
	return f, nil
}

func parseDuration(field, value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s = %q", ErrInvalidDuration, field, value)
	}
	return d, nil
}

// Config converts the section into a scheduler.Config. Unset fields keep
// the scheduler defaults.
func (s SchedulerConfig) Config() (scheduler.Config, error) {
	cfg := scheduler.DefaultConfig()
	if s.WorkerCount != 0 {
		cfg.WorkerCount = s.WorkerCount
	}
	if s.ContextsPerWorker != 0 {
		cfg.ContextsPerWorker = s.ContextsPerWorker
	}
	cfg.QueueCapacity = s.QueueCapacity
	cfg.DependencyIndexLimit = s.DependencyIndexLimit
	cfg.Profiling = s.Profiling
	cfg.ThreadAffinity = s.ThreadAffinity
	cfg.ThreadPriorityBoost = s.ThreadPriorityBoost

	t, err := s.Tuning()
	if err != nil {
		return cfg, err
	}
	cfg.IdleBackoff = t.IdleBackoff
	cfg.MaxIdleBackoff = t.MaxIdleBackoff
	cfg.LoadBalancing = t.LoadBalancing

	if cfg.FenceTimeout, err = parseDuration("fence_timeout", s.FenceTimeout, scheduler.DefaultFenceTimeout); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Tuning extracts the settings a running scheduler can pick up.
func (s SchedulerConfig) Tuning() (scheduler.Tuning, error) {
	var (
		t   scheduler.Tuning
		err error
	)
	if t.IdleBackoff, err = parseDuration("idle_backoff", s.IdleBackoff, scheduler.DefaultIdleBackoff); err != nil {
		return t, err
	}
	if t.MaxIdleBackoff, err = parseDuration("max_idle_backoff", s.MaxIdleBackoff, 0); err != nil {
		return t, err
	}
	if t.LoadBalancing, err = scheduler.ParseStrategy(s.LoadBalancing); err != nil {
		return t, err
	}
	return t, nil
}

// Level returns the configured log level, Info when unset.
func (a ApplicationConfig) Level() (core.LogLevel, error) {
	if a.LogLevel == "" {
		return core.InfoLevel, nil
	}
	return core.ParseLogLevel(a.LogLevel)
}
