package scheduler

import (
	"runtime"
	"time"
)

const (
	DefaultContextsPerWorker = 2
	DefaultIdleBackoff       = 100 * time.Microsecond
	DefaultFenceTimeout      = time.Second
)

type Config struct {
	// WorkerCount is the number of recording threads. 0 uses the number of CPUs.
	WorkerCount int
	// ContextsPerWorker is how many command contexts each worker cycles through.
	ContextsPerWorker int
	// QueueCapacity bounds the number of pending items. 0 means unbounded.
	QueueCapacity int
	// DependencyIndexLimit bounds the number of unresolved dependency edges
	// the queue keeps. Items that would exceed it are queued without
	// dependency tracking. 0 means unbounded.
	DependencyIndexLimit int
	// Profiling keeps a rolling window of recording times and logs every item.
	Profiling bool
	// ThreadAffinity locks each worker to an OS thread pinned to one CPU.
	ThreadAffinity bool
	// ThreadPriorityBoost raises the scheduling priority of worker threads.
	ThreadPriorityBoost bool
	// IdleBackoff is how long a worker waits after an empty dequeue.
	IdleBackoff time.Duration
	// MaxIdleBackoff, when larger than IdleBackoff, makes the wait grow
	// exponentially up to this bound.
	MaxIdleBackoff time.Duration
	LoadBalancing  LoadBalancingStrategy
	// FenceTimeout bounds how long BeginFrame waits for the previous frame.
	FenceTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		WorkerCount:       runtime.NumCPU(),
		ContextsPerWorker: DefaultContextsPerWorker,
		IdleBackoff:       DefaultIdleBackoff,
		LoadBalancing:     StrategyRoundRobin,
		FenceTimeout:      DefaultFenceTimeout,
	}
}

func (c Config) normalized() (Config, error) {
	if c.WorkerCount < 0 {
		return c, ErrNoWorkers
	}
	if c.WorkerCount == 0 {
		c.WorkerCount = runtime.NumCPU()
	}
	if c.ContextsPerWorker < 0 {
		return c, ErrNoContexts
	}
	if c.ContextsPerWorker == 0 {
		c.ContextsPerWorker = DefaultContextsPerWorker
	}
	if c.QueueCapacity < 0 {
		c.QueueCapacity = 0
	}
	if c.DependencyIndexLimit < 0 {
		c.DependencyIndexLimit = 0
	}
	if c.IdleBackoff <= 0 {
		c.IdleBackoff = DefaultIdleBackoff
	}
	if c.FenceTimeout <= 0 {
		c.FenceTimeout = DefaultFenceTimeout
	}
	if !c.LoadBalancing.valid() {
		return c, ErrUnknownStrategy
	}
	return c, nil
}

// Tuning holds the settings that can change while the scheduler runs.
type Tuning struct {
	IdleBackoff    time.Duration
	MaxIdleBackoff time.Duration
	LoadBalancing  LoadBalancingStrategy
}

func (c Config) tuning() *Tuning {
	return &Tuning{
		IdleBackoff:    c.IdleBackoff,
		MaxIdleBackoff: c.MaxIdleBackoff,
		LoadBalancing:  c.LoadBalancing,
	}
}
