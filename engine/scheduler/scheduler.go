package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

type State int

const (
	STATE_CREATED State = iota
	STATE_STARTED
	STATE_STOPPED
	STATE_DESTROYED
)

func (s State) String() string {
	switch s {
	case STATE_CREATED:
		return "created"
	case STATE_STARTED:
		return "started"
	case STATE_STOPPED:
		return "stopped"
	case STATE_DESTROYED:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Scheduler accepts work items, spreads them over a pool of workers that
// record them in parallel and submits everything recorded in a frame as
// one batch.
type Scheduler struct {
	name     string
	config   Config
	backend  renderer.CommandBackend
	queue    *WorkQueue
	balancer *LoadBalancer
	workers  []*Worker
	gate     frameGate
	fence    metadata.FenceHandle
	stats    *statistics
	tuning   atomic.Pointer[Tuning]

	mu      sync.Mutex
	state   State
	running atomic.Bool
	group   *errgroup.Group
	cancel  context.CancelFunc
}

// New creates a scheduler over backend. A nil config uses DefaultConfig.
// Every command context and the frame fence are created up front.
func New(backend renderer.CommandBackend, config *Config) (*Scheduler, error) {
	cfg := DefaultConfig()
	if config != nil {
		cfg = *config
	}
	cfg, err := cfg.normalized()
	if err != nil {
		return nil, err
	}

	caps := backend.Capabilities()
	if need := cfg.WorkerCount * cfg.ContextsPerWorker; caps.MaxContexts > 0 && need > caps.MaxContexts {
		return nil, fmt.Errorf("%w: %d workers x %d contexts exceeds %s limit of %d",
			ErrContextPoolExhausted, cfg.WorkerCount, cfg.ContextsPerWorker, backend.Name(), caps.MaxContexts)
	}

	s := &Scheduler{
		name:     uuid.NewString(),
		config:   cfg,
		backend:  backend,
		queue:    NewWorkQueue(cfg.QueueCapacity, cfg.DependencyIndexLimit),
		balancer: NewLoadBalancer(cfg.LoadBalancing, cfg.WorkerCount),
		stats:    newStatistics(),
		state:    STATE_CREATED,
	}
	s.tuning.Store(cfg.tuning())

	s.workers = make([]*Worker, 0, cfg.WorkerCount)
	for i := 0; i < cfg.WorkerCount; i++ {
		contexts := make([]*RecordingContext, 0, cfg.ContextsPerWorker)
		for j := 0; j < cfg.ContextsPerWorker; j++ {
			rc, err := newRecordingContext(backend, i, j)
			if err != nil {
				s.destroyContexts(contexts...)
				return nil, err
			}
			contexts = append(contexts, rc)
		}
		s.workers = append(s.workers, newWorker(workerConfig{
			id:             i,
			scheduler:      s.name,
			queue:          s.queue,
			backend:        backend,
			gate:           &s.gate,
			stats:          s.stats,
			tuning:         &s.tuning,
			profiling:      cfg.Profiling,
			threadAffinity: cfg.ThreadAffinity,
			priorityBoost:  cfg.ThreadPriorityBoost,
		}, contexts))
	}

	fence, err := backend.CreateFence(true)
	if err != nil {
		s.destroyContexts()
		return nil, fmt.Errorf("create frame fence: %w", err)
	}
	s.fence = fence

	core.LogInfo("scheduler %s created on %s backend: %d workers, %d contexts each, %s balancing",
		s.name, backend.Name(), cfg.WorkerCount, cfg.ContextsPerWorker, cfg.LoadBalancing)
	return s, nil
}

// destroyContexts releases the contexts of every built worker plus extra.
func (s *Scheduler) destroyContexts(extra ...*RecordingContext) {
	all := extra
	for _, w := range s.workers {
		all = append(all, w.contexts...)
	}
	for _, rc := range all {
		if rc == nil {
			continue
		}
		if err := rc.destroy(); err != nil {
			core.LogWarn("scheduler %s: destroy context %d: %s", s.name, rc.Handle(), err)
		}
	}
}

func (s *Scheduler) Name() string { return s.name }

func (s *Scheduler) Config() Config { return s.config }

func (s *Scheduler) Workers() []*Worker { return s.workers }

func (s *Scheduler) Balancer() *LoadBalancer { return s.balancer }

func (s *Scheduler) Queue() *WorkQueue { return s.queue }

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FrameIndex is the index of the current or last opened frame, 0 before the
// first BeginFrame.
func (s *Scheduler) FrameIndex() uint64 {
	return s.gate.frame.Load()
}

// Start spawns the workers. Calling it on a started scheduler does nothing.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case STATE_DESTROYED:
		return ErrSchedulerDestroyed
	case STATE_STARTED:
		return nil
	}

	s.queue.Reopen()
	s.running.Store(true)

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range s.workers {
		w := w
		g.Go(func() error { return w.run(ctx, &s.running) })
	}
	s.group, s.cancel = g, cancel
	s.state = STATE_STARTED

	core.LogInfo("scheduler %s started %d workers", s.name, len(s.workers))
	return nil
}

// Stop signals the workers and waits for them. An item being recorded when
// Stop is called is finished first; items still queued stay queued until the
// next Start. Calling Stop on a scheduler that is not started does nothing.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *Scheduler) stopLocked() error {
	switch s.state {
	case STATE_DESTROYED:
		return ErrSchedulerDestroyed
	case STATE_STARTED:
	default:
		return nil
	}

	s.running.Store(false)
	s.queue.Close()
	s.cancel()
	err := s.group.Wait()
	s.group, s.cancel = nil, nil
	s.state = STATE_STOPPED

	if pending := s.queue.Len(); pending > 0 {
		core.LogWarn("scheduler %s stopped with %d items still queued", s.name, pending)
	} else {
		core.LogInfo("scheduler %s stopped", s.name)
	}
	return err
}

// Destroy stops the scheduler and releases its contexts and fence. Any later
// call on the scheduler returns ErrSchedulerDestroyed.
func (s *Scheduler) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == STATE_DESTROYED {
		return ErrSchedulerDestroyed
	}
	err := s.stopLocked()

	s.gate.mu.Lock()
	s.gate.open = false
	s.destroyContexts()
	if ferr := s.backend.DestroyFence(s.fence); ferr != nil {
		err = errors.Join(err, fmt.Errorf("destroy frame fence: %w", ferr))
	}
	s.gate.mu.Unlock()

	s.state = STATE_DESTROYED
	core.LogInfo("scheduler %s destroyed", s.name)
	return err
}

func (s *Scheduler) destroyed() bool {
	return s.State() == STATE_DESTROYED
}

// SubmitWork validates item, assigns it a worker and queues it. It is legal
// in every state but Destroyed; items submitted while stopped wait for the
// next Start. On failure the returned id is metadata.InvalidWorkItemID.
func (s *Scheduler) SubmitWork(item metadata.WorkItem) (metadata.WorkItemID, error) {
	if s.destroyed() {
		return metadata.InvalidWorkItemID, ErrSchedulerDestroyed
	}

	if err := s.admit(item); err != nil {
		s.stats.rejectedOne()
		return metadata.InvalidWorkItemID, err
	}
	item.SetAffinity(s.balancer.SelectWorker(item))

	s.stats.submitted()
	id, err := s.queue.Enqueue(item)
	if err != nil {
		s.stats.unsubmit()
		if errors.Is(err, ErrQueueFull) {
			core.LogWarn("scheduler %s: dropping %s: %s", s.name, item, err)
		}
		return metadata.InvalidWorkItemID, err
	}

	if s.config.Profiling {
		core.LogDebug("scheduler %s: queued %s as #%d on worker %d", s.name, item, id, item.Affinity())
	}
	return id, nil
}

func (s *Scheduler) admit(item metadata.WorkItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.Kind == metadata.WORK_KIND_RAY_TRACE && !s.backend.Capabilities().RayTracing {
		return fmt.Errorf("%w: %s backend cannot record ray tracing", renderer.ErrFeatureUnsupported, s.backend.Name())
	}
	if w := item.Affinity(); item.HasAffinity() && (w < 0 || w >= len(s.workers)) {
		return fmt.Errorf("%w: %d with %d workers", ErrInvalidAffinity, w, len(s.workers))
	}
	return nil
}

// WaitForItem blocks until id has been recorded or ctx is done. Workers only
// record while a frame is open, so callers waiting outside a frame need a
// deadline.
func (s *Scheduler) WaitForItem(ctx context.Context, id metadata.WorkItemID) error {
	if !s.queue.Issued(id) {
		return fmt.Errorf("%w: %d", ErrUnknownWorkItem, id)
	}
	return s.queue.WaitCompleted(ctx, id)
}

// BeginFrame waits for the previous frame's fence, resets it and opens every
// context for recording.
func (s *Scheduler) BeginFrame(ctx context.Context) error {
	if s.destroyed() {
		return ErrSchedulerDestroyed
	}

	ctx, span := core.StartSpan(ctx, "scheduler.BeginFrame", attribute.String("scheduler", s.name))
	defer span.End()

	s.gate.mu.Lock()
	frame, err := s.beginFrameLocked(ctx)
	s.gate.mu.Unlock()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetAttributes(attribute.Int64("frame", int64(frame)))
	s.queue.Notify()
	return nil
}

func (s *Scheduler) beginFrameLocked(ctx context.Context) (uint64, error) {
	if s.gate.open {
		return 0, ErrFrameInProgress
	}
	if err := s.backend.WaitFence(ctx, s.fence, s.config.FenceTimeout); err != nil {
		return 0, fmt.Errorf("wait for frame %d: %w", s.gate.frame.Load(), err)
	}
	if err := s.backend.ResetFence(s.fence); err != nil {
		return 0, fmt.Errorf("reset frame fence: %w", err)
	}

	frame := s.gate.frame.Load() + 1
	for _, w := range s.workers {
		for _, rc := range w.contexts {
			err := rc.Reset()
			if err == nil {
				err = rc.BeginRecording(frame)
			}
			if err != nil {
				// leave the fence signaled so the next BeginFrame does not hang
				s.signalFence()
				return 0, fmt.Errorf("begin worker %d context %d: %w", w.id, rc.index, err)
			}
		}
	}

	s.gate.frame.Store(frame)
	s.gate.open = true
	return frame, nil
}

// EndFrame closes every context that received commands and submits them as
// one batch in worker order, signaling the frame fence. A frame without any
// recorded command submits nothing and only signals the fence.
func (s *Scheduler) EndFrame(ctx context.Context) error {
	if s.destroyed() {
		return ErrSchedulerDestroyed
	}

	ctx, span := core.StartSpan(ctx, "scheduler.EndFrame",
		attribute.String("scheduler", s.name),
		attribute.Int64("frame", int64(s.gate.frame.Load())))
	defer span.End()

	s.gate.mu.Lock()
	err := s.endFrameLocked(ctx)
	s.gate.mu.Unlock()

	for i, w := range s.workers {
		s.balancer.UpdateLoad(i, w.Utilization())
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *Scheduler) endFrameLocked(ctx context.Context) error {
	if !s.gate.open {
		return ErrNoFrameInProgress
	}
	s.gate.open = false
	frame := s.gate.frame.Load()

	var (
		handles  []metadata.ContextHandle
		recorded []*RecordingContext
	)
	for _, w := range s.workers {
		for _, rc := range w.contexts {
			if rc.State() != CONTEXT_STATE_RECORDING {
				continue
			}
			if rc.Frame() != frame {
				s.signalFence()
				return fmt.Errorf("%w: worker %d context %d opened in frame %d, closing %d",
					ErrStaleRecording, w.id, rc.index, rc.Frame(), frame)
			}
			if rc.CommandCount() == 0 {
				continue
			}
			if err := rc.EndRecording(); err != nil {
				s.signalFence()
				return fmt.Errorf("end worker %d context %d: %w", w.id, rc.index, err)
			}
			handles = append(handles, rc.Handle())
			recorded = append(recorded, rc)
		}
	}

	if len(handles) == 0 {
		s.signalFence()
		return nil
	}

	subCtx, span := core.StartSpan(ctx, "scheduler.Submit", attribute.Int("contexts", len(handles)))
	err := s.backend.SubmitContexts(subCtx, handles, s.fence)
	span.End()
	if err != nil {
		s.signalFence()
		return fmt.Errorf("submit frame %d: %w", frame, err)
	}

	for _, rc := range recorded {
		rc.markSubmitted()
	}
	s.stats.frameSubmitted()
	if s.config.Profiling {
		core.LogDebug("scheduler %s: frame %d submitted %d contexts", s.name, frame, len(handles))
	}
	return nil
}

func (s *Scheduler) signalFence() {
	if err := s.backend.SignalFence(s.fence); err != nil {
		core.LogError("scheduler %s: signal frame fence: %s", s.name, err)
	}
}

// ApplyTuning swaps the idle backoff and balancing strategy while running.
func (s *Scheduler) ApplyTuning(t Tuning) error {
	if s.destroyed() {
		return ErrSchedulerDestroyed
	}
	if !t.LoadBalancing.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownStrategy, int(t.LoadBalancing))
	}
	if t.IdleBackoff <= 0 {
		t.IdleBackoff = DefaultIdleBackoff
	}

	s.tuning.Store(&t)
	s.balancer.SetStrategy(t.LoadBalancing)
	s.queue.Notify()

	core.LogInfo("scheduler %s: idle backoff %s (max %s), %s balancing",
		s.name, t.IdleBackoff, t.MaxIdleBackoff, t.LoadBalancing)
	return nil
}

// Tuning returns the settings currently applied.
func (s *Scheduler) Tuning() Tuning {
	return *s.tuning.Load()
}

// Stats returns a snapshot of the aggregated counters.
func (s *Scheduler) Stats() Stats {
	st := s.stats.snapshot()
	st.QueueDepth = s.queue.Len()
	st.PeakQueueDepth = s.queue.PeakDepth()
	st.PerWorkerUtilization = make([]float64, len(s.workers))
	st.PerWorkerProcessed = make([]uint64, len(s.workers))
	for i, w := range s.workers {
		st.PerWorkerUtilization[i] = w.Utilization()
		st.PerWorkerProcessed[i] = w.Processed()
	}
	return st
}

// ResetStats zeroes every counter and restarts peak depth tracking.
func (s *Scheduler) ResetStats() {
	s.stats.reset()
	s.queue.ResetPeak()
	for _, w := range s.workers {
		w.ResetCounters()
	}
}
