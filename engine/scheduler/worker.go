package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/spaghettifunk/anima-sched/engine/core"
	amath "github.com/spaghettifunk/anima-sched/engine/math"
	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

type workerConfig struct {
	id        int
	scheduler string
	queue     *WorkQueue
	backend   renderer.CommandBackend
	gate      *frameGate
	stats     *statistics
	tuning    *atomic.Pointer[Tuning]

	profiling      bool
	threadAffinity bool
	priorityBoost  bool
}

// Worker drains the work queue on its own goroutine and records every item
// it claims into one of its command contexts.
type Worker struct {
	workerConfig

	contexts []*RecordingContext
	next     int

	processed    atomic.Uint64
	failed       atomic.Uint64
	busy         atomic.Int64
	idle         atomic.Int64
	lastActivity atomic.Int64
}

func newWorker(cfg workerConfig, contexts []*RecordingContext) *Worker {
	w := &Worker{workerConfig: cfg, contexts: contexts}
	w.lastActivity.Store(time.Now().UnixNano())
	return w
}

func (w *Worker) ID() int { return w.id }

func (w *Worker) Contexts() []*RecordingContext { return w.contexts }

func (w *Worker) Processed() uint64 { return w.processed.Load() }

func (w *Worker) Failed() uint64 { return w.failed.Load() }

// Utilization is busy/(busy+idle) since the last ResetCounters.
func (w *Worker) Utilization() float64 {
	return amath.Ratio(w.busy.Load(), w.idle.Load())
}

func (w *Worker) ResetCounters() {
	w.processed.Store(0)
	w.failed.Store(0)
	w.busy.Store(0)
	w.idle.Store(0)
	w.lastActivity.Store(time.Now().UnixNano())
}

func newIdleBackoff(t *Tuning) backoff.BackOff {
	if t.MaxIdleBackoff <= t.IdleBackoff {
		return backoff.NewConstantBackOff(t.IdleBackoff)
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = t.IdleBackoff
	eb.MaxInterval = t.MaxIdleBackoff
	eb.MaxElapsedTime = 0
	eb.Reset()
	return eb
}

// run is the worker loop. It returns once running is cleared, after the
// item in flight, if any, has been recorded and completed.
func (w *Worker) run(ctx context.Context, running *atomic.Bool) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := applyThreadHints(w.id, w.threadAffinity, w.priorityBoost); err != nil {
		core.LogWarn("scheduler %s: worker %d thread hints: %s", w.scheduler, w.id, err)
	}
	core.LogDebug("scheduler %s: worker %d started", w.scheduler, w.id)

	var (
		tuning *Tuning
		bo     backoff.BackOff
	)
	for running.Load() {
		if t := w.tuning.Load(); t != tuning {
			tuning = t
			bo = newIdleBackoff(t)
		}
		if w.step() {
			bo.Reset()
			continue
		}
		d := bo.NextBackOff()
		if d == backoff.Stop {
			d = tuning.MaxIdleBackoff
		}
		w.queue.WaitForWork(ctx, d)
	}

	core.LogDebug("scheduler %s: worker %d stopped after %d items", w.scheduler, w.id, w.processed.Load())
	return nil
}

// step claims and records at most one item. Items are only claimed while a
// frame is open, since that is the only time contexts accept commands.
func (w *Worker) step() bool {
	if !w.gate.enter() {
		return false
	}
	defer w.gate.leave()

	item, ok := w.queue.DequeueReady(w.id)
	if !ok {
		return false
	}
	w.process(item)
	return true
}

func (w *Worker) nextContext() *RecordingContext {
	rc := w.contexts[w.next]
	w.next = (w.next + 1) % len(w.contexts)
	return rc
}

func (w *Worker) process(item metadata.WorkItem) {
	start := time.Now()
	if last := time.Unix(0, w.lastActivity.Load()); start.After(last) {
		w.idle.Add(int64(start.Sub(last)))
	}
	item.StartTime = start

	rc := w.nextContext()
	err := rc.record(item.Payload, func(h metadata.ContextHandle) error {
		return recordPayload(w.backend, h, item.Payload)
	})

	item.EndTime = time.Now()
	elapsed := item.RecordingTime()
	w.busy.Add(int64(elapsed))
	w.lastActivity.Store(item.EndTime.UnixNano())
	w.processed.Add(1)

	if err != nil {
		w.failed.Add(1)
		core.LogError("scheduler %s: worker %d failed to record %s: %s", w.scheduler, w.id, item, err)
		if item.OnFailure != nil {
			item.OnFailure(item, err)
		}
	} else if item.OnComplete != nil {
		item.OnComplete(item)
	}

	if w.profiling {
		w.stats.observeRecording(elapsed)
		core.LogDebug("scheduler %s: worker %d recorded %s in %s (waited %s)",
			w.scheduler, w.id, item, elapsed, item.StartTime.Sub(item.QueuedTime))
	}

	failed := err != nil
	w.queue.completeWith(item.ID, func() { w.stats.finished(failed) })
}

// recordPayload forwards the payload to the matching backend record call.
func recordPayload(b renderer.CommandBackend, h metadata.ContextHandle, payload metadata.WorkPayload) error {
	switch p := payload.(type) {
	case metadata.DrawPayload:
		return b.RecordDraw(h, p)
	case metadata.DispatchPayload:
		return b.RecordComputeDispatch(h, p)
	case metadata.ResourceUpdatePayload:
		return b.RecordResourceUpdate(h, p)
	case metadata.BarrierPayload:
		return b.RecordBarrier(h, p)
	case metadata.RenderPassBeginPayload:
		return b.RecordRenderPassBegin(h, p)
	case metadata.RenderPassEndPayload:
		return b.RecordRenderPassEnd(h, p)
	case metadata.PipelineBindPayload:
		return b.RecordPipelineBind(h, p)
	case metadata.DescriptorBindPayload:
		return b.RecordDescriptorBind(h, p)
	case metadata.RayTracePayload:
		return b.RecordRayTrace(h, p)
	case metadata.CopyPayload:
		return b.RecordCopy(h, p)
	}
	return fmt.Errorf("%w: %T", ErrUnknownPayload, payload)
}
