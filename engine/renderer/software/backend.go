package software

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

type contextState int

const (
	contextStateReady contextState = iota
	contextStateRecording
	contextStateEnded
	contextStateSubmitted
)

// Command is one recorded operation.
type Command struct {
	Kind     metadata.WorkKind
	Payload  metadata.WorkPayload
	Recorded time.Time
}

// SubmittedContext is a snapshot of a context taken at submission.
type SubmittedContext struct {
	Handle   metadata.ContextHandle
	ThreadID int
	Index    int
	Commands []Command
}

// Batch is everything handed to the device in one SubmitContexts call.
type Batch struct {
	Sequence  int
	Contexts  []SubmittedContext
	Submitted time.Time
}

type commandContext struct {
	mu       sync.Mutex
	threadID int
	index    int
	state    contextState
	commands []Command
}

type fence struct {
	mu       sync.Mutex
	signaled bool
	done     chan struct{}
}

func newFence(signaled bool) *fence {
	f := &fence{done: make(chan struct{})}
	if signaled {
		f.signaled = true
		close(f.done)
	}
	return f
}

func (f *fence) signal() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.signaled {
		f.signaled = true
		close(f.done)
	}
}

func (f *fence) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signaled {
		f.signaled = false
		f.done = make(chan struct{})
	}
}

func (f *fence) wait() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Backend records commands into memory and pretends to execute them. It is
// the reference device for tests and for running the engine headless.
type Backend struct {
	mu         sync.RWMutex
	caps       renderer.Capabilities
	contexts   map[metadata.ContextHandle]*commandContext
	fences     map[metadata.FenceHandle]*fence
	nextHandle uint64
	batches    []Batch

	recordLatency map[metadata.WorkKind]time.Duration
	recordErr     map[metadata.WorkKind]error
	gpuLatency    time.Duration
	submitErr     error
	clock         func() time.Time
}

type Option func(*Backend)

func WithRayTracing(enabled bool) Option {
	return func(b *Backend) {
		b.caps.RayTracing = enabled
	}
}

func WithMaxContexts(n int) Option {
	return func(b *Backend) {
		b.caps.MaxContexts = n
	}
}

// WithRecordLatency makes every record of the given kind take at least d.
func WithRecordLatency(kind metadata.WorkKind, d time.Duration) Option {
	return func(b *Backend) {
		b.recordLatency[kind] = d
	}
}

// WithGPULatency delays fence signaling after a submission by d.
func WithGPULatency(d time.Duration) Option {
	return func(b *Backend) {
		b.gpuLatency = d
	}
}

func New(opts ...Option) *Backend {
	b := &Backend{
		caps:          renderer.Capabilities{RayTracing: true},
		contexts:      make(map[metadata.ContextHandle]*commandContext),
		fences:        make(map[metadata.FenceHandle]*fence),
		recordLatency: make(map[metadata.WorkKind]time.Duration),
		recordErr:     make(map[metadata.WorkKind]error),
		clock:         time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

var _ renderer.CommandBackend = (*Backend)(nil)

func (b *Backend) Name() string { return "software" }

func (b *Backend) Capabilities() renderer.Capabilities {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.caps
}

// FailSubmissions makes every following SubmitContexts call return err.
// Passing nil restores normal behaviour.
func (b *Backend) FailSubmissions(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = err
}

// FailRecording makes every following record of kind return err. Passing
// nil restores normal behaviour.
func (b *Backend) FailRecording(kind metadata.WorkKind, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.recordErr, kind)
		return
	}
	b.recordErr[kind] = err
}

// Batches returns the submissions received so far.
func (b *Backend) Batches() []Batch {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Batch, len(b.batches))
	copy(out, b.batches)
	return out
}

// Commands returns what has been recorded into h since it was last begun.
func (b *Backend) Commands(h metadata.ContextHandle) []Command {
	c, err := b.context(h)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Command, len(c.commands))
	copy(out, c.commands)
	return out
}

// LiveContexts returns the number of contexts not yet destroyed.
func (b *Backend) LiveContexts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.contexts)
}

func (b *Backend) newHandle() uint64 {
	b.nextHandle++
	return b.nextHandle
}

func (b *Backend) CreateCommandContext(threadID, index int) (metadata.ContextHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.caps.MaxContexts > 0 && len(b.contexts) >= b.caps.MaxContexts {
		return metadata.InvalidContextHandle, fmt.Errorf("software: %d contexts already live", len(b.contexts))
	}
	h := metadata.ContextHandle(b.newHandle())
	b.contexts[h] = &commandContext{threadID: threadID, index: index}
	return h, nil
}

func (b *Backend) DestroyCommandContext(h metadata.ContextHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.contexts[h]; !ok {
		return fmt.Errorf("software: destroy context %d: %w", h, renderer.ErrInvalidHandle)
	}
	delete(b.contexts, h)
	return nil
}

func (b *Backend) context(h metadata.ContextHandle) (*commandContext, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.contexts[h]
	if !ok {
		return nil, fmt.Errorf("software: context %d: %w", h, renderer.ErrInvalidHandle)
	}
	return c, nil
}

func (b *Backend) BeginContext(h metadata.ContextHandle) error {
	c, err := b.context(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == contextStateRecording {
		return renderer.ErrContextBusy
	}
	c.state = contextStateRecording
	c.commands = c.commands[:0]
	return nil
}

func (b *Backend) EndContext(h metadata.ContextHandle) error {
	c, err := b.context(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != contextStateRecording {
		return renderer.ErrContextNotBegun
	}
	c.state = contextStateEnded
	return nil
}

func (b *Backend) ResetContext(h metadata.ContextHandle) error {
	c, err := b.context(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = contextStateReady
	c.commands = nil
	return nil
}

func (b *Backend) record(h metadata.ContextHandle, p metadata.WorkPayload) error {
	c, err := b.context(h)
	if err != nil {
		return err
	}
	b.mu.RLock()
	latency, failure := b.recordLatency[p.Kind()], b.recordErr[p.Kind()]
	b.mu.RUnlock()
	if latency > 0 {
		time.Sleep(latency)
	}
	if failure != nil {
		return fmt.Errorf("software: record %s: %w", p.Kind(), failure)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != contextStateRecording {
		return renderer.ErrContextNotBegun
	}
	c.commands = append(c.commands, Command{Kind: p.Kind(), Payload: p, Recorded: b.clock()})
	return nil
}

func (b *Backend) RecordDraw(h metadata.ContextHandle, p metadata.DrawPayload) error {
	if p.InstanceCount == 0 {
		p.InstanceCount = 1
	}
	return b.record(h, p)
}

func (b *Backend) RecordComputeDispatch(h metadata.ContextHandle, p metadata.DispatchPayload) error {
	return b.record(h, p)
}

func (b *Backend) RecordResourceUpdate(h metadata.ContextHandle, p metadata.ResourceUpdatePayload) error {
	// Keep our own copy, the caller may reuse the slice once recorded.
	data := make([]byte, len(p.Data))
	copy(data, p.Data)
	p.Data = data
	return b.record(h, p)
}

func (b *Backend) RecordBarrier(h metadata.ContextHandle, p metadata.BarrierPayload) error {
	return b.record(h, p)
}

func (b *Backend) RecordRenderPassBegin(h metadata.ContextHandle, p metadata.RenderPassBeginPayload) error {
	return b.record(h, p)
}

func (b *Backend) RecordRenderPassEnd(h metadata.ContextHandle, p metadata.RenderPassEndPayload) error {
	return b.record(h, p)
}

func (b *Backend) RecordPipelineBind(h metadata.ContextHandle, p metadata.PipelineBindPayload) error {
	return b.record(h, p)
}

func (b *Backend) RecordDescriptorBind(h metadata.ContextHandle, p metadata.DescriptorBindPayload) error {
	return b.record(h, p)
}

func (b *Backend) RecordRayTrace(h metadata.ContextHandle, p metadata.RayTracePayload) error {
	if !b.Capabilities().RayTracing {
		return renderer.ErrFeatureUnsupported
	}
	return b.record(h, p)
}

func (b *Backend) RecordCopy(h metadata.ContextHandle, p metadata.CopyPayload) error {
	return b.record(h, p)
}

func (b *Backend) SubmitContexts(ctx context.Context, handles []metadata.ContextHandle, signal metadata.FenceHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	submitErr := b.submitErr
	b.mu.RUnlock()
	if submitErr != nil {
		return fmt.Errorf("software: %w", submitErr)
	}

	batch := Batch{Contexts: make([]SubmittedContext, 0, len(handles)), Submitted: b.clock()}
	for _, h := range handles {
		c, err := b.context(h)
		if err != nil {
			return err
		}
		c.mu.Lock()
		if c.state != contextStateEnded {
			c.mu.Unlock()
			return fmt.Errorf("software: submit context %d: %w", h, renderer.ErrSubmitRejected)
		}
		cmds := make([]Command, len(c.commands))
		copy(cmds, c.commands)
		c.state = contextStateSubmitted
		batch.Contexts = append(batch.Contexts, SubmittedContext{Handle: h, ThreadID: c.threadID, Index: c.index, Commands: cmds})
		c.mu.Unlock()
	}

	b.mu.Lock()
	batch.Sequence = len(b.batches)
	b.batches = append(b.batches, batch)
	b.mu.Unlock()

	core.LogDebug("software: submitted batch %d with %d contexts", batch.Sequence, len(batch.Contexts))
	if signal == metadata.InvalidFenceHandle {
		return nil
	}
	return b.SignalFence(signal)
}

func (b *Backend) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	h := metadata.FenceHandle(b.newHandle())
	b.fences[h] = newFence(signaled)
	return h, nil
}

func (b *Backend) fence(h metadata.FenceHandle) (*fence, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	f, ok := b.fences[h]
	if !ok {
		return nil, fmt.Errorf("software: fence %d: %w", h, renderer.ErrInvalidHandle)
	}
	return f, nil
}

func (b *Backend) DestroyFence(h metadata.FenceHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fences[h]; !ok {
		return fmt.Errorf("software: destroy fence %d: %w", h, renderer.ErrInvalidHandle)
	}
	delete(b.fences, h)
	return nil
}

func (b *Backend) WaitFence(ctx context.Context, h metadata.FenceHandle, timeout time.Duration) error {
	f, err := b.fence(h)
	if err != nil {
		return err
	}
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}
	select {
	case <-f.wait():
		return nil
	case <-expired:
		return renderer.ErrFenceTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) ResetFence(h metadata.FenceHandle) error {
	f, err := b.fence(h)
	if err != nil {
		return err
	}
	f.reset()
	return nil
}

func (b *Backend) SignalFence(h metadata.FenceHandle) error {
	f, err := b.fence(h)
	if err != nil {
		return err
	}
	if b.gpuLatency > 0 {
		time.AfterFunc(b.gpuLatency, f.signal)
		return nil
	}
	f.signal()
	return nil
}
