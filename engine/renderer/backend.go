package renderer

import (
	"context"
	"errors"
	"time"

	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

var (
	ErrFeatureUnsupported = errors.New("feature not supported by the active backend")
	ErrInvalidHandle      = errors.New("invalid or unknown handle")
	ErrContextNotBegun    = errors.New("command context is not recording")
	ErrContextBusy        = errors.New("command context is already recording")
	ErrFenceTimeout       = errors.New("timed out waiting for fence")
	ErrSubmitRejected     = errors.New("submission rejected by the device")
	ErrDeviceLost         = errors.New("device lost")
)

// Capabilities describes the optional features a backend exposes.
type Capabilities struct {
	RayTracing bool
	// MaxContexts caps the number of live command contexts, 0 means no limit.
	MaxContexts int
}

// CommandBackend is the narrow surface the scheduler drives. Record calls
// append to a context's command buffer and never wait on the device.
// Different contexts may be recorded from different goroutines at the same
// time; a single context is only ever touched by one goroutine at a time.
type CommandBackend interface {
	Name() string
	Capabilities() Capabilities

	CreateCommandContext(threadID, index int) (metadata.ContextHandle, error)
	DestroyCommandContext(h metadata.ContextHandle) error
	BeginContext(h metadata.ContextHandle) error
	EndContext(h metadata.ContextHandle) error
	ResetContext(h metadata.ContextHandle) error

	RecordDraw(h metadata.ContextHandle, p metadata.DrawPayload) error
	RecordComputeDispatch(h metadata.ContextHandle, p metadata.DispatchPayload) error
	RecordResourceUpdate(h metadata.ContextHandle, p metadata.ResourceUpdatePayload) error
	RecordBarrier(h metadata.ContextHandle, p metadata.BarrierPayload) error
	RecordRenderPassBegin(h metadata.ContextHandle, p metadata.RenderPassBeginPayload) error
	RecordRenderPassEnd(h metadata.ContextHandle, p metadata.RenderPassEndPayload) error
	RecordPipelineBind(h metadata.ContextHandle, p metadata.PipelineBindPayload) error
	RecordDescriptorBind(h metadata.ContextHandle, p metadata.DescriptorBindPayload) error
	RecordRayTrace(h metadata.ContextHandle, p metadata.RayTracePayload) error
	RecordCopy(h metadata.ContextHandle, p metadata.CopyPayload) error

	// SubmitContexts hands the ended contexts to the device in the given
	// order. signal is signaled once the device has finished executing them.
	SubmitContexts(ctx context.Context, handles []metadata.ContextHandle, signal metadata.FenceHandle) error

	CreateFence(signaled bool) (metadata.FenceHandle, error)
	DestroyFence(h metadata.FenceHandle) error
	WaitFence(ctx context.Context, h metadata.FenceHandle, timeout time.Duration) error
	ResetFence(h metadata.FenceHandle) error
	// SignalFence signals h once all previously submitted work has finished.
	SignalFence(h metadata.FenceHandle) error
}
