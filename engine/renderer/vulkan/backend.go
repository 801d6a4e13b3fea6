package vulkan

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

var ErrInvalidUpdate = errors.New("inline buffer update must be non-empty, 4-byte aligned and at most 65536 bytes")

type Option func(*Backend)

// WithMaxContexts caps the number of live command contexts.
func WithMaxContexts(n int) Option {
	return func(b *Backend) {
		b.caps.MaxContexts = n
	}
}

// Backend records work items into Vulkan command buffers. Resources are
// created by the host and registered here in exchange for the opaque handles
// work items carry.
type Backend struct {
	context *VulkanContext
	locks   *VulkanLockPool
	caps    renderer.Capabilities

	contexts       *registry[metadata.ContextHandle, *VulkanCommandBuffer]
	fences         *registry[metadata.FenceHandle, *VulkanFence]
	buffers        *registry[metadata.BufferHandle, vk.Buffer]
	pipelines      *registry[metadata.PipelineHandle, vk.Pipeline]
	layouts        *registry[metadata.PipelineLayoutHandle, vk.PipelineLayout]
	descriptorSets *registry[metadata.DescriptorSetHandle, vk.DescriptorSet]
	renderPasses   *registry[metadata.RenderPassHandle, vk.RenderPass]
	framebuffers   *registry[metadata.FramebufferHandle, vk.Framebuffer]
}

func NewBackend(vc *VulkanContext, opts ...Option) *Backend {
	b := &Backend{
		context:        vc,
		locks:          NewVulkanLockPool(),
		contexts:       newRegistry[metadata.ContextHandle, *VulkanCommandBuffer]("context"),
		fences:         newRegistry[metadata.FenceHandle, *VulkanFence]("fence"),
		buffers:        newRegistry[metadata.BufferHandle, vk.Buffer]("buffer"),
		pipelines:      newRegistry[metadata.PipelineHandle, vk.Pipeline]("pipeline"),
		layouts:        newRegistry[metadata.PipelineLayoutHandle, vk.PipelineLayout]("pipeline layout"),
		descriptorSets: newRegistry[metadata.DescriptorSetHandle, vk.DescriptorSet]("descriptor set"),
		renderPasses:   newRegistry[metadata.RenderPassHandle, vk.RenderPass]("render pass"),
		framebuffers:   newRegistry[metadata.FramebufferHandle, vk.Framebuffer]("framebuffer"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Name() string { return "vulkan" }

func (b *Backend) Capabilities() renderer.Capabilities { return b.caps }

func (b *Backend) RegisterBuffer(buf vk.Buffer) metadata.BufferHandle {
	return b.buffers.add(buf)
}

func (b *Backend) RegisterPipeline(p vk.Pipeline) metadata.PipelineHandle {
	return b.pipelines.add(p)
}

func (b *Backend) RegisterPipelineLayout(l vk.PipelineLayout) metadata.PipelineLayoutHandle {
	return b.layouts.add(l)
}

func (b *Backend) RegisterDescriptorSet(s vk.DescriptorSet) metadata.DescriptorSetHandle {
	return b.descriptorSets.add(s)
}

func (b *Backend) RegisterRenderPass(rp vk.RenderPass) metadata.RenderPassHandle {
	return b.renderPasses.add(rp)
}

func (b *Backend) RegisterFramebuffer(fb vk.Framebuffer) metadata.FramebufferHandle {
	return b.framebuffers.add(fb)
}

func (b *Backend) CreateCommandContext(threadID, index int) (metadata.ContextHandle, error) {
	var h metadata.ContextHandle
	err := b.locks.SafeCall(CommandPoolManagement, func() error {
		if b.caps.MaxContexts > 0 && b.contexts.len() >= b.caps.MaxContexts {
			return fmt.Errorf("vulkan: %d contexts already live", b.contexts.len())
		}
		cb, err := NewVulkanCommandBuffer(b.context, threadID, index)
		if err != nil {
			return err
		}
		h = b.contexts.add(cb)
		return nil
	})
	return h, err
}

func (b *Backend) DestroyCommandContext(h metadata.ContextHandle) error {
	return b.locks.SafeCall(CommandPoolManagement, func() error {
		cb, err := b.contexts.remove(h)
		if err != nil {
			return err
		}
		cb.Free(b.context)
		return nil
	})
}

func (b *Backend) BeginContext(h metadata.ContextHandle) error {
	cb, err := b.contexts.get(h)
	if err != nil {
		return err
	}
	if cb.Recording() {
		return renderer.ErrContextBusy
	}
	return cb.Begin()
}

func (b *Backend) EndContext(h metadata.ContextHandle) error {
	cb, err := b.contexts.get(h)
	if err != nil {
		return err
	}
	if !cb.Recording() {
		return renderer.ErrContextNotBegun
	}
	return cb.End()
}

func (b *Backend) ResetContext(h metadata.ContextHandle) error {
	cb, err := b.contexts.get(h)
	if err != nil {
		return err
	}
	return cb.Reset(b.context)
}

// recording returns the command buffer behind h if it is open for commands.
func (b *Backend) recording(h metadata.ContextHandle) (*VulkanCommandBuffer, error) {
	cb, err := b.contexts.get(h)
	if err != nil {
		return nil, err
	}
	if !cb.Recording() {
		return nil, fmt.Errorf("vulkan: context %d is %s: %w", h, cb.State, renderer.ErrContextNotBegun)
	}
	return cb, nil
}

func (b *Backend) RecordDraw(h metadata.ContextHandle, p metadata.DrawPayload) error {
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	vertices, bound, err := b.buffers.getOptional(p.VertexBuffer)
	if err != nil {
		return err
	}
	instances := max(p.InstanceCount, 1)
	if bound {
		vk.CmdBindVertexBuffers(cb.Handle, 0, 1, []vk.Buffer{vertices}, []vk.DeviceSize{0})
	}
	if p.Indexed() {
		indices, err := b.buffers.get(p.IndexBuffer)
		if err != nil {
			return err
		}
		vk.CmdBindIndexBuffer(cb.Handle, indices, 0, vk.IndexTypeUint32)
		vk.CmdDrawIndexed(cb.Handle, p.IndexCount, instances, p.FirstIndex, p.VertexOffset, p.FirstInstance)
		return nil
	}
	vk.CmdDraw(cb.Handle, p.VertexCount, instances, p.FirstVertex, p.FirstInstance)
	return nil
}

func (b *Backend) RecordComputeDispatch(h metadata.ContextHandle, p metadata.DispatchPayload) error {
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	vk.CmdDispatch(cb.Handle, max(p.GroupCountX, 1), max(p.GroupCountY, 1), max(p.GroupCountZ, 1))
	return nil
}

func (b *Backend) RecordResourceUpdate(h metadata.ContextHandle, p metadata.ResourceUpdatePayload) error {
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	if !validInlineUpdate(p.Offset, p.Data) {
		return fmt.Errorf("vulkan: update of %d bytes at %d: %w", len(p.Data), p.Offset, ErrInvalidUpdate)
	}
	dst, err := b.buffers.get(p.Buffer)
	if err != nil {
		return err
	}
	vk.CmdUpdateBuffer(cb.Handle, dst, vk.DeviceSize(p.Offset), vk.DeviceSize(len(p.Data)), (*uint32)(unsafe.Pointer(&p.Data[0])))
	return nil
}

func (b *Backend) RecordBarrier(h metadata.ContextHandle, p metadata.BarrierPayload) error {
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	if len(p.Textures) > 0 {
		return fmt.Errorf("vulkan: image barriers: %w", renderer.ErrFeatureUnsupported)
	}
	buffers := make([]vk.Buffer, 0, len(p.Buffers))
	for _, bh := range p.Buffers {
		buf, err := b.buffers.get(bh)
		if err != nil {
			return err
		}
		buffers = append(buffers, buf)
	}
	global := []vk.MemoryBarrier{memoryBarrier(p)}
	perBuffer := bufferBarriers(p, buffers)
	vk.CmdPipelineBarrier(cb.Handle, stageMask(p.SrcStage), stageMask(p.DstStage), 0,
		uint32(len(global)), global,
		uint32(len(perBuffer)), perBuffer,
		0, nil)
	return nil
}

func (b *Backend) RecordRenderPassBegin(h metadata.ContextHandle, p metadata.RenderPassBeginPayload) error {
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	if cb.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("vulkan: context %d: %w", h, renderer.ErrContextBusy)
	}
	rp, err := b.renderPasses.get(p.RenderPass)
	if err != nil {
		return err
	}
	fb, err := b.framebuffers.get(p.Framebuffer)
	if err != nil {
		return err
	}
	clears := clearValues(p)
	beginInfo := vk.RenderPassBeginInfo{
		SType:           vk.StructureTypeRenderPassBeginInfo,
		RenderPass:      rp,
		Framebuffer:     fb,
		RenderArea:      renderArea(p.RenderArea),
		ClearValueCount: uint32(len(clears)),
		PClearValues:    clears,
	}
	vk.CmdBeginRenderPass(cb.Handle, &beginInfo, vk.SubpassContentsInline)
	cb.State = COMMAND_BUFFER_STATE_IN_RENDER_PASS
	return nil
}

func (b *Backend) RecordRenderPassEnd(h metadata.ContextHandle, _ metadata.RenderPassEndPayload) error {
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	if cb.State != COMMAND_BUFFER_STATE_IN_RENDER_PASS {
		return fmt.Errorf("vulkan: context %d has no open render pass: %w", h, renderer.ErrContextNotBegun)
	}
	vk.CmdEndRenderPass(cb.Handle)
	cb.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (b *Backend) RecordPipelineBind(h metadata.ContextHandle, p metadata.PipelineBindPayload) error {
	if p.BindPoint == metadata.PIPELINE_BIND_POINT_RAY_TRACING {
		return fmt.Errorf("vulkan: ray tracing pipeline: %w", renderer.ErrFeatureUnsupported)
	}
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	pipeline, err := b.pipelines.get(p.Pipeline)
	if err != nil {
		return err
	}
	vk.CmdBindPipeline(cb.Handle, bindPoint(p.BindPoint), pipeline)
	return nil
}

func (b *Backend) RecordDescriptorBind(h metadata.ContextHandle, p metadata.DescriptorBindPayload) error {
	if p.BindPoint == metadata.PIPELINE_BIND_POINT_RAY_TRACING {
		return fmt.Errorf("vulkan: ray tracing descriptors: %w", renderer.ErrFeatureUnsupported)
	}
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	layout, err := b.layouts.get(p.Layout)
	if err != nil {
		return err
	}
	sets := make([]vk.DescriptorSet, 0, len(p.Sets))
	for _, sh := range p.Sets {
		set, err := b.descriptorSets.get(sh)
		if err != nil {
			return err
		}
		sets = append(sets, set)
	}
	vk.CmdBindDescriptorSets(cb.Handle, bindPoint(p.BindPoint), layout, p.FirstSet,
		uint32(len(sets)), sets, uint32(len(p.DynamicOffsets)), p.DynamicOffsets)
	return nil
}

// RecordRayTrace always fails: the backend does not enable the ray tracing
// extensions and reports so through Capabilities.
func (b *Backend) RecordRayTrace(metadata.ContextHandle, metadata.RayTracePayload) error {
	return fmt.Errorf("vulkan: ray trace: %w", renderer.ErrFeatureUnsupported)
}

func (b *Backend) RecordCopy(h metadata.ContextHandle, p metadata.CopyPayload) error {
	cb, err := b.recording(h)
	if err != nil {
		return err
	}
	src, err := b.buffers.get(p.Src)
	if err != nil {
		return err
	}
	dst, err := b.buffers.get(p.Dst)
	if err != nil {
		return err
	}
	vk.CmdCopyBuffer(cb.Handle, src, dst, 1, []vk.BufferCopy{bufferCopy(p)})
	return nil
}

// SubmitContexts submits the command buffers as one batch, in order, and
// attaches signal to it.
func (b *Backend) SubmitContexts(ctx context.Context, handles []metadata.ContextHandle, signal metadata.FenceHandle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buffers := make([]*VulkanCommandBuffer, 0, len(handles))
	raw := make([]vk.CommandBuffer, 0, len(handles))
	for _, h := range handles {
		cb, err := b.contexts.get(h)
		if err != nil {
			return err
		}
		if cb.State != COMMAND_BUFFER_STATE_RECORDING_ENDED {
			return fmt.Errorf("vulkan: submit context %d in state %s: %w", h, cb.State, renderer.ErrSubmitRejected)
		}
		buffers = append(buffers, cb)
		raw = append(raw, cb.Handle)
	}
	fence, err := b.submitFence(signal)
	if err != nil {
		return err
	}

	var submits []vk.SubmitInfo
	if len(raw) > 0 {
		submits = []vk.SubmitInfo{{
			SType:              vk.StructureTypeSubmitInfo,
			CommandBufferCount: uint32(len(raw)),
			PCommandBuffers:    raw,
		}}
	}
	err = b.locks.SafeQueueCall(b.context.QueueFamilyIndex, func() error {
		if res := vk.QueueSubmit(b.context.Queue, uint32(len(submits)), submits, fence); res != vk.Success {
			return fmt.Errorf("%w: %w", renderer.ErrSubmitRejected, resultError("queue submit", res))
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, cb := range buffers {
		cb.UpdateSubmitted()
	}
	core.LogDebug("vulkan: submitted %d command buffers", len(raw))
	return nil
}

// submitFence resolves the fence a submission signals. The zero handle
// submits without one.
func (b *Backend) submitFence(h metadata.FenceHandle) (vk.Fence, error) {
	if h == metadata.InvalidFenceHandle {
		return vk.NullFence, nil
	}
	f, err := b.fences.get(h)
	if err != nil {
		return vk.NullFence, err
	}
	return f.Handle, nil
}

func (b *Backend) CreateFence(signaled bool) (metadata.FenceHandle, error) {
	var h metadata.FenceHandle
	err := b.locks.SafeCall(SynchronizationManagement, func() error {
		f, err := NewFence(b.context, signaled)
		if err != nil {
			return err
		}
		h = b.fences.add(f)
		return nil
	})
	return h, err
}

func (b *Backend) DestroyFence(h metadata.FenceHandle) error {
	return b.locks.SafeCall(SynchronizationManagement, func() error {
		f, err := b.fences.remove(h)
		if err != nil {
			return err
		}
		f.Destroy(b.context)
		return nil
	})
}

func (b *Backend) WaitFence(ctx context.Context, h metadata.FenceHandle, timeout time.Duration) error {
	f, err := b.fences.get(h)
	if err != nil {
		return err
	}
	return f.Wait(ctx, b.context, timeout)
}

func (b *Backend) ResetFence(h metadata.FenceHandle) error {
	f, err := b.fences.get(h)
	if err != nil {
		return err
	}
	return b.locks.SafeCall(SynchronizationManagement, func() error {
		return f.Reset(b.context)
	})
}

// SignalFence submits an empty batch carrying the fence. The queue signals
// it once everything submitted before has finished.
func (b *Backend) SignalFence(h metadata.FenceHandle) error {
	f, err := b.fences.get(h)
	if err != nil {
		return err
	}
	return b.locks.SafeQueueCall(b.context.QueueFamilyIndex, func() error {
		if res := vk.QueueSubmit(b.context.Queue, 0, nil, f.Handle); res != vk.Success {
			return resultError("signal fence", res)
		}
		return nil
	})
}

// Destroy releases every command buffer and fence still registered. The
// registered host resources are left alone.
func (b *Backend) Destroy() {
	if b.context != nil && b.context.Device != nil {
		vk.DeviceWaitIdle(b.context.Device)
	}
	var contexts []metadata.ContextHandle
	b.contexts.each(func(h metadata.ContextHandle, _ *VulkanCommandBuffer) { contexts = append(contexts, h) })
	for _, h := range contexts {
		if err := b.DestroyCommandContext(h); err != nil {
			core.LogWarn("vulkan: %v", err)
		}
	}
	var fences []metadata.FenceHandle
	b.fences.each(func(h metadata.FenceHandle, _ *VulkanFence) { fences = append(fences, h) })
	for _, h := range fences {
		if err := b.DestroyFence(h); err != nil {
			core.LogWarn("vulkan: %v", err)
		}
	}
}
