package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

type VulkanCommandBufferState int

const (
	COMMAND_BUFFER_STATE_READY VulkanCommandBufferState = iota
	COMMAND_BUFFER_STATE_RECORDING
	COMMAND_BUFFER_STATE_IN_RENDER_PASS
	COMMAND_BUFFER_STATE_RECORDING_ENDED
	COMMAND_BUFFER_STATE_SUBMITTED
	COMMAND_BUFFER_STATE_NOT_ALLOCATED
)

func (s VulkanCommandBufferState) String() string {
	switch s {
	case COMMAND_BUFFER_STATE_READY:
		return "ready"
	case COMMAND_BUFFER_STATE_RECORDING:
		return "recording"
	case COMMAND_BUFFER_STATE_IN_RENDER_PASS:
		return "in render pass"
	case COMMAND_BUFFER_STATE_RECORDING_ENDED:
		return "recording ended"
	case COMMAND_BUFFER_STATE_SUBMITTED:
		return "submitted"
	case COMMAND_BUFFER_STATE_NOT_ALLOCATED:
		return "not allocated"
	}
	return fmt.Sprintf("VulkanCommandBufferState(%d)", int(s))
}

// VulkanCommandBuffer is a primary command buffer with a command pool of its
// own. A pool must only be used from one thread at a time, so giving every
// buffer its own pool lets workers record without sharing one.
type VulkanCommandBuffer struct {
	Handle vk.CommandBuffer
	Pool   vk.CommandPool
	State  VulkanCommandBufferState

	ThreadID int
	Index    int
}

func NewVulkanCommandBuffer(context *VulkanContext, threadID, index int) (*VulkanCommandBuffer, error) {
	cb := &VulkanCommandBuffer{
		State:    COMMAND_BUFFER_STATE_NOT_ALLOCATED,
		ThreadID: threadID,
		Index:    index,
	}

	poolInfo := vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: context.QueueFamilyIndex,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateTransientBit),
	}
	if res := vk.CreateCommandPool(context.Device, &poolInfo, context.Allocator, &cb.Pool); res != vk.Success {
		return nil, resultError("create command pool", res)
	}

	allocateInfo := vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        cb.Pool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	handles := make([]vk.CommandBuffer, 1)
	if res := vk.AllocateCommandBuffers(context.Device, &allocateInfo, handles); res != vk.Success {
		vk.DestroyCommandPool(context.Device, cb.Pool, context.Allocator)
		return nil, resultError("allocate command buffer", res)
	}
	cb.Handle = handles[0]
	cb.State = COMMAND_BUFFER_STATE_READY
	return cb, nil
}

// Free releases the buffer together with its pool.
func (v *VulkanCommandBuffer) Free(context *VulkanContext) {
	if v.Handle != nil {
		vk.FreeCommandBuffers(context.Device, v.Pool, 1, []vk.CommandBuffer{v.Handle})
		v.Handle = nil
	}
	if v.Pool != nil {
		vk.DestroyCommandPool(context.Device, v.Pool, context.Allocator)
		v.Pool = nil
	}
	v.State = COMMAND_BUFFER_STATE_NOT_ALLOCATED
}

// Begin starts a one-time-submit recording.
func (v *VulkanCommandBuffer) Begin() error {
	beginInfo := &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
		Flags: vk.CommandBufferUsageFlags(vk.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vk.BeginCommandBuffer(v.Handle, beginInfo); res != vk.Success {
		return resultError("begin command buffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING
	return nil
}

func (v *VulkanCommandBuffer) End() error {
	if res := vk.EndCommandBuffer(v.Handle); res != vk.Success {
		return resultError("end command buffer", res)
	}
	v.State = COMMAND_BUFFER_STATE_RECORDING_ENDED
	return nil
}

func (v *VulkanCommandBuffer) UpdateSubmitted() {
	v.State = COMMAND_BUFFER_STATE_SUBMITTED
}

// Reset recycles everything allocated from the buffer's pool.
func (v *VulkanCommandBuffer) Reset(context *VulkanContext) error {
	if res := vk.ResetCommandPool(context.Device, v.Pool, 0); res != vk.Success {
		return resultError("reset command pool", res)
	}
	v.State = COMMAND_BUFFER_STATE_READY
	return nil
}

// Recording reports whether commands may be recorded into the buffer.
func (v *VulkanCommandBuffer) Recording() bool {
	return v.State == COMMAND_BUFFER_STATE_RECORDING || v.State == COMMAND_BUFFER_STATE_IN_RENDER_PASS
}
