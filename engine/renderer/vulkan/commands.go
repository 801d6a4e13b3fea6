package vulkan

import (
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

// MaxInlineUpdateSize is the largest payload vkCmdUpdateBuffer accepts.
const MaxInlineUpdateSize = 65536

// VK_PIPELINE_BIND_POINT_RAY_TRACING_KHR
const pipelineBindPointRayTracing vk.PipelineBindPoint = 1000165000

func bindPoint(p metadata.PipelineBindPoint) vk.PipelineBindPoint {
	switch p {
	case metadata.PIPELINE_BIND_POINT_COMPUTE:
		return vk.PipelineBindPointCompute
	case metadata.PIPELINE_BIND_POINT_RAY_TRACING:
		return pipelineBindPointRayTracing
	}
	return vk.PipelineBindPointGraphics
}

// stageMask defaults an empty stage set to all commands, which Vulkan
// rejects as zero.
func stageMask(s metadata.PipelineStage) vk.PipelineStageFlags {
	if s == 0 {
		return vk.PipelineStageFlags(metadata.PIPELINE_STAGE_ALL_COMMANDS)
	}
	return vk.PipelineStageFlags(s)
}

func memoryBarrier(p metadata.BarrierPayload) vk.MemoryBarrier {
	return vk.MemoryBarrier{
		SType:         vk.StructureTypeMemoryBarrier,
		SrcAccessMask: vk.AccessFlags(p.SrcAccess),
		DstAccessMask: vk.AccessFlags(p.DstAccess),
	}
}

func bufferBarriers(p metadata.BarrierPayload, buffers []vk.Buffer) []vk.BufferMemoryBarrier {
	out := make([]vk.BufferMemoryBarrier, 0, len(buffers))
	for _, b := range buffers {
		out = append(out, vk.BufferMemoryBarrier{
			SType:               vk.StructureTypeBufferMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(p.SrcAccess),
			DstAccessMask:       vk.AccessFlags(p.DstAccess),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Buffer:              b,
			Offset:              0,
			Size:                vk.DeviceSize(vk.WholeSize),
		})
	}
	return out
}

func renderArea(r metadata.Rect2D) vk.Rect2D {
	return vk.Rect2D{
		Offset: vk.Offset2D{X: r.X, Y: r.Y},
		Extent: vk.Extent2D{Width: r.Width, Height: r.Height},
	}
}

func clearValues(p metadata.RenderPassBeginPayload) []vk.ClearValue {
	values := make([]vk.ClearValue, 2)
	values[0].SetColor(p.ClearColor[:])
	values[1].SetDepthStencil(p.ClearDepth, p.ClearStencil)
	return values
}

func bufferCopy(p metadata.CopyPayload) vk.BufferCopy {
	return vk.BufferCopy{
		SrcOffset: vk.DeviceSize(p.SrcOffset),
		DstOffset: vk.DeviceSize(p.DstOffset),
		Size:      vk.DeviceSize(p.Size),
	}
}

// validInlineUpdate reports whether data can go through vkCmdUpdateBuffer:
// non-empty, a multiple of four bytes and at most MaxInlineUpdateSize.
func validInlineUpdate(offset uint64, data []byte) bool {
	return len(data) > 0 && len(data)%4 == 0 && len(data) <= MaxInlineUpdateSize && offset%4 == 0
}
