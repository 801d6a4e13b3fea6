package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"

	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

func TestBindPoint(t *testing.T) {
	assert.Equal(t, vk.PipelineBindPointGraphics, bindPoint(metadata.PIPELINE_BIND_POINT_GRAPHICS))
	assert.Equal(t, vk.PipelineBindPointCompute, bindPoint(metadata.PIPELINE_BIND_POINT_COMPUTE))
	assert.Equal(t, pipelineBindPointRayTracing, bindPoint(metadata.PIPELINE_BIND_POINT_RAY_TRACING))
}

func TestStageMask(t *testing.T) {
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageAllCommandsBit), stageMask(0))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageTransferBit), stageMask(metadata.PIPELINE_STAGE_TRANSFER))
	assert.Equal(t,
		vk.PipelineStageFlags(vk.PipelineStageVertexShaderBit|vk.PipelineStageFragmentShaderBit),
		stageMask(metadata.PIPELINE_STAGE_VERTEX_SHADER|metadata.PIPELINE_STAGE_FRAGMENT_SHADER))
	assert.Equal(t, vk.PipelineStageFlags(vk.PipelineStageComputeShaderBit), stageMask(metadata.PIPELINE_STAGE_COMPUTE_SHADER))
}

func TestBarriers(t *testing.T) {
	p := metadata.BarrierPayload{
		SrcStage:  metadata.PIPELINE_STAGE_TRANSFER,
		DstStage:  metadata.PIPELINE_STAGE_VERTEX_INPUT,
		SrcAccess: metadata.ACCESS_TRANSFER_WRITE,
		DstAccess: metadata.ACCESS_SHADER_READ,
	}

	mb := memoryBarrier(p)
	assert.Equal(t, vk.StructureTypeMemoryBarrier, mb.SType)
	assert.Equal(t, vk.AccessFlags(vk.AccessTransferWriteBit), mb.SrcAccessMask)
	assert.Equal(t, vk.AccessFlags(vk.AccessShaderReadBit), mb.DstAccessMask)

	assert.Empty(t, bufferBarriers(p, nil))

	bbs := bufferBarriers(p, []vk.Buffer{nil, nil})
	assert.Len(t, bbs, 2)
	for _, bb := range bbs {
		assert.Equal(t, vk.StructureTypeBufferMemoryBarrier, bb.SType)
		assert.Equal(t, uint32(vk.QueueFamilyIgnored), bb.SrcQueueFamilyIndex)
		assert.Equal(t, uint32(vk.QueueFamilyIgnored), bb.DstQueueFamilyIndex)
		assert.Equal(t, vk.DeviceSize(vk.WholeSize), bb.Size)
		assert.Equal(t, mb.SrcAccessMask, bb.SrcAccessMask)
	}
}

func TestRenderAreaAndCopy(t *testing.T) {
	area := renderArea(metadata.Rect2D{X: 4, Y: 8, Width: 640, Height: 480})
	assert.Equal(t, int32(4), area.Offset.X)
	assert.Equal(t, int32(8), area.Offset.Y)
	assert.Equal(t, uint32(640), area.Extent.Width)
	assert.Equal(t, uint32(480), area.Extent.Height)

	region := bufferCopy(metadata.CopyPayload{Src: 1, Dst: 2, SrcOffset: 16, DstOffset: 32, Size: 256})
	assert.Equal(t, vk.DeviceSize(16), region.SrcOffset)
	assert.Equal(t, vk.DeviceSize(32), region.DstOffset)
	assert.Equal(t, vk.DeviceSize(256), region.Size)
}

func TestValidInlineUpdate(t *testing.T) {
	assert.True(t, validInlineUpdate(0, make([]byte, 4)))
	assert.True(t, validInlineUpdate(64, make([]byte, MaxInlineUpdateSize)))
	assert.False(t, validInlineUpdate(0, nil))
	assert.False(t, validInlineUpdate(0, make([]byte, 6)))
	assert.False(t, validInlineUpdate(2, make([]byte, 8)))
	assert.False(t, validInlineUpdate(0, make([]byte, MaxInlineUpdateSize+4)))
}
