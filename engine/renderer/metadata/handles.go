package metadata

/**
 * @brief Opaque handles issued by a backend. The scheduler never looks inside
 * them; a zero value is always invalid.
 */
type (
	ContextHandle               uint64
	FenceHandle                 uint64
	PipelineHandle              uint64
	PipelineLayoutHandle        uint64
	DescriptorSetHandle         uint64
	BufferHandle                uint64
	TextureHandle               uint64
	RenderPassHandle            uint64
	FramebufferHandle           uint64
	AccelerationStructureHandle uint64
)

const (
	InvalidContextHandle ContextHandle = 0
	InvalidFenceHandle   FenceHandle   = 0
)

/** @brief The pipeline a bind or descriptor operation targets. */
type PipelineBindPoint uint8

const (
	PIPELINE_BIND_POINT_GRAPHICS PipelineBindPoint = iota
	PIPELINE_BIND_POINT_COMPUTE
	PIPELINE_BIND_POINT_RAY_TRACING
)

/** @brief Pipeline stages used by barriers. Values can be OR-ed together. */
type PipelineStage uint32

const (
	PIPELINE_STAGE_TOP_OF_PIPE     PipelineStage = 0x0001
	PIPELINE_STAGE_VERTEX_INPUT    PipelineStage = 0x0004
	PIPELINE_STAGE_VERTEX_SHADER   PipelineStage = 0x0008
	PIPELINE_STAGE_FRAGMENT_SHADER PipelineStage = 0x0080
	PIPELINE_STAGE_COLOR_OUTPUT    PipelineStage = 0x0400
	PIPELINE_STAGE_COMPUTE_SHADER  PipelineStage = 0x0800
	PIPELINE_STAGE_TRANSFER        PipelineStage = 0x1000
	PIPELINE_STAGE_BOTTOM_OF_PIPE  PipelineStage = 0x2000
	PIPELINE_STAGE_ALL_COMMANDS    PipelineStage = 0x10000
)

/** @brief Memory access kinds used by barriers. Values can be OR-ed together. */
type AccessFlags uint32

const (
	ACCESS_NONE           AccessFlags = 0x0000
	ACCESS_SHADER_READ    AccessFlags = 0x0020
	ACCESS_SHADER_WRITE   AccessFlags = 0x0040
	ACCESS_COLOR_WRITE    AccessFlags = 0x0100
	ACCESS_TRANSFER_READ  AccessFlags = 0x0800
	ACCESS_TRANSFER_WRITE AccessFlags = 0x1000
	ACCESS_MEMORY_READ    AccessFlags = 0x8000
	ACCESS_MEMORY_WRITE   AccessFlags = 0x10000
)

type Rect2D struct {
	X, Y          int32
	Width, Height uint32
}
