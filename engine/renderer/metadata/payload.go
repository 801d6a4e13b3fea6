package metadata

/**
 * @brief The data carried by a work item. The set of payloads is closed: only
 * the types declared in this file implement it, and each one reports the kind
 * it belongs to.
 */
type WorkPayload interface {
	Kind() WorkKind
	isWorkPayload()
}

type DrawPayload struct {
	VertexBuffer  BufferHandle
	IndexBuffer   BufferHandle
	VertexCount   uint32
	IndexCount    uint32
	InstanceCount uint32
	FirstVertex   uint32
	FirstIndex    uint32
	VertexOffset  int32
	FirstInstance uint32
}

// Indexed reports whether the draw goes through the index buffer.
func (p DrawPayload) Indexed() bool {
	return p.IndexBuffer != 0 && p.IndexCount > 0
}

type DispatchPayload struct {
	GroupCountX uint32
	GroupCountY uint32
	GroupCountZ uint32
}

type ResourceUpdatePayload struct {
	Buffer BufferHandle
	Offset uint64
	Data   []byte
}

type BarrierPayload struct {
	SrcStage  PipelineStage
	DstStage  PipelineStage
	SrcAccess AccessFlags
	DstAccess AccessFlags
	Buffers   []BufferHandle
	Textures  []TextureHandle
}

type RenderPassBeginPayload struct {
	RenderPass   RenderPassHandle
	Framebuffer  FramebufferHandle
	RenderArea   Rect2D
	ClearColor   [4]float32
	ClearDepth   float32
	ClearStencil uint32
}

type RenderPassEndPayload struct {
	RenderPass RenderPassHandle
}

type PipelineBindPayload struct {
	Pipeline  PipelineHandle
	BindPoint PipelineBindPoint
}

type DescriptorBindPayload struct {
	Layout         PipelineLayoutHandle
	BindPoint      PipelineBindPoint
	FirstSet       uint32
	Sets           []DescriptorSetHandle
	DynamicOffsets []uint32
}

type RayTracePayload struct {
	Pipeline           PipelineHandle
	ShaderBindingTable BufferHandle
	Scene              AccelerationStructureHandle
	Width              uint32
	Height             uint32
	Depth              uint32
}

type CopyPayload struct {
	Src       BufferHandle
	Dst       BufferHandle
	SrcOffset uint64
	DstOffset uint64
	Size      uint64
}

func (DrawPayload) Kind() WorkKind            { return WORK_KIND_DRAW }
func (DispatchPayload) Kind() WorkKind        { return WORK_KIND_COMPUTE_DISPATCH }
func (ResourceUpdatePayload) Kind() WorkKind  { return WORK_KIND_RESOURCE_UPDATE }
func (BarrierPayload) Kind() WorkKind         { return WORK_KIND_BARRIER }
func (RenderPassBeginPayload) Kind() WorkKind { return WORK_KIND_RENDER_PASS_BEGIN }
func (RenderPassEndPayload) Kind() WorkKind   { return WORK_KIND_RENDER_PASS_END }
func (PipelineBindPayload) Kind() WorkKind    { return WORK_KIND_PIPELINE_BIND }
func (DescriptorBindPayload) Kind() WorkKind  { return WORK_KIND_DESCRIPTOR_BIND }
func (RayTracePayload) Kind() WorkKind        { return WORK_KIND_RAY_TRACE }
func (CopyPayload) Kind() WorkKind            { return WORK_KIND_COPY }

func (DrawPayload) isWorkPayload()            {}
func (DispatchPayload) isWorkPayload()        {}
func (ResourceUpdatePayload) isWorkPayload()  {}
func (BarrierPayload) isWorkPayload()         {}
func (RenderPassBeginPayload) isWorkPayload() {}
func (RenderPassEndPayload) isWorkPayload()   {}
func (PipelineBindPayload) isWorkPayload()    {}
func (DescriptorBindPayload) isWorkPayload()  {}
func (RayTracePayload) isWorkPayload()        {}
func (CopyPayload) isWorkPayload()            {}
