package testbed

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/exp/rand"

	"github.com/spaghettifunk/anima-sched/engine"
	"github.com/spaghettifunk/anima-sched/engine/core"
	amath "github.com/spaghettifunk/anima-sched/engine/math"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-sched/engine/scheduler"
)

// Resources are the backend handles the testbed records against. Work that
// would need a zero handle is not submitted.
type Resources struct {
	RenderPass      metadata.RenderPassHandle
	Framebuffer     metadata.FramebufferHandle
	Pipeline        metadata.PipelineHandle
	ComputePipeline metadata.PipelineHandle
	Layout          metadata.PipelineLayoutHandle
	DescriptorSet   metadata.DescriptorSetHandle
	VertexBuffer    metadata.BufferHandle
	IndexBuffer     metadata.BufferHandle
	Staging         metadata.BufferHandle
	Target          metadata.BufferHandle
	RayTracing      bool
}

// SoftwareResources returns placeholder handles. The software backend
// records payloads without resolving them.
func SoftwareResources() Resources {
	return Resources{
		RenderPass:      1,
		Framebuffer:     1,
		Pipeline:        1,
		ComputePipeline: 2,
		Layout:          1,
		DescriptorSet:   1,
		VertexBuffer:    1,
		IndexBuffer:     2,
		Staging:         3,
		Target:          4,
	}
}

type TestGame struct {
	*engine.Game
}

type gameState struct {
	resources Resources
	rng       *rand.Rand

	width  uint32
	height uint32
	// elapsed drives the clear color.
	elapsed float64

	maxDraws  int
	submitted atomic.Uint64
	completed atomic.Uint64
	failed    atomic.Uint64
	rejected  atomic.Uint64
}

func NewTestGame(appConfig *engine.ApplicationConfig, resources Resources, seed uint64) *TestGame {
	tg := &TestGame{
		Game: &engine.Game{
			ApplicationConfig: appConfig,
			State: &gameState{
				resources: resources,
				rng:       rand.New(rand.NewSource(seed)),
				width:     1280,
				height:    720,
				maxDraws:  24,
			},
		},
	}

	tg.FnInitialize = tg.Initialize
	tg.FnUpdate = tg.Update
	tg.FnRender = tg.Render
	tg.FnShutdown = tg.Shutdown

	return tg
}

func (g *TestGame) state() *gameState {
	return g.State.(*gameState)
}

// Totals returns how many items were submitted, recorded, failed while
// recording and refused at submission.
func (g *TestGame) Totals() (submitted, completed, failed, rejected uint64) {
	s := g.state()
	return s.submitted.Load(), s.completed.Load(), s.failed.Load(), s.rejected.Load()
}

func (g *TestGame) Initialize(s *scheduler.Scheduler) error {
	core.LogInfo("testbed running on %d workers, strategy %s", len(s.Workers()), s.Tuning().LoadBalancing)
	return nil
}

func (g *TestGame) Update(deltaTime float64) error {
	g.state().elapsed += deltaTime
	return nil
}

// submit queues item and tracks its outcome. A refused item is counted and
// logged but does not fail the frame.
func (g *TestGame) submit(s *scheduler.Scheduler, payload metadata.WorkPayload, opts ...metadata.WorkItemOption) metadata.WorkItemID {
	st := g.state()
	opts = append(opts,
		metadata.WithOnComplete(func(metadata.WorkItem) { st.completed.Add(1) }),
		metadata.WithOnFailure(func(item metadata.WorkItem, err error) {
			st.failed.Add(1)
			core.LogWarn("recording %s failed: %v", item, err)
		}),
	)
	id, err := s.SubmitWork(metadata.NewWorkItem(payload, opts...))
	if err != nil {
		st.rejected.Add(1)
		core.LogWarn("submit %s: %v", payload.Kind(), err)
		return metadata.InvalidWorkItemID
	}
	st.submitted.Add(1)
	return id
}

// Render submits one frame of work: a pinned render pass with a random
// number of draws, a compute dispatch guarded by a barrier, an upload with
// a copy, and a ray trace when the backend can do it.
func (g *TestGame) Render(s *scheduler.Scheduler, frame uint64, deltaTime float64) error {
	st := g.state()
	res := st.resources

	if res.RenderPass != 0 && res.Framebuffer != 0 && res.Pipeline != 0 {
		g.renderPass(s, frame)
	}
	if res.ComputePipeline != 0 {
		g.compute(s, frame)
	}
	if res.Staging != 0 && res.Target != 0 {
		g.upload(s, frame)
	}
	if res.RayTracing && res.Pipeline != 0 {
		g.submit(s, metadata.RayTracePayload{Pipeline: res.Pipeline, Width: st.width, Height: st.height, Depth: 1},
			metadata.WithPriority(metadata.WORK_PRIORITY_LOW),
			metadata.WithDebugName("reflections"))
	}
	core.LogDebug("frame %d submitted, delta %.4fs", frame, deltaTime)
	return nil
}

// renderPass keeps the whole pass on one worker so its commands land in that
// worker's contexts in dependency order. The worker rotates per frame.
func (g *TestGame) renderPass(s *scheduler.Scheduler, frame uint64) {
	st := g.state()
	res := st.resources
	worker := int(frame % uint64(len(s.Workers())))
	pinned := metadata.WithAffinity(worker)

	pulse := float32(amath.Clamp(st.elapsed-float64(int(st.elapsed)), 0, 1))
	begin := g.submit(s, metadata.RenderPassBeginPayload{
		RenderPass:  res.RenderPass,
		Framebuffer: res.Framebuffer,
		RenderArea:  metadata.Rect2D{Width: st.width, Height: st.height},
		ClearColor:  [4]float32{0.1, 0.1, pulse, 1},
		ClearDepth:  1,
	}, pinned, metadata.WithPriority(metadata.WORK_PRIORITY_CRITICAL), metadata.WithDebugName("main pass begin"))
	if begin == metadata.InvalidWorkItemID {
		return
	}

	bind := g.submit(s, metadata.PipelineBindPayload{Pipeline: res.Pipeline},
		pinned, metadata.WithPriority(metadata.WORK_PRIORITY_HIGH), metadata.WithDependencies(begin))
	if bind == metadata.InvalidWorkItemID {
		return
	}
	after := []metadata.WorkItemID{bind}
	if res.Layout != 0 && res.DescriptorSet != 0 {
		sets := g.submit(s, metadata.DescriptorBindPayload{
			Layout: res.Layout,
			Sets:   []metadata.DescriptorSetHandle{res.DescriptorSet},
		}, pinned, metadata.WithPriority(metadata.WORK_PRIORITY_HIGH), metadata.WithDependencies(bind))
		if sets != metadata.InvalidWorkItemID {
			after = []metadata.WorkItemID{sets}
		}
	}

	draws := make([]metadata.WorkItemID, 0, st.maxDraws)
	count := 1 + st.rng.Intn(st.maxDraws)
	for i := 0; i < count; i++ {
		draw := metadata.DrawPayload{VertexBuffer: res.VertexBuffer, VertexCount: uint32(3 * (1 + st.rng.Intn(64)))}
		if res.IndexBuffer != 0 && st.rng.Intn(2) == 0 {
			draw.IndexBuffer = res.IndexBuffer
			draw.IndexCount = draw.VertexCount
		}
		id := g.submit(s, draw,
			pinned,
			metadata.WithDependencies(after...),
			metadata.WithDebugName(fmt.Sprintf("mesh %d", i)))
		if id != metadata.InvalidWorkItemID {
			draws = append(draws, id)
		}
	}

	g.submit(s, metadata.RenderPassEndPayload{RenderPass: res.RenderPass},
		pinned, metadata.WithPriority(metadata.WORK_PRIORITY_HIGH), metadata.WithDependencies(append(draws, after...)...),
		metadata.WithDebugName("main pass end"))
}

func (g *TestGame) compute(s *scheduler.Scheduler, frame uint64) {
	res := g.state().resources
	bind := g.submit(s, metadata.PipelineBindPayload{Pipeline: res.ComputePipeline, BindPoint: metadata.PIPELINE_BIND_POINT_COMPUTE})
	if bind == metadata.InvalidWorkItemID {
		return
	}
	dispatch := g.submit(s, metadata.DispatchPayload{GroupCountX: 64, GroupCountY: 1 + uint32(frame%4), GroupCountZ: 1},
		metadata.WithDependencies(bind), metadata.WithDebugName("particles"))
	if dispatch == metadata.InvalidWorkItemID {
		return
	}
	g.submit(s, metadata.BarrierPayload{
		SrcStage:  metadata.PIPELINE_STAGE_COMPUTE_SHADER,
		DstStage:  metadata.PIPELINE_STAGE_VERTEX_INPUT,
		SrcAccess: metadata.ACCESS_SHADER_WRITE,
		DstAccess: metadata.ACCESS_SHADER_READ,
	}, metadata.WithPriority(metadata.WORK_PRIORITY_CRITICAL), metadata.WithDependencies(dispatch))
}

func (g *TestGame) upload(s *scheduler.Scheduler, frame uint64) {
	st := g.state()
	res := st.resources

	data := make([]byte, 256)
	st.rng.Read(data)
	update := g.submit(s, metadata.ResourceUpdatePayload{Buffer: res.Staging, Data: data},
		metadata.WithPriority(metadata.WORK_PRIORITY_LOW), metadata.WithDebugName(fmt.Sprintf("upload %d", frame)))
	if update == metadata.InvalidWorkItemID {
		return
	}
	visible := g.submit(s, metadata.BarrierPayload{
		SrcStage:  metadata.PIPELINE_STAGE_TRANSFER,
		DstStage:  metadata.PIPELINE_STAGE_TRANSFER,
		SrcAccess: metadata.ACCESS_TRANSFER_WRITE,
		DstAccess: metadata.ACCESS_TRANSFER_READ,
		Buffers:   []metadata.BufferHandle{res.Staging},
	}, metadata.WithPriority(metadata.WORK_PRIORITY_LOW), metadata.WithDependencies(update))
	if visible == metadata.InvalidWorkItemID {
		return
	}
	g.submit(s, metadata.CopyPayload{Src: res.Staging, Dst: res.Target, Size: uint64(len(data))},
		metadata.WithPriority(metadata.WORK_PRIORITY_LOW), metadata.WithDependencies(visible))
}

func (g *TestGame) Shutdown() error {
	submitted, completed, failed, rejected := g.Totals()
	core.LogInfo("testbed shutting down: %d submitted, %d recorded, %d failed, %d rejected", submitted, completed, failed, rejected)
	return nil
}
