package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
	"github.com/spaghettifunk/anima-sched/engine/renderer/software"
)

func TestRecordingContextStates(t *testing.T) {
	backend := software.New()
	rc, err := newRecordingContext(backend, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, CONTEXT_STATE_IDLE, rc.State())

	assert.ErrorIs(t, rc.EndRecording(), ErrInvalidStateTransition)

	require.NoError(t, rc.BeginRecording(7))
	assert.Equal(t, CONTEXT_STATE_RECORDING, rc.State())
	assert.Equal(t, uint64(7), rc.Frame())
	assert.ErrorIs(t, rc.BeginRecording(8), ErrInvalidStateTransition)

	require.NoError(t, rc.EndRecording())
	assert.Equal(t, CONTEXT_STATE_RECORDED, rc.State())
	assert.ErrorIs(t, rc.BeginRecording(8), ErrInvalidStateTransition)

	rc.markSubmitted()
	assert.Equal(t, CONTEXT_STATE_SUBMITTED, rc.State())
	assert.ErrorIs(t, rc.BeginRecording(8), ErrInvalidStateTransition)

	require.NoError(t, rc.Reset())
	assert.Equal(t, CONTEXT_STATE_IDLE, rc.State())
	require.NoError(t, rc.BeginRecording(8))

	require.NoError(t, rc.destroy())
	assert.Zero(t, backend.LiveContexts())
}

func TestRecordingContextRecord(t *testing.T) {
	backend := software.New()
	rc, err := newRecordingContext(backend, 1, 0)
	require.NoError(t, err)

	bind := metadata.PipelineBindPayload{Pipeline: 42, BindPoint: metadata.PIPELINE_BIND_POINT_GRAPHICS}
	recordBind := func(h metadata.ContextHandle) error { return backend.RecordPipelineBind(h, bind) }

	assert.ErrorIs(t, rc.record(bind, recordBind), ErrNotRecording)

	require.NoError(t, rc.BeginRecording(1))
	require.NoError(t, rc.record(bind, recordBind))
	d := metadata.DrawPayload{VertexCount: 3}
	require.NoError(t, rc.record(d, func(h metadata.ContextHandle) error { return backend.RecordDraw(h, d) }))

	assert.Equal(t, uint32(2), rc.CommandCount())
	assert.Equal(t, metadata.PipelineHandle(42), rc.BoundPipeline())
	assert.Len(t, backend.Commands(rc.Handle()), 2)

	require.NoError(t, rc.Reset())
	assert.Zero(t, rc.CommandCount())
	assert.Zero(t, rc.BoundPipeline())
}

func TestRecordingContextPoolExhausted(t *testing.T) {
	backend := software.New(software.WithMaxContexts(1))
	_, err := newRecordingContext(backend, 0, 0)
	require.NoError(t, err)

	_, err = newRecordingContext(backend, 0, 1)
	assert.ErrorIs(t, err, ErrContextPoolExhausted)
}

func TestRecordPayloadDispatch(t *testing.T) {
	backend := software.New()
	h, err := backend.CreateCommandContext(0, 0)
	require.NoError(t, err)
	require.NoError(t, backend.BeginContext(h))

	payloads := []metadata.WorkPayload{
		metadata.DrawPayload{VertexCount: 3},
		metadata.DispatchPayload{GroupCountX: 8, GroupCountY: 8, GroupCountZ: 1},
		metadata.ResourceUpdatePayload{Buffer: 1, Data: []byte{1, 2}},
		metadata.BarrierPayload{SrcStage: metadata.PIPELINE_STAGE_COMPUTE_SHADER, DstStage: metadata.PIPELINE_STAGE_FRAGMENT_SHADER},
		metadata.RenderPassBeginPayload{RenderPass: 1, Framebuffer: 1},
		metadata.RenderPassEndPayload{RenderPass: 1},
		metadata.PipelineBindPayload{Pipeline: 2},
		metadata.DescriptorBindPayload{Layout: 3, Sets: []metadata.DescriptorSetHandle{4}},
		metadata.RayTracePayload{Pipeline: 5, Width: 4, Height: 4, Depth: 1},
		metadata.CopyPayload{Src: 1, Dst: 2, Size: 16},
	}
	for _, p := range payloads {
		require.NoError(t, recordPayload(backend, h, p), p.Kind().String())
	}

	cmds := backend.Commands(h)
	require.Len(t, cmds, len(payloads))
	for i, p := range payloads {
		assert.Equal(t, p.Kind(), cmds[i].Kind)
	}

	assert.ErrorIs(t, recordPayload(backend, h, nil), ErrUnknownPayload)
}
