package metadata

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWorkItemDerivesKind(t *testing.T) {
	w := NewWorkItem(BarrierPayload{SrcStage: PIPELINE_STAGE_TRANSFER, DstStage: PIPELINE_STAGE_VERTEX_INPUT},
		WithPriority(WORK_PRIORITY_CRITICAL),
		WithDependencies(3, 4),
		WithDebugName("upload fence"),
	)

	assert.Equal(t, WORK_KIND_BARRIER, w.Kind)
	assert.Equal(t, WORK_PRIORITY_CRITICAL, w.Priority)
	assert.Equal(t, []WorkItemID{3, 4}, w.Dependencies)
	assert.Equal(t, NoAffinity, w.Affinity())
	assert.False(t, w.HasAffinity())
	require.NoError(t, w.Validate())
}

func TestValidateRejectsMismatchedPayload(t *testing.T) {
	w := NewWorkItem(DrawPayload{VertexCount: 3})
	w.Kind = WORK_KIND_COPY

	err := w.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPayloadKindMismatch))

	assert.ErrorIs(t, WorkItem{}.Validate(), ErrMissingPayload)

	w = NewWorkItem(CopyPayload{Size: 4}, WithPriority(WorkPriority(9)))
	assert.ErrorIs(t, w.Validate(), ErrInvalidPriority)
}

func TestEveryKindHasOnePayload(t *testing.T) {
	payloads := []WorkPayload{
		DrawPayload{}, DispatchPayload{}, ResourceUpdatePayload{}, BarrierPayload{},
		RenderPassBeginPayload{}, RenderPassEndPayload{}, PipelineBindPayload{},
		DescriptorBindPayload{}, RayTracePayload{}, CopyPayload{},
	}
	require.Len(t, payloads, int(WORK_KIND_MAX))

	seen := map[WorkKind]bool{}
	for _, p := range payloads {
		assert.False(t, seen[p.Kind()], "kind %s claimed twice", p.Kind())
		seen[p.Kind()] = true
		assert.NotContains(t, p.Kind().String(), "WorkKind(")
	}
}

func TestRecordingTime(t *testing.T) {
	w := WorkItem{}
	assert.Zero(t, w.RecordingTime())

	now := time.Now()
	w.StartTime = now
	w.EndTime = now.Add(3 * time.Millisecond)
	assert.Equal(t, 3*time.Millisecond, w.RecordingTime())
}

func TestDrawIndexed(t *testing.T) {
	assert.False(t, DrawPayload{VertexCount: 3}.Indexed())
	assert.True(t, DrawPayload{IndexBuffer: 7, IndexCount: 6}.Indexed())
}

func TestZeroValueHasNoAffinity(t *testing.T) {
	w := WorkItem{Kind: WORK_KIND_DRAW, Payload: DrawPayload{VertexCount: 3}}
	assert.False(t, w.HasAffinity())
	assert.Equal(t, NoAffinity, w.Affinity())

	w.SetAffinity(0)
	assert.True(t, w.HasAffinity())
	assert.Equal(t, 0, w.Affinity())

	w.SetAffinity(NoAffinity)
	assert.False(t, w.HasAffinity())
}
