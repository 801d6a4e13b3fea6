package scheduler

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/anima-sched/engine/renderer"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

type ContextState int

const (
	CONTEXT_STATE_IDLE ContextState = iota
	CONTEXT_STATE_RECORDING
	CONTEXT_STATE_RECORDED
	CONTEXT_STATE_SUBMITTED
)

func (s ContextState) String() string {
	switch s {
	case CONTEXT_STATE_IDLE:
		return "idle"
	case CONTEXT_STATE_RECORDING:
		return "recording"
	case CONTEXT_STATE_RECORDED:
		return "recorded"
	case CONTEXT_STATE_SUBMITTED:
		return "submitted"
	}
	return fmt.Sprintf("ContextState(%d)", int(s))
}

// RecordingContext wraps one backend command context. It is owned by a
// single worker; the scheduler only touches it while the frame gate is held
// exclusively, so it carries no lock of its own.
type RecordingContext struct {
	backend renderer.CommandBackend
	handle  metadata.ContextHandle
	owner   int
	index   int

	state         ContextState
	frame         uint64
	commandCount  uint32
	boundPipeline metadata.PipelineHandle
	recordingTime time.Duration
}

func newRecordingContext(backend renderer.CommandBackend, owner, index int) (*RecordingContext, error) {
	h, err := backend.CreateCommandContext(owner, index)
	if err != nil {
		return nil, fmt.Errorf("%w: worker %d context %d: %v", ErrContextPoolExhausted, owner, index, err)
	}
	return &RecordingContext{
		backend: backend,
		handle:  h,
		owner:   owner,
		index:   index,
		state:   CONTEXT_STATE_IDLE,
	}, nil
}

func (rc *RecordingContext) Handle() metadata.ContextHandle         { return rc.handle }
func (rc *RecordingContext) State() ContextState                    { return rc.state }
func (rc *RecordingContext) Frame() uint64                          { return rc.frame }
func (rc *RecordingContext) CommandCount() uint32                   { return rc.commandCount }
func (rc *RecordingContext) BoundPipeline() metadata.PipelineHandle { return rc.boundPipeline }
func (rc *RecordingContext) RecordingTime() time.Duration           { return rc.recordingTime }

// BeginRecording opens the context for frame. Only valid from idle.
func (rc *RecordingContext) BeginRecording(frame uint64) error {
	if rc.state != CONTEXT_STATE_IDLE {
		return fmt.Errorf("%w: begin from %s", ErrInvalidStateTransition, rc.state)
	}
	if err := rc.backend.BeginContext(rc.handle); err != nil {
		return err
	}
	rc.state = CONTEXT_STATE_RECORDING
	rc.frame = frame
	rc.commandCount = 0
	rc.boundPipeline = 0
	rc.recordingTime = 0
	return nil
}

// EndRecording closes the context. Only valid while recording.
func (rc *RecordingContext) EndRecording() error {
	if rc.state != CONTEXT_STATE_RECORDING {
		return fmt.Errorf("%w: end from %s", ErrInvalidStateTransition, rc.state)
	}
	if err := rc.backend.EndContext(rc.handle); err != nil {
		return err
	}
	rc.state = CONTEXT_STATE_RECORDED
	return nil
}

func (rc *RecordingContext) markSubmitted() {
	rc.state = CONTEXT_STATE_SUBMITTED
}

// Reset returns the context to idle from any state, dropping its commands.
func (rc *RecordingContext) Reset() error {
	if err := rc.backend.ResetContext(rc.handle); err != nil {
		return err
	}
	rc.state = CONTEXT_STATE_IDLE
	rc.commandCount = 0
	rc.boundPipeline = 0
	return nil
}

// record runs fn against the context handle. fn is one backend record call.
func (rc *RecordingContext) record(p metadata.WorkPayload, fn func(h metadata.ContextHandle) error) error {
	if rc.state != CONTEXT_STATE_RECORDING {
		return fmt.Errorf("%w: worker %d context %d is %s", ErrNotRecording, rc.owner, rc.index, rc.state)
	}
	start := time.Now()
	err := fn(rc.handle)
	rc.recordingTime += time.Since(start)
	if err != nil {
		return err
	}
	rc.commandCount++
	if bind, ok := p.(metadata.PipelineBindPayload); ok {
		rc.boundPipeline = bind.Pipeline
	}
	return nil
}

func (rc *RecordingContext) destroy() error {
	return rc.backend.DestroyCommandContext(rc.handle)
}
