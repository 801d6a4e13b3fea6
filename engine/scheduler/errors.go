package scheduler

import "errors"

var (
	// capacity / transient
	ErrQueueFull            = errors.New("work queue is at capacity")
	ErrContextPoolExhausted = errors.New("command context pool exhausted")

	// policy violations
	ErrUnknownDependency      = errors.New("dependency refers to an id that was never issued")
	ErrUnknownWorkItem        = errors.New("work item id was never issued")
	ErrInvalidAffinity        = errors.New("thread affinity out of range")
	ErrFrameInProgress        = errors.New("BeginFrame called while a frame is already open")
	ErrNoFrameInProgress      = errors.New("EndFrame called without a matching BeginFrame")
	ErrStaleRecording         = errors.New("command context still recording from a previous frame")
	ErrNotRecording           = errors.New("command context is not recording")
	ErrInvalidStateTransition = errors.New("invalid command context state transition")
	ErrUnknownPayload         = errors.New("unknown work payload")
	ErrSchedulerDestroyed     = errors.New("scheduler has been destroyed")
	ErrUnknownStrategy        = errors.New("unknown load balancing strategy")
	ErrNoWorkers              = errors.New("attempting to create a scheduler with less than 1 worker")
	ErrNoContexts             = errors.New("attempting to create workers with less than 1 command context")
)
