package metadata

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrMissingPayload      = errors.New("work item has no payload")
	ErrPayloadKindMismatch = errors.New("work item payload does not match its kind")
	ErrInvalidPriority     = errors.New("work item priority out of range")
)

/** @brief Identifies a work item. Assigned by the work queue, never reused. */
type WorkItemID uint64

/** @brief Returned when a work item could not be accepted. */
const InvalidWorkItemID WorkItemID = 0

/** @brief Returned by Affinity when no worker has been chosen yet. */
const NoAffinity int = -1

/** @brief Describes what a work item records. Selects the live payload. */
type WorkKind uint8

const (
	WORK_KIND_DRAW WorkKind = iota
	WORK_KIND_COMPUTE_DISPATCH
	WORK_KIND_RESOURCE_UPDATE
	WORK_KIND_BARRIER
	WORK_KIND_RENDER_PASS_BEGIN
	WORK_KIND_RENDER_PASS_END
	WORK_KIND_PIPELINE_BIND
	WORK_KIND_DESCRIPTOR_BIND
	WORK_KIND_RAY_TRACE
	WORK_KIND_COPY
	WORK_KIND_MAX
)

var workKindNames = [WORK_KIND_MAX]string{
	"draw",
	"compute-dispatch",
	"resource-update",
	"barrier",
	"render-pass-begin",
	"render-pass-end",
	"pipeline-bind",
	"descriptor-bind",
	"ray-trace",
	"copy",
}

func (k WorkKind) String() string {
	if k < WORK_KIND_MAX {
		return workKindNames[k]
	}
	return fmt.Sprintf("WorkKind(%d)", k)
}

/**
 * @brief Determines dequeue order. Higher values are always handed to workers
 * before lower ones; equal priorities are served in submission order.
 */
type WorkPriority uint8

const (
	/** @brief Work that can slip a frame, such as streaming uploads. */
	WORK_PRIORITY_LOW WorkPriority = iota
	/** @brief The default for regular scene work. */
	WORK_PRIORITY_NORMAL
	/** @brief Work on the critical path of the current frame. */
	WORK_PRIORITY_HIGH
	/** @brief Barriers and pass boundaries other work is waiting on. Use sparingly. */
	WORK_PRIORITY_CRITICAL
)

func (p WorkPriority) String() string {
	switch p {
	case WORK_PRIORITY_LOW:
		return "low"
	case WORK_PRIORITY_NORMAL:
		return "normal"
	case WORK_PRIORITY_HIGH:
		return "high"
	case WORK_PRIORITY_CRITICAL:
		return "critical"
	}
	return fmt.Sprintf("WorkPriority(%d)", p)
}

/** @brief Invoked on the worker thread once the item has been recorded. */
type WorkOnComplete func(item WorkItem)

/** @brief Invoked on the worker thread when recording the item failed. */
type WorkOnFailure func(item WorkItem, err error)

/**
 * @brief Describes one unit of graphics or compute work.
 */
type WorkItem struct {
	/** @brief Set by the queue on submission. Callers leave it zero. */
	ID WorkItemID
	/** @brief The type of work. Must match Payload.Kind(). */
	Kind WorkKind
	/** @brief The data for the record operation. */
	Payload  WorkPayload
	Priority WorkPriority
	/** @brief Ids that must be completed before this item can be handed out. */
	Dependencies []WorkItemID
	/** @brief Preferred worker index plus one, so the zero value means none. Filled in by the load balancer. */
	affinity int
	/** @brief Free-form label used in logs. */
	DebugName string

	QueuedTime time.Time
	StartTime  time.Time
	EndTime    time.Time

	OnComplete WorkOnComplete
	OnFailure  WorkOnFailure
}

type WorkItemOption func(*WorkItem)

func WithPriority(p WorkPriority) WorkItemOption {
	return func(w *WorkItem) {
		w.Priority = p
	}
}

func WithDependencies(ids ...WorkItemID) WorkItemOption {
	return func(w *WorkItem) {
		w.Dependencies = append(w.Dependencies, ids...)
	}
}

func WithAffinity(worker int) WorkItemOption {
	return func(w *WorkItem) {
		w.SetAffinity(worker)
	}
}

func WithDebugName(name string) WorkItemOption {
	return func(w *WorkItem) {
		w.DebugName = name
	}
}

func WithOnComplete(fn WorkOnComplete) WorkItemOption {
	return func(w *WorkItem) {
		w.OnComplete = fn
	}
}

func WithOnFailure(fn WorkOnFailure) WorkItemOption {
	return func(w *WorkItem) {
		w.OnFailure = fn
	}
}

// NewWorkItem builds an item whose kind is taken from the payload. Priority
// defaults to normal and the item carries no affinity.
func NewWorkItem(payload WorkPayload, opts ...WorkItemOption) WorkItem {
	w := WorkItem{
		Payload:  payload,
		Priority: WORK_PRIORITY_NORMAL,
	}
	if payload != nil {
		w.Kind = payload.Kind()
	}
	for _, o := range opts {
		o(&w)
	}
	return w
}

// HasAffinity reports whether the item is pinned to a worker.
func (w WorkItem) HasAffinity() bool {
	return w.affinity != 0
}

// Affinity returns the worker the item is pinned to, or NoAffinity.
func (w WorkItem) Affinity() int {
	return w.affinity - 1
}

// SetAffinity pins the item to worker. NoAffinity clears the pin.
func (w *WorkItem) SetAffinity(worker int) {
	w.affinity = worker + 1
}

// Validate checks that exactly the payload matching Kind is present.
func (w WorkItem) Validate() error {
	if w.Payload == nil {
		return ErrMissingPayload
	}
	if w.Payload.Kind() != w.Kind {
		return fmt.Errorf("%w: kind %s, payload %s", ErrPayloadKindMismatch, w.Kind, w.Payload.Kind())
	}
	if w.Priority > WORK_PRIORITY_CRITICAL {
		return ErrInvalidPriority
	}
	return nil
}

func (w WorkItem) String() string {
	if w.DebugName != "" {
		return fmt.Sprintf("#%d %s (%s)", w.ID, w.Kind, w.DebugName)
	}
	return fmt.Sprintf("#%d %s", w.ID, w.Kind)
}

// RecordingTime is the span between StartTime and EndTime.
func (w WorkItem) RecordingTime() time.Duration {
	if w.StartTime.IsZero() || w.EndTime.IsZero() {
		return 0
	}
	return w.EndTime.Sub(w.StartTime)
}
