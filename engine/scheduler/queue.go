package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spaghettifunk/anima-sched/engine/containers"
	"github.com/spaghettifunk/anima-sched/engine/core"
	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

type queuedItem struct {
	item       metadata.WorkItem
	unresolved int
}

// readyFirst orders by priority, highest first, then by id so that equal
// priorities come out in submission order.
func readyFirst(a, b *queuedItem) bool {
	if a.item.Priority != b.item.Priority {
		return a.item.Priority > b.item.Priority
	}
	return a.item.ID < b.item.ID
}

// WorkQueue holds pending work items until their dependencies are complete
// and a worker claims them. All methods are safe for concurrent use.
//
// Items whose dependencies are all complete live in a priority heap. The
// others are parked until the last of their dependencies completes; a reverse
// index from id to dependents means completing an item only touches the items
// waiting on it.
type WorkQueue struct {
	mu sync.Mutex

	ids        *core.Identifier
	ready      *containers.PriorityQueue[*queuedItem]
	blocked    map[metadata.WorkItemID]*queuedItem
	deps       map[metadata.WorkItemID][]metadata.WorkItemID
	dependents map[metadata.WorkItemID][]metadata.WorkItemID
	completed  map[metadata.WorkItemID]struct{}

	capacity    int
	depLimit    int
	trackedDeps int
	depth       int
	peakDepth   int

	closed bool
	wake   chan struct{}
	now    func() time.Time
}

// NewWorkQueue creates a queue. capacity bounds the number of pending items
// and depLimit the number of unresolved dependency edges; zero means no bound.
func NewWorkQueue(capacity, depLimit int) *WorkQueue {
	return &WorkQueue{
		ids:        core.NewIdentifier(),
		ready:      containers.NewPriorityQueue(readyFirst),
		blocked:    make(map[metadata.WorkItemID]*queuedItem),
		deps:       make(map[metadata.WorkItemID][]metadata.WorkItemID),
		dependents: make(map[metadata.WorkItemID][]metadata.WorkItemID),
		completed:  make(map[metadata.WorkItemID]struct{}),
		capacity:   capacity,
		depLimit:   depLimit,
		wake:       make(chan struct{}),
		now:        time.Now,
	}
}

// broadcast wakes every goroutine blocked in a wait. Must hold q.mu.
func (q *WorkQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// Enqueue assigns the item an id and a queued timestamp and stores it.
// On failure it returns metadata.InvalidWorkItemID together with the reason.
func (q *WorkQueue) Enqueue(item metadata.WorkItem) (metadata.WorkItemID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && q.depth >= q.capacity {
		return metadata.InvalidWorkItemID, ErrQueueFull
	}

	last := metadata.WorkItemID(q.ids.Last())
	unresolved := make([]metadata.WorkItemID, 0, len(item.Dependencies))
	seen := make(map[metadata.WorkItemID]struct{}, len(item.Dependencies))
	for _, dep := range item.Dependencies {
		if dep == metadata.InvalidWorkItemID || dep > last {
			return metadata.InvalidWorkItemID, fmt.Errorf("%w: %d", ErrUnknownDependency, dep)
		}
		if _, dup := seen[dep]; dup {
			continue
		}
		seen[dep] = struct{}{}
		if _, done := q.completed[dep]; !done {
			unresolved = append(unresolved, dep)
		}
	}

	raw, err := q.ids.AcquireNewID()
	if err != nil {
		return metadata.InvalidWorkItemID, err
	}
	item.ID = metadata.WorkItemID(raw)
	item.QueuedTime = q.now()

	if q.depLimit > 0 && q.trackedDeps+len(unresolved) > q.depLimit {
		core.LogWarn("work queue: dependency index full (%d edges), queuing %s without dependencies", q.trackedDeps, item)
		unresolved = nil
	}

	qi := &queuedItem{item: item, unresolved: len(unresolved)}
	if len(unresolved) > 0 {
		q.deps[item.ID] = unresolved
		for _, dep := range unresolved {
			q.dependents[dep] = append(q.dependents[dep], item.ID)
		}
		q.trackedDeps += len(unresolved)
		q.blocked[item.ID] = qi
	} else {
		q.ready.Push(qi)
	}

	q.depth++
	if q.depth > q.peakDepth {
		q.peakDepth = q.depth
	}
	q.broadcast()
	return item.ID, nil
}

// DequeueReady returns the highest priority item whose dependencies are all
// complete and that is either unpinned or pinned to workerID.
func (q *WorkQueue) DequeueReady(workerID int) (metadata.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var skipped []*queuedItem
	var found *queuedItem
	for {
		qi, ok := q.ready.Pop()
		if !ok {
			break
		}
		if qi.item.HasAffinity() && qi.item.Affinity() != workerID {
			skipped = append(skipped, qi)
			continue
		}
		found = qi
		break
	}
	for _, qi := range skipped {
		q.ready.Push(qi)
	}

	if found == nil {
		return metadata.WorkItem{}, false
	}
	q.depth--
	return found.item, true
}

// CompleteItem marks id as completed and releases the items waiting on it.
// It reports whether this call did the completion; repeated calls are no-ops.
func (q *WorkQueue) CompleteItem(id metadata.WorkItemID) bool {
	return q.completeWith(id, nil)
}

// completeWith runs onFirst under the queue lock when id is completed for the
// first time, so observers of IsCompleted also observe its effects.
func (q *WorkQueue) completeWith(id metadata.WorkItemID, onFirst func()) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, done := q.completed[id]; done {
		return false
	}
	q.completed[id] = struct{}{}
	delete(q.deps, id)

	for _, dependent := range q.dependents[id] {
		qi, ok := q.blocked[dependent]
		if !ok {
			continue
		}
		qi.unresolved--
		q.trackedDeps--
		if qi.unresolved == 0 {
			delete(q.blocked, dependent)
			delete(q.deps, dependent)
			q.ready.Push(qi)
		}
	}
	delete(q.dependents, id)

	if onFirst != nil {
		onFirst()
	}
	q.broadcast()
	return true
}

// Issued reports whether id was handed out by Enqueue.
func (q *WorkQueue) Issued(id metadata.WorkItemID) bool {
	return id != metadata.InvalidWorkItemID && uint64(id) <= q.ids.Last()
}

func (q *WorkQueue) IsCompleted(id metadata.WorkItemID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.completed[id]
	return ok
}

// CompletedCount returns how many distinct ids have been completed.
func (q *WorkQueue) CompletedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.completed)
}

// Len returns the number of pending items, ready or blocked.
func (q *WorkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.depth
}

func (q *WorkQueue) PeakDepth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.peakDepth
}

// ResetPeak restarts peak tracking from the current depth.
func (q *WorkQueue) ResetPeak() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.peakDepth = q.depth
}

// Pending returns the ids of every item still in the queue, in id order.
func (q *WorkQueue) Pending() []metadata.WorkItemID {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]metadata.WorkItemID, 0, q.depth)
	for _, qi := range q.ready.Sorted() {
		out = append(out, qi.item.ID)
	}
	for id := range q.blocked {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// UnresolvedDependencies returns the dependencies of id that have not
// completed yet, or nil when the item is ready or unknown.
func (q *WorkQueue) UnresolvedDependencies(id metadata.WorkItemID) []metadata.WorkItemID {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []metadata.WorkItemID
	for _, dep := range q.deps[id] {
		if _, done := q.completed[dep]; !done {
			out = append(out, dep)
		}
	}
	return out
}

// Notify wakes every waiter without changing the queue.
func (q *WorkQueue) Notify() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.broadcast()
}

// WaitForWork blocks until the queue changes, the timeout expires, ctx is
// done or the queue is closed. It reports whether it was woken by a change.
func (q *WorkQueue) WaitForWork(ctx context.Context, timeout time.Duration) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	wake := q.wake
	q.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-wake:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// WaitCompleted blocks until id is completed or ctx is done.
func (q *WorkQueue) WaitCompleted(ctx context.Context, id metadata.WorkItemID) error {
	for {
		q.mu.Lock()
		_, done := q.completed[id]
		wake := q.wake
		q.mu.Unlock()
		if done {
			return nil
		}
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close wakes all waiters and makes WaitForWork return immediately until
// Reopen is called. Enqueue keeps working on a closed queue.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.broadcast()
}

func (q *WorkQueue) Reopen() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = false
}
