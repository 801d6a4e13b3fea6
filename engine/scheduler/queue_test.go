package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-sched/engine/renderer/metadata"
)

func draw(n uint32, opts ...metadata.WorkItemOption) metadata.WorkItem {
	return metadata.NewWorkItem(metadata.DrawPayload{VertexCount: n}, opts...)
}

func mustEnqueue(t *testing.T, q *WorkQueue, item metadata.WorkItem) metadata.WorkItemID {
	t.Helper()
	id, err := q.Enqueue(item)
	require.NoError(t, err)
	return id
}

func mustDequeue(t *testing.T, q *WorkQueue, worker int) metadata.WorkItem {
	t.Helper()
	item, ok := q.DequeueReady(worker)
	require.True(t, ok, "expected a ready item for worker %d", worker)
	return item
}

func TestQueueAssignsMonotonicIDs(t *testing.T) {
	q := NewWorkQueue(0, 0)
	before := time.Now()

	a := mustEnqueue(t, q, draw(1))
	b := mustEnqueue(t, q, draw(2))
	c := mustEnqueue(t, q, draw(3))
	assert.Equal(t, metadata.WorkItemID(1), a)
	assert.Less(t, a, b)
	assert.Less(t, b, c)

	item := mustDequeue(t, q, 0)
	assert.Equal(t, a, item.ID)
	assert.False(t, item.QueuedTime.Before(before))
}

func TestQueuePriorityOrder(t *testing.T) {
	q := NewWorkQueue(0, 0)
	mustEnqueue(t, q, draw(1, metadata.WithPriority(metadata.WORK_PRIORITY_LOW)))
	mustEnqueue(t, q, draw(2, metadata.WithPriority(metadata.WORK_PRIORITY_NORMAL)))
	mustEnqueue(t, q, draw(3, metadata.WithPriority(metadata.WORK_PRIORITY_CRITICAL)))
	mustEnqueue(t, q, draw(4, metadata.WithPriority(metadata.WORK_PRIORITY_HIGH)))

	want := []metadata.WorkPriority{
		metadata.WORK_PRIORITY_CRITICAL,
		metadata.WORK_PRIORITY_HIGH,
		metadata.WORK_PRIORITY_NORMAL,
		metadata.WORK_PRIORITY_LOW,
	}
	for _, p := range want {
		assert.Equal(t, p, mustDequeue(t, q, 0).Priority)
	}
	_, ok := q.DequeueReady(0)
	assert.False(t, ok)
}

func TestQueueEqualPriorityInSubmissionOrder(t *testing.T) {
	q := NewWorkQueue(0, 0)
	var ids []metadata.WorkItemID
	for i := 0; i < 8; i++ {
		ids = append(ids, mustEnqueue(t, q, draw(uint32(i), metadata.WithPriority(metadata.WORK_PRIORITY_HIGH))))
	}
	for _, id := range ids {
		assert.Equal(t, id, mustDequeue(t, q, 0).ID)
	}
}

func TestQueueDependencyBlocksUntilComplete(t *testing.T) {
	q := NewWorkQueue(0, 0)
	a := mustEnqueue(t, q, draw(1))
	b := mustEnqueue(t, q, draw(2, metadata.WithDependencies(a), metadata.WithPriority(metadata.WORK_PRIORITY_CRITICAL)))

	assert.Equal(t, []metadata.WorkItemID{a}, q.UnresolvedDependencies(b))
	assert.Equal(t, a, mustDequeue(t, q, 0).ID)

	// b outranks everything but is still waiting on a
	_, ok := q.DequeueReady(0)
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())

	assert.True(t, q.CompleteItem(a))
	assert.Empty(t, q.UnresolvedDependencies(b))
	assert.Equal(t, b, mustDequeue(t, q, 0).ID)
}

func TestQueueDependencyOnCompletedItemIsReady(t *testing.T) {
	q := NewWorkQueue(0, 0)
	a := mustEnqueue(t, q, draw(1))
	mustDequeue(t, q, 0)
	q.CompleteItem(a)

	b := mustEnqueue(t, q, draw(2, metadata.WithDependencies(a, a)))
	assert.Equal(t, b, mustDequeue(t, q, 0).ID)
}

func TestQueueMultipleDependencies(t *testing.T) {
	q := NewWorkQueue(0, 0)
	a := mustEnqueue(t, q, draw(1))
	b := mustEnqueue(t, q, draw(2))
	c := mustEnqueue(t, q, draw(3, metadata.WithDependencies(a, b)))

	mustDequeue(t, q, 0)
	mustDequeue(t, q, 0)

	q.CompleteItem(b)
	assert.Equal(t, []metadata.WorkItemID{a}, q.UnresolvedDependencies(c))
	_, ok := q.DequeueReady(0)
	assert.False(t, ok)

	q.CompleteItem(a)
	assert.Equal(t, c, mustDequeue(t, q, 0).ID)
}

func TestQueueRejectsUnknownDependency(t *testing.T) {
	q := NewWorkQueue(0, 0)
	a := mustEnqueue(t, q, draw(1))

	id, err := q.Enqueue(draw(2, metadata.WithDependencies(a+10)))
	assert.ErrorIs(t, err, ErrUnknownDependency)
	assert.Equal(t, metadata.InvalidWorkItemID, id)

	_, err = q.Enqueue(draw(3, metadata.WithDependencies(metadata.InvalidWorkItemID)))
	assert.ErrorIs(t, err, ErrUnknownDependency)

	// rejected items do not consume ids
	assert.Equal(t, a+1, mustEnqueue(t, q, draw(4)))
}

func TestQueueCapacity(t *testing.T) {
	q := NewWorkQueue(2, 0)
	mustEnqueue(t, q, draw(1))
	mustEnqueue(t, q, draw(2))

	id, err := q.Enqueue(draw(3))
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, metadata.InvalidWorkItemID, id)

	mustDequeue(t, q, 0)
	mustEnqueue(t, q, draw(4))
	assert.Equal(t, 2, q.PeakDepth())
}

func TestQueueDependencyIndexLimit(t *testing.T) {
	q := NewWorkQueue(0, 1)
	a := mustEnqueue(t, q, draw(1))
	b := mustEnqueue(t, q, draw(2))
	c := mustEnqueue(t, q, draw(3, metadata.WithDependencies(a, b)))

	// two edges do not fit in an index of one, so c carries none
	assert.Empty(t, q.UnresolvedDependencies(c))
	assert.Equal(t, a, mustDequeue(t, q, 0).ID)
	assert.Equal(t, b, mustDequeue(t, q, 0).ID)
	assert.Equal(t, c, mustDequeue(t, q, 0).ID)

	// the index still accepts what fits
	d := mustEnqueue(t, q, draw(4, metadata.WithDependencies(c)))
	assert.Equal(t, []metadata.WorkItemID{c}, q.UnresolvedDependencies(d))
}

func TestQueueAffinity(t *testing.T) {
	q := NewWorkQueue(0, 0)
	pinned := mustEnqueue(t, q, draw(1, metadata.WithAffinity(1), metadata.WithPriority(metadata.WORK_PRIORITY_CRITICAL)))
	free := mustEnqueue(t, q, draw(2, metadata.WithPriority(metadata.WORK_PRIORITY_LOW)))

	assert.Equal(t, free, mustDequeue(t, q, 0).ID)
	_, ok := q.DequeueReady(0)
	assert.False(t, ok)
	assert.Equal(t, pinned, mustDequeue(t, q, 1).ID)
}

func TestQueueCompleteIsIdempotent(t *testing.T) {
	q := NewWorkQueue(0, 0)
	a := mustEnqueue(t, q, draw(1))

	calls := 0
	assert.True(t, q.completeWith(a, func() { calls++ }))
	assert.False(t, q.completeWith(a, func() { calls++ }))
	assert.False(t, q.CompleteItem(a))
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, q.CompletedCount())
	assert.True(t, q.IsCompleted(a))
	assert.True(t, q.Issued(a))
	assert.False(t, q.Issued(a+1))
}

func TestQueuePending(t *testing.T) {
	q := NewWorkQueue(0, 0)
	a := mustEnqueue(t, q, draw(1))
	b := mustEnqueue(t, q, draw(2, metadata.WithDependencies(a)))
	c := mustEnqueue(t, q, draw(3, metadata.WithPriority(metadata.WORK_PRIORITY_HIGH)))

	assert.Equal(t, []metadata.WorkItemID{a, b, c}, q.Pending())
	assert.Equal(t, 3, q.PeakDepth())

	mustDequeue(t, q, 0)
	q.ResetPeak()
	assert.Equal(t, 2, q.PeakDepth())
}

func TestQueueWaitForWork(t *testing.T) {
	q := NewWorkQueue(0, 0)

	assert.False(t, q.WaitForWork(context.Background(), 5*time.Millisecond))

	go func() {
		time.Sleep(5 * time.Millisecond)
		_, _ = q.Enqueue(draw(1))
	}()
	assert.True(t, q.WaitForWork(context.Background(), time.Second))

	q.Close()
	start := time.Now()
	assert.False(t, q.WaitForWork(context.Background(), time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	q.Reopen()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, q.WaitForWork(ctx, time.Second))
}

func TestQueueWaitCompleted(t *testing.T) {
	q := NewWorkQueue(0, 0)
	a := mustEnqueue(t, q, draw(1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.WaitCompleted(ctx, a), context.DeadlineExceeded)

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.CompleteItem(a)
	}()
	assert.NoError(t, q.WaitCompleted(context.Background(), a))
}

func TestQueueConcurrentProducersAndConsumers(t *testing.T) {
	const (
		producers = 4
		consumers = 4
		perProd   = 250
		total     = producers * perProd
	)
	q := NewWorkQueue(0, 0)

	var (
		mu   sync.Mutex
		seen = make(map[metadata.WorkItemID]int)
		wg   sync.WaitGroup
	)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProd; i++ {
				_, err := q.Enqueue(draw(uint32(i)))
				assert.NoError(t, err)
			}
		}()
	}

	done := make(chan struct{})
	var cwg sync.WaitGroup
	for c := 0; c < consumers; c++ {
		cwg.Add(1)
		go func(worker int) {
			defer cwg.Done()
			for {
				item, ok := q.DequeueReady(worker)
				if !ok {
					select {
					case <-done:
						return
					default:
						q.WaitForWork(context.Background(), time.Millisecond)
						continue
					}
				}
				mu.Lock()
				seen[item.ID]++
				mu.Unlock()
				q.CompleteItem(item.ID)
			}
		}(c)
	}

	wg.Wait()
	require.Eventually(t, func() bool { return q.CompletedCount() == total }, 5*time.Second, time.Millisecond)
	close(done)
	cwg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "item %d dequeued %d times", id, n)
	}
}

func BenchmarkQueueEnqueueDequeue(b *testing.B) {
	q := NewWorkQueue(0, 0)
	item := draw(3)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		id, _ := q.Enqueue(item)
		q.DequeueReady(0)
		q.CompleteItem(id)
	}
}
