package scheduler

import (
	"sync"
	"time"

	"github.com/spaghettifunk/anima-sched/engine/containers"
	"github.com/spaghettifunk/anima-sched/engine/core"
)

// Stats is a point in time copy of the scheduler counters.
type Stats struct {
	TotalItems     uint64
	CompletedItems uint64
	FailedItems    uint64
	// RejectedItems counts submissions refused with an error.
	RejectedItems        uint64
	FramesSubmitted      uint64
	PerWorkerUtilization []float64
	PerWorkerProcessed   []uint64
	QueueDepth           int
	PeakQueueDepth       int
	// AvgRecordingTimeMs averages the last core.AVG_COUNT recordings. Only
	// maintained when profiling is enabled.
	AvgRecordingTimeMs float64
}

type statistics struct {
	mu          sync.Mutex
	total       uint64
	completed   uint64
	failed      uint64
	rejected    uint64
	frames      uint64
	recordTimes *containers.RingQueue[time.Duration]
}

func newStatistics() *statistics {
	return &statistics{
		recordTimes: containers.NewRingQueue[time.Duration](int(core.AVG_COUNT)),
	}
}

func (s *statistics) submitted() {
	s.mu.Lock()
	s.total++
	s.mu.Unlock()
}

// unsubmit reverts submitted for an item the queue refused.
func (s *statistics) unsubmit() {
	s.mu.Lock()
	s.total--
	s.rejected++
	s.mu.Unlock()
}

func (s *statistics) rejectedOne() {
	s.mu.Lock()
	s.rejected++
	s.mu.Unlock()
}

func (s *statistics) finished(failed bool) {
	s.mu.Lock()
	if failed {
		s.failed++
	} else {
		s.completed++
	}
	s.mu.Unlock()
}

func (s *statistics) frameSubmitted() {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *statistics) observeRecording(d time.Duration) {
	s.mu.Lock()
	s.recordTimes.Push(d)
	s.mu.Unlock()
}

// snapshot fills the counter part of Stats.
func (s *statistics) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Stats{
		TotalItems:      s.total,
		CompletedItems:  s.completed,
		FailedItems:     s.failed,
		RejectedItems:   s.rejected,
		FramesSubmitted: s.frames,
	}
	if n := s.recordTimes.Len(); n > 0 {
		var sum time.Duration
		s.recordTimes.Each(func(d time.Duration) { sum += d })
		out.AvgRecordingTimeMs = float64(sum) / float64(n) / float64(time.Millisecond)
	}
	return out
}

func (s *statistics) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total, s.completed, s.failed, s.rejected, s.frames = 0, 0, 0, 0, 0
	s.recordTimes.Reset()
}
