package core

import "sync"

const AVG_COUNT uint8 = 30

// MetricsState keeps a rolling frame time average and an FPS counter.
type MetricsState struct {
	mu                 sync.Mutex
	FrameAVGCounter    uint8
	MStimes            [AVG_COUNT]float64
	MSavg              float64
	Frames             int32
	AccumulatedFrameMS float64
	FPS                float64
}

func NewMetricsState() *MetricsState {
	return &MetricsState{
		MStimes: [AVG_COUNT]float64{0},
	}
}

// Update records one frame. frameElapsedTime is in seconds.
func (m *MetricsState) Update(frameElapsedTime float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.MStimes[m.FrameAVGCounter] = frameMS
	if m.FrameAVGCounter == AVG_COUNT-1 {
		var sum float64
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.MStimes[i]
		}
		m.MSavg = sum / float64(AVG_COUNT)
	}
	m.FrameAVGCounter++
	m.FrameAVGCounter %= AVG_COUNT

	// Calculate Frames per second.
	m.AccumulatedFrameMS += frameMS
	if m.AccumulatedFrameMS > 1000 {
		m.FPS = float64(m.Frames)
		m.AccumulatedFrameMS -= 1000
		m.Frames = 0
	}

	// Count all Frames.
	m.Frames++
}

func (m *MetricsState) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MSavg
}

func (m *MetricsState) Frame() (float64, float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.FPS, m.MSavg
}
