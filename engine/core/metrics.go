package core

import "sync"

const AVG_COUNT uint8 = 30

// FrameMetrics keeps a rolling frame-time average and a frames-per-second
// estimate, plus counts of presented and skipped frames.
type FrameMetrics struct {
	mu sync.RWMutex

	frameAVGCounter    uint8
	msTimes            [AVG_COUNT]float64
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64

	presented uint64
	skipped   uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{}
}

// Update records one frame that took frameElapsedTime seconds.
func (m *FrameMetrics) Update(frameElapsedTime float64, skipped bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if skipped {
		m.skipped++
	} else {
		m.presented++
	}

	// Calculate frame ms average
	frameMS := frameElapsedTime * 1000.0
	m.msTimes[m.frameAVGCounter] = frameMS
	if m.frameAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.msTimes[i]
		}
		m.msAvg = sum / float64(AVG_COUNT)
	}
	m.frameAVGCounter++
	m.frameAVGCounter %= AVG_COUNT

	// Calculate frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	m.frames++
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.msAvg
}

// Frames returns the number of presented and skipped frames seen so far.
func (m *FrameMetrics) Frames() (presented, skipped uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.presented, m.skipped
}
