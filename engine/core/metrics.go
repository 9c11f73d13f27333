package core

import "time"

const AVG_COUNT uint8 = 30

// Metrics is owned by the executor and never touched concurrently.
type Metrics struct {
	Flushes           uint64
	DefensiveFlushes  uint64
	FencePolls        uint64
	FenceTimeouts     uint64
	DegradedCreations uint64
	SharedCopies      uint64
	Resets            uint64
	Draws             uint64

	flushAVGCounter uint8
	flushTimes      [AVG_COUNT]float64
	FlushAvgMS      float64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// FlushObserved records one blocking fence wait.
func (m *Metrics) FlushObserved(wait time.Duration) {
	m.Flushes++
	m.flushTimes[m.flushAVGCounter] = float64(wait.Microseconds()) / 1000.0
	if m.flushAVGCounter == AVG_COUNT-1 {
		sum := 0.0
		for i := uint8(0); i < AVG_COUNT; i++ {
			sum += m.flushTimes[i]
		}
		m.FlushAvgMS = sum / float64(AVG_COUNT)
	}
	m.flushAVGCounter++
	m.flushAVGCounter %= AVG_COUNT
}

// Snapshot returns a copy safe to hand to other goroutines.
func (m *Metrics) Snapshot() Metrics {
	return *m
}
