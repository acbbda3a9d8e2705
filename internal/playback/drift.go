package playback

import (
	"math"
	"sync"
)

// DriftHistory is a fixed-capacity ring of recent drift samples
// (seconds, signed: positive means the viewer is behind the host).
// Once full, new samples overwrite the oldest.
type DriftHistory struct {
	mu       sync.RWMutex
	samples  []float64
	capacity int
	writePos int
	size     int
}

func NewDriftHistory(capacity int) *DriftHistory {
	if capacity <= 0 {
		capacity = 30
	}
	return &DriftHistory{
		samples:  make([]float64, capacity),
		capacity: capacity,
	}
}

func (h *DriftHistory) Add(sample float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples[h.writePos] = sample
	h.writePos = (h.writePos + 1) % h.capacity
	if h.size < h.capacity {
		h.size++
	}
}

func (h *DriftHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Average returns the mean signed drift over the retained window, or 0
// with no samples.
func (h *DriftHistory) Average() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < h.size; i++ {
		sum += h.samples[i]
	}
	return sum / float64(h.size)
}

// Worst returns the largest absolute drift in the retained window.
func (h *DriftHistory) Worst() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var worst float64
	for i := 0; i < h.size; i++ {
		if abs := math.Abs(h.samples[i]); abs > worst {
			worst = abs
		}
	}
	return worst
}
