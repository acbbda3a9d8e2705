package playback

import (
	"sync"
	"time"
)

// VirtualPlayer is a Player backed by the wall clock instead of a
// rendering pipeline: the playhead advances in real time while
// playing, scaled by the rate. The host uses it as the transport
// position of a streamed file; tests use it with a fake clock.
type VirtualPlayer struct {
	mu      sync.Mutex
	base    float64
	anchor  time.Time
	playing bool
	rate    float64
	now     func() time.Time
}

func NewVirtualPlayer() *VirtualPlayer {
	p := &VirtualPlayer{rate: 1.0, now: time.Now}
	p.anchor = p.now()
	return p
}

func (p *VirtualPlayer) position() float64 {
	if !p.playing {
		return p.base
	}
	return p.base + p.now().Sub(p.anchor).Seconds()*p.rate
}

// reanchor folds elapsed time into base so a state change never moves
// the playhead.
func (p *VirtualPlayer) reanchor() {
	p.base = p.position()
	p.anchor = p.now()
}

func (p *VirtualPlayer) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reanchor()
	p.playing = true
}

func (p *VirtualPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reanchor()
	p.playing = false
}

func (p *VirtualPlayer) CurrentTime() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position()
}

func (p *VirtualPlayer) Seek(seconds float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.base = seconds
	p.anchor = p.now()
}

func (p *VirtualPlayer) SetRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reanchor()
	p.rate = rate
}

// Playing reports whether the playhead is advancing.
func (p *VirtualPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}
