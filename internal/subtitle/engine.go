package subtitle

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/protocol"
)

// Positioner reports the current playhead in seconds.
type Positioner interface {
	CurrentTime() float64
}

// SendFunc fans a sync message out to the connected viewers.
type SendFunc func(msg protocol.SyncMessage)

// Engine broadcasts the active cue on every tick while running. The
// text goes out whether or not it changed, so a viewer who joins
// mid-cue still gets it within one interval; an empty broadcast clears
// whatever the viewer is showing.
type Engine struct {
	position Positioner
	send     SendFunc
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu   sync.Mutex
	cues Cues
	last string
}

func NewEngine(position Positioner, send SendFunc, interval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		position: position,
		send:     send,
		interval: interval,
		logger:   logger.Named("subtitle"),
		now:      time.Now,
	}
}

// Load replaces the cue set. Loading nil (or an empty set) stops
// subtitles; the next tick broadcasts a clear.
func (e *Engine) Load(cues Cues) {
	e.mu.Lock()
	e.cues = cues
	e.mu.Unlock()
	e.logger.Info("subtitle cues loaded", zap.Int("count", len(cues)))
}

// Tick broadcasts the cue active right now.
func (e *Engine) Tick() {
	e.mu.Lock()
	cues := e.cues
	e.mu.Unlock()

	text := cues.ActiveAtSeconds(e.position.CurrentTime())
	e.send(protocol.SyncMessage{
		Type: protocol.SyncSubtitle,
		TS:   e.now().UnixMilli(),
		Text: text,
	})

	e.mu.Lock()
	changed := text != e.last
	e.last = text
	e.mu.Unlock()
	if changed {
		e.logger.Debug("active cue changed", zap.String("text", text))
	}
}

// Run ticks until the context ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.logger.Info("subtitle broadcast started", zap.Duration("interval", e.interval))
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("subtitle broadcast stopped")
			return
		case <-ticker.C:
			e.Tick()
		}
	}
}
