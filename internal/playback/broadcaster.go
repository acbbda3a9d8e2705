package playback

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/protocol"
)

// SendFunc fans a sync message out to the connected viewers.
type SendFunc func(msg protocol.SyncMessage)

// Broadcaster is the host half of playback sync. Transport commands
// (play, pause, seek) are applied locally and broadcast immediately;
// on top of that a beacon with the current position goes out on every
// tick so late joiners and drifted viewers converge.
type Broadcaster struct {
	player   Player
	send     SendFunc
	interval time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

func NewBroadcaster(player Player, send SendFunc, cfg config.SyncConfig, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		player:   player,
		send:     send,
		interval: cfg.TimeInterval,
		logger:   logger.Named("broadcast"),
		now:      time.Now,
	}
}

// Play starts local playback and tells every viewer to do the same at
// the host's current position.
func (b *Broadcaster) Play() {
	b.player.Play()
	b.sendCommand(protocol.SyncPlay)
}

func (b *Broadcaster) Pause() {
	b.player.Pause()
	b.sendCommand(protocol.SyncPause)
}

func (b *Broadcaster) Seek(seconds float64) {
	b.player.Seek(seconds)
	b.sendCommand(protocol.SyncSeek)
}

func (b *Broadcaster) sendCommand(kind string) {
	position := b.player.CurrentTime()
	b.send(protocol.SyncMessage{
		Type:        kind,
		TS:          b.now().UnixMilli(),
		CurrentTime: position,
	})
	b.logger.Debug("transport command sent",
		zap.String("type", kind),
		zap.Float64("position", position))
}

// Beacon broadcasts the current position once.
func (b *Broadcaster) Beacon() {
	b.send(protocol.SyncMessage{
		Type:        protocol.SyncTime,
		TS:          b.now().UnixMilli(),
		CurrentTime: b.player.CurrentTime(),
	})
}

// Run emits time beacons until the context ends.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	b.logger.Info("time beacon started", zap.Duration("interval", b.interval))
	for {
		select {
		case <-ctx.Done():
			b.logger.Info("time beacon stopped")
			return
		case <-ticker.C:
			b.Beacon()
		}
	}
}
