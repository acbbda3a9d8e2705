package playback

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/protocol"
)

// Corrector is the viewer half of playback sync. Transport commands
// from the host are applied unconditionally. Time beacons drive drift
// correction in three bands: within the nudge threshold nothing
// happens, between nudge and hard-seek the playback rate is adjusted
// for one nudge window, and beyond hard-seek the playhead snaps to the
// host position. Out-of-order beacons are tolerated: each beacon is
// judged against the position at arrival, so corrections converge
// instead of compounding.
type Corrector struct {
	player  Player
	cfg     config.SyncConfig
	logger  *zap.Logger
	history *DriftHistory

	mu         sync.Mutex
	rate       float64
	nudgeUntil time.Time
	generation int

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) *time.Timer
}

func NewCorrector(player Player, cfg config.SyncConfig, logger *zap.Logger) *Corrector {
	return &Corrector{
		player:    player,
		cfg:       cfg,
		logger:    logger.Named("sync"),
		history:   NewDriftHistory(30),
		rate:      1.0,
		now:       time.Now,
		afterFunc: time.AfterFunc,
	}
}

// History exposes the retained drift samples for diagnostics.
func (c *Corrector) History() *DriftHistory { return c.history }

// Apply routes one inbound sync message of a playback type. Messages
// of other types are ignored so the caller can feed it the raw stream.
func (c *Corrector) Apply(msg protocol.SyncMessage) {
	switch msg.Type {
	case protocol.SyncPlay:
		c.player.Seek(msg.CurrentTime)
		c.player.Play()
	case protocol.SyncPause:
		c.player.Pause()
		c.player.Seek(msg.CurrentTime)
	case protocol.SyncSeek:
		c.player.Seek(msg.CurrentTime)
	case protocol.SyncTime:
		c.correct(msg.CurrentTime)
	}
}

func (c *Corrector) correct(hostPosition float64) {
	local := c.player.CurrentTime()
	drift := hostPosition - local
	c.history.Add(drift)

	c.mu.Lock()
	defer c.mu.Unlock()

	// An expired nudge window restores normal speed even when the
	// reset timer has not fired yet.
	if c.rate != 1.0 && c.now().After(c.nudgeUntil) {
		c.setRateLocked(1.0)
	}

	switch abs := math.Abs(drift); {
	case abs >= c.cfg.HardSeekDrift:
		c.logger.Info("hard seek to host position",
			zap.Float64("drift", drift),
			zap.Float64("position", hostPosition))
		c.player.Seek(hostPosition)
		c.setRateLocked(1.0)
	case abs >= c.cfg.NudgeDrift:
		rate := c.cfg.CatchUpRate
		if drift < 0 {
			rate = c.cfg.SlowDownRate
		}
		c.logger.Debug("nudging playback rate",
			zap.Float64("drift", drift),
			zap.Float64("rate", rate))
		c.setRateLocked(rate)
		c.nudgeUntil = c.now().Add(c.cfg.NudgeWindow)
		c.generation++
		gen := c.generation
		c.afterFunc(c.cfg.NudgeWindow, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.generation == gen {
				c.setRateLocked(1.0)
			}
		})
	default:
		c.setRateLocked(1.0)
	}
}

func (c *Corrector) setRateLocked(rate float64) {
	if c.rate == rate {
		return
	}
	c.rate = rate
	c.player.SetRate(rate)
}

// Rate reports the rate last applied to the player.
func (c *Corrector) Rate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}
