package playback

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/protocol"
)

// fakePlayer records transport calls; Seek moves the reported
// position so drift corrections feed back like a real player.
type fakePlayer struct {
	position float64
	playing  bool
	rate     float64

	seeks  []float64
	rates  []float64
	plays  int
	pauses int
}

func newFakePlayer(position float64) *fakePlayer {
	return &fakePlayer{position: position, rate: 1.0}
}

func (p *fakePlayer) Play()                { p.playing = true; p.plays++ }
func (p *fakePlayer) Pause()               { p.playing = false; p.pauses++ }
func (p *fakePlayer) CurrentTime() float64 { return p.position }
func (p *fakePlayer) Seek(seconds float64) { p.position = seconds; p.seeks = append(p.seeks, seconds) }
func (p *fakePlayer) SetRate(rate float64) { p.rate = rate; p.rates = append(p.rates, rate) }

func testCorrector(t *testing.T, player Player) *Corrector {
	t.Helper()
	c := NewCorrector(player, config.NewDefaultConfig().Sync, zap.NewNop())
	// Timers are irrelevant under test; expiry is exercised through the
	// injected clock instead.
	c.afterFunc = func(time.Duration, func()) *time.Timer { return time.NewTimer(time.Hour) }
	return c
}

func timeBeacon(position float64) protocol.SyncMessage {
	return protocol.SyncMessage{Type: protocol.SyncTime, CurrentTime: position}
}

func TestCorrectorWithinThresholdDoesNothing(t *testing.T) {
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)

	c.Apply(timeBeacon(10.03))
	if len(player.seeks) != 0 {
		t.Errorf("unexpected seek: %v", player.seeks)
	}
	if len(player.rates) != 0 {
		t.Errorf("unexpected rate change: %v", player.rates)
	}
	if c.Rate() != 1.0 {
		t.Errorf("rate = %v, want 1.0", c.Rate())
	}
}

func TestCorrectorNudgesWhenBehind(t *testing.T) {
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)

	c.Apply(timeBeacon(10.3))
	if len(player.seeks) != 0 {
		t.Errorf("nudge must not seek, got %v", player.seeks)
	}
	if c.Rate() != 1.02 {
		t.Errorf("rate = %v, want 1.02", c.Rate())
	}
}

func TestCorrectorNudgesWhenAhead(t *testing.T) {
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)

	c.Apply(timeBeacon(9.7))
	if c.Rate() != 0.98 {
		t.Errorf("rate = %v, want 0.98", c.Rate())
	}
}

func TestCorrectorHardSeek(t *testing.T) {
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)

	c.Apply(timeBeacon(10.8))
	if len(player.seeks) != 1 || player.seeks[0] != 10.8 {
		t.Fatalf("expected hard seek to 10.8, got %v", player.seeks)
	}
	if c.Rate() != 1.0 {
		t.Errorf("rate after hard seek = %v, want 1.0", c.Rate())
	}
}

func TestCorrectorHardSeekCancelsNudge(t *testing.T) {
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)

	c.Apply(timeBeacon(10.3))
	if c.Rate() != 1.02 {
		t.Fatalf("setup: rate = %v", c.Rate())
	}
	c.Apply(timeBeacon(11.0))
	if c.Rate() != 1.0 {
		t.Errorf("rate = %v, want 1.0 after hard seek", c.Rate())
	}
	if got := player.position; got != 11.0 {
		t.Errorf("position = %v, want 11.0", got)
	}
}

func TestCorrectorNudgeWindowExpiry(t *testing.T) {
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Apply(timeBeacon(10.3))
	if c.Rate() != 1.02 {
		t.Fatalf("setup: rate = %v", c.Rate())
	}

	// Past the window, an in-threshold beacon restores normal speed.
	now = now.Add(2 * time.Second)
	player.position = 10.31
	c.Apply(timeBeacon(10.32))
	if c.Rate() != 1.0 {
		t.Errorf("rate = %v, want 1.0 after window expiry", c.Rate())
	}
}

func TestCorrectorOutOfOrderBeaconsConverge(t *testing.T) {
	// Each beacon is judged against the position at arrival, so a stale
	// beacon after a hard seek only nudges, never snaps back.
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)

	c.Apply(timeBeacon(30.0))
	if player.position != 30.0 {
		t.Fatalf("setup: position = %v", player.position)
	}
	c.Apply(timeBeacon(29.9))
	if len(player.seeks) != 1 {
		t.Errorf("stale beacon caused extra seek: %v", player.seeks)
	}
	if c.Rate() != 0.98 {
		t.Errorf("rate = %v, want 0.98", c.Rate())
	}
}

func TestCorrectorAppliesCommandsUnconditionally(t *testing.T) {
	player := newFakePlayer(50.0)
	c := testCorrector(t, player)

	c.Apply(protocol.SyncMessage{Type: protocol.SyncPlay, CurrentTime: 12.0})
	if !player.playing || player.position != 12.0 {
		t.Errorf("play: playing=%v position=%v", player.playing, player.position)
	}

	c.Apply(protocol.SyncMessage{Type: protocol.SyncPause, CurrentTime: 13.0})
	if player.playing || player.position != 13.0 {
		t.Errorf("pause: playing=%v position=%v", player.playing, player.position)
	}

	c.Apply(protocol.SyncMessage{Type: protocol.SyncSeek, CurrentTime: 40.0})
	if player.position != 40.0 {
		t.Errorf("seek: position=%v", player.position)
	}
}

func TestCorrectorIgnoresOtherTypes(t *testing.T) {
	player := newFakePlayer(10.0)
	c := testCorrector(t, player)

	c.Apply(protocol.SyncMessage{Type: protocol.SyncChat, Text: "hi"})
	c.Apply(protocol.SyncMessage{Type: protocol.SyncSubtitle, Text: "cue"})
	if len(player.seeks) != 0 || len(player.rates) != 0 || player.plays != 0 {
		t.Errorf("non-playback message touched the player")
	}
}

func TestBroadcasterCommandsCarryPosition(t *testing.T) {
	player := newFakePlayer(42.0)
	var sent []protocol.SyncMessage
	b := NewBroadcaster(player, func(m protocol.SyncMessage) { sent = append(sent, m) },
		config.NewDefaultConfig().Sync, zap.NewNop())

	b.Play()
	b.Pause()
	b.Seek(50.0)
	b.Beacon()

	wantTypes := []string{protocol.SyncPlay, protocol.SyncPause, protocol.SyncSeek, protocol.SyncTime}
	if len(sent) != len(wantTypes) {
		t.Fatalf("expected %d messages, got %d", len(wantTypes), len(sent))
	}
	for i, want := range wantTypes {
		if sent[i].Type != want {
			t.Errorf("message %d type = %q, want %q", i, sent[i].Type, want)
		}
	}
	if sent[2].CurrentTime != 50.0 {
		t.Errorf("seek broadcast position = %v, want 50.0", sent[2].CurrentTime)
	}
	if sent[3].CurrentTime != 50.0 {
		t.Errorf("beacon position = %v, want 50.0", sent[3].CurrentTime)
	}
	if player.plays != 1 || player.pauses != 1 {
		t.Errorf("local player calls: plays=%d pauses=%d", player.plays, player.pauses)
	}
}
