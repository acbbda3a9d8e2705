package subtitle

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/protocol"
)

type fixedPosition float64

func (p fixedPosition) CurrentTime() float64 { return float64(p) }

func collectSends(msgs *[]protocol.SyncMessage) SendFunc {
	return func(msg protocol.SyncMessage) { *msgs = append(*msgs, msg) }
}

func TestEngineTickBroadcastsActiveCue(t *testing.T) {
	var sent []protocol.SyncMessage
	e := NewEngine(fixedPosition(4), collectSends(&sent), 500*time.Millisecond, zap.NewNop())
	e.Load(Parse(sampleSRT))

	e.Tick()
	if len(sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(sent))
	}
	if sent[0].Type != protocol.SyncSubtitle {
		t.Errorf("type = %q, want %q", sent[0].Type, protocol.SyncSubtitle)
	}
	if sent[0].Text != "Hello" {
		t.Errorf("text = %q, want %q", sent[0].Text, "Hello")
	}
}

func TestEngineTickBroadcastsClearBetweenCues(t *testing.T) {
	var sent []protocol.SyncMessage
	e := NewEngine(fixedPosition(6), collectSends(&sent), 500*time.Millisecond, zap.NewNop())
	e.Load(Parse(sampleSRT))

	e.Tick()
	if len(sent) != 1 || sent[0].Text != "" {
		t.Fatalf("expected one empty broadcast, got %+v", sent)
	}
}

func TestEngineRebroadcastsUnchangedCue(t *testing.T) {
	// Every tick goes out even without a change, so a viewer who joins
	// mid-cue still receives it.
	var sent []protocol.SyncMessage
	e := NewEngine(fixedPosition(4), collectSends(&sent), 500*time.Millisecond, zap.NewNop())
	e.Load(Parse(sampleSRT))

	e.Tick()
	e.Tick()
	if len(sent) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sent))
	}
	if sent[0].Text != sent[1].Text {
		t.Errorf("texts differ: %q vs %q", sent[0].Text, sent[1].Text)
	}
}

func TestEngineWithoutCuesBroadcastsClear(t *testing.T) {
	var sent []protocol.SyncMessage
	e := NewEngine(fixedPosition(4), collectSends(&sent), 500*time.Millisecond, zap.NewNop())

	e.Tick()
	if len(sent) != 1 || sent[0].Text != "" {
		t.Fatalf("expected one empty broadcast, got %+v", sent)
	}
}
