package cinema

import (
	"testing"

	"github.com/pion/webrtc/v4"
)

func staticTrack(t *testing.T, mime, id string) *webrtc.TrackLocalStaticSample {
	t.Helper()
	capability := webrtc.RTPCodecCapability{MimeType: mime, ClockRate: 90000}
	if mime == webrtc.MimeTypeOpus {
		capability.ClockRate = 48000
		capability.Channels = 1
	}
	track, err := webrtc.NewTrackLocalStaticSample(capability, id, "test-stream")
	if err != nil {
		t.Fatalf("NewTrackLocalStaticSample: %v", err)
	}
	return track
}

func addSender(t *testing.T, p *Peer, kind webrtc.RTPCodecType, track webrtc.TrackLocal) *webrtc.RTPSender {
	t.Helper()
	sender, err := p.pc.AddTrack(track)
	if err != nil {
		t.Fatalf("AddTrack: %v", err)
	}
	p.mu.Lock()
	p.senders[kind] = sender
	p.mu.Unlock()
	return sender
}

func TestReplaceTrackLeavesAudioAndDataUntouched(t *testing.T) {
	sess, _, _ := newTestSession(t)
	if err := sess.Connect("host-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := sess.Peer("host-1")

	audio := staticTrack(t, webrtc.MimeTypeOpus, "audio")
	video := staticTrack(t, webrtc.MimeTypeVP8, "video")
	audioSender := addSender(t, p, webrtc.RTPCodecTypeAudio, audio)
	videoSender := addSender(t, p, webrtc.RTPCodecTypeVideo, video)

	dataBefore := p.DataState()

	screen := staticTrack(t, webrtc.MimeTypeVP8, "screen")
	if err := p.replaceTrack(webrtc.RTPCodecTypeVideo, screen); err != nil {
		t.Fatalf("replaceTrack: %v", err)
	}

	if videoSender.Track() != screen {
		t.Error("video sender does not carry the replacement track")
	}
	if audioSender.Track() != audio {
		t.Error("audio sender was disturbed by a video replace")
	}
	if p.DataState() != dataBefore {
		t.Errorf("data state changed: %s -> %s", dataBefore, p.DataState())
	}
	if p.MediaState().Terminal() {
		t.Errorf("replace closed the peer: %s", p.MediaState())
	}
}

func TestReplaceTrackWithoutSenderFails(t *testing.T) {
	sess, _, _ := newTestSession(t)
	if err := sess.Connect("host-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := sess.Peer("host-1")

	screen := staticTrack(t, webrtc.MimeTypeVP8, "screen")
	if err := p.replaceTrack(webrtc.RTPCodecTypeVideo, screen); err == nil {
		t.Fatal("replace with no sender must fail")
	}
}

func TestHasSender(t *testing.T) {
	sess, _, _ := newTestSession(t)
	if err := sess.Connect("host-1"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	p := sess.Peer("host-1")

	if p.hasSender(webrtc.RTPCodecTypeVideo) {
		t.Error("fresh data-only peer reports a video sender")
	}
	addSender(t, p, webrtc.RTPCodecTypeVideo, staticTrack(t, webrtc.MimeTypeVP8, "video"))
	if !p.hasSender(webrtc.RTPCodecTypeVideo) {
		t.Error("video sender not reported after AddTrack")
	}
}
