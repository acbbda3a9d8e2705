package media

import (
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
)

func testAcquirer(t *testing.T) *Acquirer {
	t.Helper()
	return NewAcquirer(config.NewDefaultConfig(), nil, zap.NewNop())
}

func TestSilenceOffer(t *testing.T) {
	offer, err := testAcquirer(t).Silence()
	if err != nil {
		t.Fatalf("Silence: %v", err)
	}
	defer offer.Release()

	if offer.Source() != SourceSilence {
		t.Errorf("source = %s, want %s", offer.Source(), SourceSilence)
	}
	if offer.Empty() {
		t.Fatal("silence offer is empty")
	}
	tracks := offer.Tracks()
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	if tracks[0].Kind() != webrtc.RTPCodecTypeAudio {
		t.Errorf("track kind = %s, want audio", tracks[0].Kind())
	}
	if !tracks[0].Enabled() {
		t.Error("track not enabled by default")
	}
	if offer.TrackOfKind(webrtc.RTPCodecTypeVideo) != nil {
		t.Error("silence offer must carry no video")
	}
}

func TestOfferReleaseIdempotent(t *testing.T) {
	offer, err := testAcquirer(t).Silence()
	if err != nil {
		t.Fatalf("Silence: %v", err)
	}
	offer.Release()
	offer.Release()
}

func TestSetTrackEnabled(t *testing.T) {
	offer, err := testAcquirer(t).Silence()
	if err != nil {
		t.Fatalf("Silence: %v", err)
	}
	defer offer.Release()

	track := offer.TrackOfKind(webrtc.RTPCodecTypeAudio)
	if track == nil {
		t.Fatal("no audio track")
	}

	offer.SetTrackEnabled(webrtc.RTPCodecTypeAudio, false)
	if track.Enabled() {
		t.Error("track still enabled after mute")
	}
	offer.SetTrackEnabled(webrtc.RTPCodecTypeAudio, true)
	if !track.Enabled() {
		t.Error("track still disabled after unmute")
	}

	// Toggling a kind the offer lacks is a no-op.
	offer.SetTrackEnabled(webrtc.RTPCodecTypeVideo, false)
}

func TestFileRequiresAtLeastOnePath(t *testing.T) {
	if _, err := testAcquirer(t).File("", ""); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("err = %v, want ErrNotSupported", err)
	}
}

func TestFileMissingPaths(t *testing.T) {
	if _, err := testAcquirer(t).File("/nonexistent/video.ivf", ""); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("video err = %v, want ErrNotSupported", err)
	}
	if _, err := testAcquirer(t).File("", "/nonexistent/audio.ogg"); !errors.Is(err, ErrNotSupported) {
		t.Fatalf("audio err = %v, want ErrNotSupported", err)
	}
}

func TestClassifyCaptureError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil passes through", nil, nil},
		{"permission", errors.New("camera: permission denied by user"), ErrPermissionDenied},
		{"access denied", errors.New("Access denied"), ErrPermissionDenied},
		{"not implemented", errors.New("screen capture not implemented on this platform"), ErrNotSupported},
		{"not found", errors.New("failed to find the best driver"), ErrDeviceUnavailable},
		{"unknown", errors.New("something odd"), ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyCaptureError(tt.err)
			if tt.want == nil {
				if got != nil {
					t.Fatalf("got %v, want nil", got)
				}
				return
			}
			if !errors.Is(got, tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
