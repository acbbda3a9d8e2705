package render

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"
)

// vp8Keyframe builds a minimal VP8 frame header claiming the given
// dimensions. Bit 0 of the first byte is the inverse keyframe flag.
func vp8Keyframe(width, height int) []byte {
	data := make([]byte, 16)
	data[0] = 0x00
	data[6] = byte(width)
	data[7] = byte(width >> 8)
	data[8] = byte(height)
	data[9] = byte(height >> 8)
	return data
}

func vp8Interframe() []byte {
	data := make([]byte, 16)
	data[0] = 0x01
	return data
}

func TestRecorderInitializesOnKeyframe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.webm")
	rec := newRecorder(path, "remote-1", zap.NewNop())

	// Frames before the first keyframe cannot size the container.
	rec.pushVP8(vp8Interframe(), 33*time.Millisecond)
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("container created before a keyframe arrived")
	}

	rec.pushVP8(vp8Keyframe(320, 240), 33*time.Millisecond)
	rec.pushVP8(vp8Interframe(), 33*time.Millisecond)
	rec.pushOpus([]byte{0xf8, 0xff, 0xfe}, 20*time.Millisecond)
	rec.close()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("recording missing: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("recording is empty")
	}
}

func TestRecorderDropsAudioBeforeInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.webm")
	rec := newRecorder(path, "remote-1", zap.NewNop())

	rec.pushOpus([]byte{0xf8, 0xff, 0xfe}, 20*time.Millisecond)
	rec.close()

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("audio-only input created a container")
	}
}

func TestRecorderCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.webm")
	rec := newRecorder(path, "remote-1", zap.NewNop())
	rec.pushVP8(vp8Keyframe(320, 240), 33*time.Millisecond)
	rec.close()
	rec.close()

	// Writes after close are dropped, not crashed.
	rec.pushVP8(vp8Keyframe(320, 240), 33*time.Millisecond)
}

func TestSinkAssignsDistinctPaths(t *testing.T) {
	dir := t.TempDir()
	sink := NewWebMSink(filepath.Join(dir, "movie.webm"), zap.NewNop())

	first := sink.pathFor("aaaaaaaaaaaa")
	sink.recorders["aaaaaaaaaaaa"] = newRecorder(first, "aaaaaaaaaaaa", zap.NewNop())
	second := sink.pathFor("bbbbbbbbbbbb")

	if first != filepath.Join(dir, "movie.webm") {
		t.Errorf("first path = %q", first)
	}
	if second == first {
		t.Error("second remote reuses the first path")
	}
	if filepath.Ext(second) != ".webm" {
		t.Errorf("second path lost extension: %q", second)
	}
}
