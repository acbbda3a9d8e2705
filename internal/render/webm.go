package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/at-wat/ebml-go/webm"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
	"go.uber.org/zap"
)

const sampleBuilderDepth = 10

// WebMSink records each remote's stream to a WebM file. The first
// remote writes to the configured path; further remotes get the remote
// id suffixed before the extension. The container is initialized
// lazily off the first VP8 keyframe, which carries the coded
// dimensions; audio arriving before that point is dropped.
type WebMSink struct {
	path   string
	logger *zap.Logger

	mu        sync.Mutex
	recorders map[string]*recorder
}

func NewWebMSink(path string, logger *zap.Logger) *WebMSink {
	return &WebMSink{
		path:      path,
		logger:    logger.Named("webm"),
		recorders: make(map[string]*recorder),
	}
}

func (s *WebMSink) Attach(remoteID string, track *webrtc.TrackRemote) {
	s.mu.Lock()
	rec := s.recorders[remoteID]
	if rec == nil {
		rec = newRecorder(s.pathFor(remoteID), remoteID, s.logger)
		s.recorders[remoteID] = rec
	}
	s.mu.Unlock()

	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		go rec.consumeVideo(track)
	case webrtc.RTPCodecTypeAudio:
		go rec.consumeAudio(track)
	}
}

func (s *WebMSink) Clear(remoteID string) {
	s.mu.Lock()
	rec := s.recorders[remoteID]
	delete(s.recorders, remoteID)
	s.mu.Unlock()
	if rec != nil {
		rec.close()
	}
}

// Close finalizes every open recording.
func (s *WebMSink) Close() {
	s.mu.Lock()
	recs := make([]*recorder, 0, len(s.recorders))
	for _, rec := range s.recorders {
		recs = append(recs, rec)
	}
	s.recorders = make(map[string]*recorder)
	s.mu.Unlock()
	for _, rec := range recs {
		rec.close()
	}
}

func (s *WebMSink) pathFor(remoteID string) string {
	s.logger.Debug("assigning recording path", zap.String("remote_id", remoteID))
	if len(s.recorders) == 0 {
		return s.path
	}
	ext := filepath.Ext(s.path)
	short := remoteID
	if len(short) > 8 {
		short = short[:8]
	}
	return strings.TrimSuffix(s.path, ext) + "." + short + ext
}

type recorder struct {
	path     string
	remoteID string
	logger   *zap.Logger

	mu             sync.Mutex
	closed         bool
	audioWriter    webm.BlockWriteCloser
	videoWriter    webm.BlockWriteCloser
	audioTimestamp time.Duration
	videoTimestamp time.Duration
}

func newRecorder(path, remoteID string, logger *zap.Logger) *recorder {
	return &recorder{
		path:     path,
		remoteID: remoteID,
		logger:   logger.With(zap.String("remote_id", remoteID)),
	}
}

func (r *recorder) consumeVideo(track *webrtc.TrackRemote) {
	builder := samplebuilder.New(sampleBuilderDepth, &codecs.VP8Packet{}, track.Codec().ClockRate)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		builder.Push(pkt)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			r.pushVP8(sample.Data, sample.Duration)
		}
	}
}

func (r *recorder) consumeAudio(track *webrtc.TrackRemote) {
	builder := samplebuilder.New(sampleBuilderDepth, &codecs.OpusPacket{}, track.Codec().ClockRate)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return
		}
		builder.Push(pkt)
		for sample := builder.Pop(); sample != nil; sample = builder.Pop() {
			r.pushOpus(sample.Data, sample.Duration)
		}
	}
}

func (r *recorder) pushVP8(data []byte, duration time.Duration) {
	if len(data) < 10 {
		return
	}
	keyframe := data[0]&0x1 == 0

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if r.videoWriter == nil {
		if !keyframe {
			return
		}
		raw := uint(data[6]) | uint(data[7])<<8 | uint(data[8])<<16 | uint(data[9])<<24
		width := int(raw & 0x3FFF)
		height := int((raw >> 16) & 0x3FFF)
		if err := r.initWriters(width, height); err != nil {
			r.logger.Error("failed to start recording", zap.Error(err))
			r.closed = true
			return
		}
	}
	r.videoTimestamp += duration
	if _, err := r.videoWriter.Write(keyframe, int64(r.videoTimestamp/time.Millisecond), data); err != nil {
		r.logger.Warn("video block write failed", zap.Error(err))
	}
}

func (r *recorder) pushOpus(data []byte, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.audioWriter == nil {
		return
	}
	r.audioTimestamp += duration
	if _, err := r.audioWriter.Write(true, int64(r.audioTimestamp/time.Millisecond), data); err != nil {
		r.logger.Warn("audio block write failed", zap.Error(err))
	}
}

func (r *recorder) initWriters(width, height int) error {
	file, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", r.path, err)
	}

	writers, err := webm.NewSimpleBlockWriter(file, []webm.TrackEntry{
		{
			Name:        "Audio",
			TrackNumber: 1,
			TrackUID:    1,
			CodecID:     "A_OPUS",
			TrackType:   2,
			Audio: &webm.Audio{
				SamplingFrequency: 48000.0,
				Channels:          2,
			},
		},
		{
			Name:        "Video",
			TrackNumber: 2,
			TrackUID:    2,
			CodecID:     "V_VP8",
			TrackType:   1,
			Video: &webm.Video{
				PixelWidth:  uint64(width),
				PixelHeight: uint64(height),
			},
		},
	})
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to initialize webm container: %w", err)
	}

	r.audioWriter = writers[0]
	r.videoWriter = writers[1]
	r.logger.Info("recording started",
		zap.String("path", r.path),
		zap.Int("width", width),
		zap.Int("height", height))
	return nil
}

func (r *recorder) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	if r.audioWriter != nil {
		r.audioWriter.Close()
	}
	if r.videoWriter != nil {
		r.videoWriter.Close()
	}
	r.logger.Info("recording finalized", zap.String("path", r.path))
}
