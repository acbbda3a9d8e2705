package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"go.uber.org/zap"

	_ "github.com/pion/mediadevices/pkg/driver/camera"     // This is required to register camera adapter - DON'T REMOVE
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // This is required to register microphone adapter  - DON'T REMOVE
	_ "github.com/pion/mediadevices/pkg/driver/screen"     // This is required to register screen adapter - DON'T REMOVE

	"github.com/mikeyg42/cinema/internal/config"
)

// Source tags an Offer with where its tracks came from.
type Source string

const (
	SourceCamera  Source = "camera"
	SourceScreen  Source = "screen"
	SourceFile    Source = "file-capture"
	SourceSilence Source = "synthetic-silence"
)

const (
	rtpMTU = 1200

	// 20 ms of opus silence, written while the silence source is live.
	opusFrameInterval = 20 * time.Millisecond
)

var opusSilenceFrame = []byte{0xf8, 0xff, 0xfe}

// Offer is a bundle of local capture tracks available to be sent to
// remote parties. Offers are owned by whoever acquired them; peer
// connections only borrow the webrtc-facing tracks.
type Offer struct {
	source Source
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	tracks   []*OfferTrack
	released bool
}

// OfferTrack is one outbound track plus its mute flag. Disabling a
// track stops packets at the pump; the track stays attached so no
// renegotiation happens and the remote simply sees frozen media.
type OfferTrack struct {
	kind    webrtc.RTPCodecType
	local   webrtc.TrackLocal
	enabled atomic.Bool

	stopOnce sync.Once
	stopFn   func()
}

func newOfferTrack(kind webrtc.RTPCodecType, local webrtc.TrackLocal, stop func()) *OfferTrack {
	t := &OfferTrack{kind: kind, local: local, stopFn: stop}
	t.enabled.Store(true)
	return t
}

func (t *OfferTrack) Kind() webrtc.RTPCodecType { return t.kind }
func (t *OfferTrack) Local() webrtc.TrackLocal  { return t.local }
func (t *OfferTrack) Enabled() bool             { return t.enabled.Load() }

func (t *OfferTrack) stop() {
	t.stopOnce.Do(func() {
		if t.stopFn != nil {
			t.stopFn()
		}
	})
}

func newOffer(source Source, logger *zap.Logger) *Offer {
	ctx, cancel := context.WithCancel(context.Background())
	return &Offer{
		source: source,
		logger: logger.Named("offer").With(zap.String("source", string(source))),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (o *Offer) Source() Source { return o.source }

// Tracks returns the offer's tracks. The slice is a copy; the tracks
// themselves are shared.
func (o *Offer) Tracks() []*OfferTrack {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*OfferTrack, len(o.tracks))
	copy(out, o.tracks)
	return out
}

// TrackOfKind returns the first track of the given kind, or nil.
func (o *Offer) TrackOfKind(kind webrtc.RTPCodecType) *OfferTrack {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.tracks {
		if t.kind == kind {
			return t
		}
	}
	return nil
}

// Empty reports whether the offer carries no tracks at all. An empty
// offer must never be used to originate a call.
func (o *Offer) Empty() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.tracks) == 0
}

// SetTrackEnabled toggles mute/hide for every track of the given kind.
// The side effect is immediately observable remotely without a new
// negotiation round.
func (o *Offer) SetTrackEnabled(kind webrtc.RTPCodecType, enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, t := range o.tracks {
		if t.kind == kind {
			t.enabled.Store(enabled)
		}
	}
	o.logger.Debug("track enabled flag flipped",
		zap.String("kind", kind.String()),
		zap.Bool("enabled", enabled))
}

// Release stops every track and pump. Idempotent; safe on an offer
// that was never fully built.
func (o *Offer) Release() {
	o.mu.Lock()
	if o.released {
		o.mu.Unlock()
		return
	}
	o.released = true
	tracks := o.tracks
	o.mu.Unlock()

	o.cancel()
	for _, t := range tracks {
		t.stop()
	}
	o.logger.Debug("offer released", zap.Int("tracks", len(tracks)))
}

func (o *Offer) addTrack(t *OfferTrack) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.tracks = append(o.tracks, t)
}

// Acquirer obtains capture streams from the platform and wraps them as
// Offers.
type Acquirer struct {
	cfg      *config.Config
	selector *mediadevices.CodecSelector
	logger   *zap.Logger
}

func NewAcquirer(cfg *config.Config, selector *mediadevices.CodecSelector, logger *zap.Logger) *Acquirer {
	return &Acquirer{cfg: cfg, selector: selector, logger: logger.Named("media")}
}

// Camera captures the default camera and microphone.
func (a *Acquirer) Camera() (*Offer, error) {
	if !deviceKindPresent(mediadevices.VideoInput) {
		return nil, fmt.Errorf("camera capture: %w", ErrDeviceUnavailable)
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameFormat = prop.FrameFormat(frame.FormatYUY2)
			c.Width = prop.Int(a.cfg.Media.Width)
			c.Height = prop.Int(a.cfg.Media.Height)
			c.FrameRate = prop.Float(a.cfg.Media.FrameRate)
			c.DiscardFramesOlderThan = 500 * time.Millisecond
		},
		Codec: a.selector,
	}
	if deviceKindPresent(mediadevices.AudioInput) {
		constraints.Audio = func(c *mediadevices.MediaTrackConstraints) {
			c.SampleRate = prop.Int(48000)
			c.SampleSize = prop.Int(16)
			c.ChannelCount = prop.Int(1)
			c.IsFloat = prop.BoolExact(false)
			c.IsBigEndian = prop.BoolExact(false)
			c.IsInterleaved = prop.BoolExact(true)
			c.Latency = prop.Duration(time.Millisecond * 50)
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("camera capture: %w", classifyCaptureError(err))
	}
	return a.buildDeviceOffer(stream, SourceCamera)
}

// Screen captures the primary display. Screen capture carries no audio;
// toggling screen share on a live call goes through ReplaceTrack so the
// existing audio track is untouched.
func (a *Acquirer) Screen() (*Offer, error) {
	stream, err := mediadevices.GetDisplayMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.FrameRate = prop.Float(a.cfg.Media.FrameRate)
		},
		Codec: a.selector,
	})
	if err != nil {
		return nil, fmt.Errorf("screen capture: %w", classifyCaptureError(err))
	}
	return a.buildDeviceOffer(stream, SourceScreen)
}

// Silence builds the handshake-viability fallback: a single synthetic
// audio track carrying opus silence. Used when answering a call with
// no real capture available, so the callee never rejects outright.
func (a *Acquirer) Silence() (*Offer, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"audio", "cinema-silence",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create silence track: %w", err)
	}

	offer := newOffer(SourceSilence, a.logger)
	track := newOfferTrack(webrtc.RTPCodecTypeAudio, local, nil)
	offer.addTrack(track)

	go func() {
		ticker := time.NewTicker(opusFrameInterval)
		defer ticker.Stop()
		for {
			select {
			case <-offer.ctx.Done():
				return
			case <-ticker.C:
				if !track.Enabled() {
					continue
				}
				if err := local.WriteSample(pionmedia.Sample{
					Data:     opusSilenceFrame,
					Duration: opusFrameInterval,
				}); err != nil {
					a.logger.Warn("silence track write failed", zap.Error(err))
					return
				}
			}
		}
	}()

	return offer, nil
}

// buildDeviceOffer wraps a mediadevices stream: one local RTP track per
// capture track, each fed by a pump goroutine reading encoded RTP from
// the device track.
func (a *Acquirer) buildDeviceOffer(stream mediadevices.MediaStream, source Source) (*Offer, error) {
	offer := newOffer(source, a.logger)

	for _, track := range stream.GetVideoTracks() {
		if err := a.addDeviceTrack(offer, track, webrtc.RTPCodecTypeVideo, webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
		}); err != nil {
			offer.Release()
			return nil, err
		}
	}
	for _, track := range stream.GetAudioTracks() {
		if err := a.addDeviceTrack(offer, track, webrtc.RTPCodecTypeAudio, webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    1,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		}); err != nil {
			offer.Release()
			return nil, err
		}
	}

	if offer.Empty() {
		offer.Release()
		return nil, fmt.Errorf("%s capture produced no tracks: %w", source, ErrDeviceUnavailable)
	}

	a.logger.Info("capture acquired",
		zap.String("source", string(source)),
		zap.Int("tracks", len(offer.Tracks())))
	return offer, nil
}

func (a *Acquirer) addDeviceTrack(offer *Offer, track mediadevices.Track, kind webrtc.RTPCodecType, capability webrtc.RTPCodecCapability) error {
	id := "audio"
	if kind == webrtc.RTPCodecTypeVideo {
		id = "video"
	}
	local, err := webrtc.NewTrackLocalStaticRTP(capability, id, "cinema-"+string(offer.source))
	if err != nil {
		return fmt.Errorf("failed to create %s track: %w", id, err)
	}

	ot := newOfferTrack(kind, local, func() {
		if err := track.Close(); err != nil {
			a.logger.Debug("capture track close", zap.Error(err))
		}
	})
	offer.addTrack(ot)

	go a.pumpRTP(offer.ctx, track, local, ot)
	return nil
}

// pumpRTP moves encoded packets from a device track into the local
// track. TrackLocalStaticRTP rewrites SSRC and payload type per
// binding, so one pump serves every peer the offer is attached to.
// Disabled tracks drop packets here, which the remote observes as
// muted audio / frozen video.
func (a *Acquirer) pumpRTP(ctx context.Context, track mediadevices.Track, local *webrtc.TrackLocalStaticRTP, ot *OfferTrack) {
	ssrc := uuid.New().ID()
	rtpReader, err := track.NewRTPReader(local.Codec().MimeType, ssrc, rtpMTU)
	if err != nil {
		a.logger.Error("failed to create RTP reader",
			zap.String("kind", ot.kind.String()), zap.Error(err))
		return
	}
	defer rtpReader.Close()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		packets, release, err := rtpReader.Read()
		if err != nil {
			select {
			case <-ctx.Done():
			default:
				a.logger.Warn("RTP read ended",
					zap.String("kind", ot.kind.String()), zap.Error(err))
			}
			return
		}

		if ot.Enabled() {
			for _, packet := range packets {
				if err := local.WriteRTP(packet); err != nil {
					a.logger.Warn("RTP write failed",
						zap.String("kind", ot.kind.String()), zap.Error(err))
					release()
					return
				}
			}
		}
		release()
	}
}

func deviceKindPresent(kind mediadevices.MediaDeviceType) bool {
	for _, device := range mediadevices.EnumerateDevices() {
		if device.Kind == kind {
			return true
		}
	}
	return false
}
