package media

import (
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/webrtc/v4"

	"github.com/mikeyg42/cinema/internal/config"
)

// NewCodecSelector builds the VP8/opus encoder configuration used for
// every capture source. The selector must also be registered on the
// MediaEngine backing the peer connection API (see RegisterCodecs).
func NewCodecSelector(cfg *config.Config) (*mediadevices.CodecSelector, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create VP8 params: %w", err)
	}
	vpxParams.BitRate = cfg.Media.BitRate
	vpxParams.KeyFrameInterval = 15
	vpxParams.RateControlEndUsage = vpx.RateControlVBR
	vpxParams.Deadline = time.Millisecond * 200

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create Opus params: %w", err)
	}
	opusParams.BitRate = 32_000
	opusParams.Latency = opus.Latency20ms // 20 ms frame size for real-time communication

	return mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	), nil
}

// RegisterCodecs prepares a MediaEngine with the default codecs plus
// the selector's encoders, ready for webrtc.NewAPI. A nil selector
// registers the defaults only, enough for receive-only or data-only
// sessions.
func RegisterCodecs(selector *mediadevices.CodecSelector) (*webrtc.MediaEngine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register default codecs: %w", err)
	}
	if selector != nil {
		selector.Populate(mediaEngine)
	}
	return mediaEngine, nil
}
