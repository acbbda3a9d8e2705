package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"go.uber.org/zap"
)

const oggPageInterval = 20 * time.Millisecond

// File builds a file-capture offer from an IVF (VP8) video file and,
// optionally, an Ogg (opus) audio file. Either path may be empty, but
// not both. The offer's tracks end when their files drain; playback
// position is governed by the playback package, not by seeking here.
func (a *Acquirer) File(videoPath, audioPath string) (*Offer, error) {
	if videoPath == "" && audioPath == "" {
		return nil, fmt.Errorf("file capture: no files given: %w", ErrNotSupported)
	}

	offer := newOffer(SourceFile, a.logger)

	if videoPath != "" {
		if err := a.addIVFTrack(offer, videoPath); err != nil {
			offer.Release()
			return nil, err
		}
	}
	if audioPath != "" {
		if err := a.addOggTrack(offer, audioPath); err != nil {
			offer.Release()
			return nil, err
		}
	}

	a.logger.Info("file capture acquired",
		zap.String("video", videoPath),
		zap.String("audio", audioPath))
	return offer, nil
}

func (a *Acquirer) addIVFTrack(offer *Offer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open video file %q: %w", path, ErrNotSupported)
	}

	ivf, header, err := ivfreader.NewWith(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to parse IVF file %q: %w", path, ErrNotSupported)
	}

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"video", "cinema-file",
	)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create file video track: %w", err)
	}

	track := newOfferTrack(webrtc.RTPCodecTypeVideo, local, func() { file.Close() })
	offer.addTrack(track)

	// Frame pacing from the IVF timebase.
	frameDuration := time.Millisecond *
		time.Duration(float64(header.TimebaseNumerator)/float64(header.TimebaseDenominator)*1000)
	if frameDuration <= 0 {
		frameDuration = 33 * time.Millisecond
	}

	go func() {
		ticker := time.NewTicker(frameDuration)
		defer ticker.Stop()
		for {
			select {
			case <-offer.ctx.Done():
				return
			case <-ticker.C:
			}

			frame, _, err := ivf.ParseNextFrame()
			if errors.Is(err, io.EOF) {
				a.logger.Info("video file drained", zap.String("path", path))
				return
			}
			if err != nil {
				a.logger.Warn("IVF parse failed", zap.Error(err))
				return
			}

			if !track.Enabled() {
				continue
			}
			if err := local.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				a.logger.Warn("file video write failed", zap.Error(err))
				return
			}
		}
	}()
	return nil
}

func (a *Acquirer) addOggTrack(offer *Offer, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file %q: %w", path, ErrNotSupported)
	}

	ogg, _, err := oggreader.NewWith(file)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to parse Ogg file %q: %w", path, ErrNotSupported)
	}

	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "cinema-file",
	)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to create file audio track: %w", err)
	}

	track := newOfferTrack(webrtc.RTPCodecTypeAudio, local, func() { file.Close() })
	offer.addTrack(track)

	go func() {
		// Ogg pages are paced by granule position; 48 kHz opus.
		var lastGranule uint64
		ticker := time.NewTicker(oggPageInterval)
		defer ticker.Stop()
		for {
			select {
			case <-offer.ctx.Done():
				return
			case <-ticker.C:
			}

			pageData, pageHeader, err := ogg.ParseNextPage()
			if errors.Is(err, io.EOF) {
				a.logger.Info("audio file drained", zap.String("path", path))
				return
			}
			if err != nil {
				a.logger.Warn("Ogg parse failed", zap.Error(err))
				return
			}

			sampleCount := pageHeader.GranulePosition - lastGranule
			lastGranule = pageHeader.GranulePosition
			duration := time.Duration(sampleCount*1000/48000) * time.Millisecond

			if !track.Enabled() {
				continue
			}
			if err := local.WriteSample(pionmedia.Sample{Data: pageData, Duration: duration}); err != nil {
				a.logger.Warn("file audio write failed", zap.Error(err))
				return
			}
		}
	}()
	return nil
}
