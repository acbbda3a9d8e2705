// Package render is the boundary between negotiation and whatever
// actually displays remote media. Negotiation hands decoded-transport
// tracks to a Surface and forgets about them; surfaces own their
// consumption goroutines and resources.
package render

import (
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"
)

// Surface consumes remote tracks. Attach is called once per inbound
// track as it arrives; a later track of the same kind from the same
// remote replaces the earlier one. Clear is called when the remote's
// connection ends and must release everything held for it. Both must
// be safe for concurrent use.
type Surface interface {
	Attach(remoteID string, track *webrtc.TrackRemote)
	Clear(remoteID string)
}

// Placeholder is a Surface that drains tracks without rendering them,
// for sessions that only care about the sync channel.
type Placeholder struct {
	logger *zap.Logger
}

func NewPlaceholder(logger *zap.Logger) *Placeholder {
	return &Placeholder{logger: logger.Named("render")}
}

func (p *Placeholder) Attach(remoteID string, track *webrtc.TrackRemote) {
	p.logger.Info("draining remote track",
		zap.String("remote_id", remoteID),
		zap.String("kind", track.Kind().String()))
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}

func (p *Placeholder) Clear(remoteID string) {
	p.logger.Debug("surface cleared", zap.String("remote_id", remoteID))
}
