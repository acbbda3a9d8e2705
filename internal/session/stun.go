package session

import (
	"context"
	"strings"
	"time"

	"github.com/pion/stun/v3"
	"go.uber.org/zap"
)

// ProbeSTUN sends a binding request to each configured STUN server and
// logs the reflexive address or the failure. Unreachable servers are a
// warning, not an error: ICE may still succeed through the others.
func ProbeSTUN(ctx context.Context, urls []string, logger *zap.Logger) {
	log := logger.Named("stun")
	for _, u := range urls {
		if !strings.HasPrefix(u, "stun:") {
			continue
		}
		addr := strings.TrimPrefix(u, "stun:")

		select {
		case <-ctx.Done():
			return
		default:
		}

		client, err := stun.Dial("udp4", addr)
		if err != nil {
			log.Warn("STUN server unreachable", zap.String("server", addr), zap.Error(err))
			continue
		}

		request := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
		done := make(chan struct{})
		err = client.Start(request, func(res stun.Event) {
			defer close(done)
			if res.Error != nil {
				log.Warn("STUN binding failed", zap.String("server", addr), zap.Error(res.Error))
				return
			}
			var xorAddr stun.XORMappedAddress
			if getErr := xorAddr.GetFrom(res.Message); getErr != nil {
				log.Warn("STUN response missing mapped address",
					zap.String("server", addr), zap.Error(getErr))
				return
			}
			log.Info("STUN server reachable",
				zap.String("server", addr),
				zap.String("mapped", xorAddr.String()))
		})
		if err != nil {
			log.Warn("STUN request failed", zap.String("server", addr), zap.Error(err))
			client.Close()
			continue
		}

		select {
		case <-done:
		case <-time.After(3 * time.Second):
			log.Warn("STUN binding timed out", zap.String("server", addr))
		case <-ctx.Done():
		}
		client.Close()
	}
}
