package cinema

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/media"
	"github.com/mikeyg42/cinema/internal/playback"
	"github.com/mikeyg42/cinema/internal/protocol"
	"github.com/mikeyg42/cinema/internal/subtitle"
)

// Host runs the screening: it owns the outbound stream, answers
// ready-for-stream requests from viewers, drives playback transport,
// broadcasts time beacons and subtitle cues, and relays chat between
// viewers.
type Host struct {
	sess      *Session
	cfg       *config.Config
	logger    *zap.Logger
	player    playback.Player
	transport *playback.Broadcaster
	subs      *subtitle.Engine

	onChat func(from, text string)
}

func NewHost(sess *Session, player playback.Player, cfg *config.Config, logger *zap.Logger) *Host {
	h := &Host{
		sess:   sess,
		cfg:    cfg,
		logger: logger.Named("host"),
		player: player,
	}
	h.transport = playback.NewBroadcaster(player, sess.Broadcast, cfg.Sync, logger)
	h.subs = subtitle.NewEngine(player, sess.Broadcast, cfg.Sync.SubtitleInterval, logger)

	sess.SetSyncHandler(h.handleSync)
	sess.SetDataOpenHandler(h.handleDataOpen)
	return h
}

// SetChatHandler installs the receiver for chat lines. Chat is also
// relayed to the other viewers regardless.
func (h *Host) SetChatHandler(fn func(from, text string)) { h.onChat = fn }

// Run drives the periodic broadcasts until the context ends.
func (h *Host) Run(ctx context.Context) {
	go h.transport.Run(ctx)
	h.subs.Run(ctx)
}

// StartMovie swaps the outbound stream to the given offer and releases
// the previous one. Parked viewers are called; live viewers get their
// tracks replaced in place.
func (h *Host) StartMovie(offer *media.Offer) {
	previous := h.sess.SetOffer(offer)
	if previous != nil {
		previous.Release()
	}
	h.logger.Info("movie stream live", zap.String("source", string(offer.Source())))
}

// LoadSubtitles installs a cue set for the running movie.
func (h *Host) LoadSubtitles(cues subtitle.Cues) { h.subs.Load(cues) }

func (h *Host) Play()          { h.transport.Play() }
func (h *Host) Pause()         { h.transport.Pause() }
func (h *Host) Seek(s float64) { h.transport.Seek(s) }

func (h *Host) SendChat(text string) {
	h.sess.Broadcast(protocol.SyncMessage{
		Type: protocol.SyncChat,
		TS:   time.Now().UnixMilli(),
		Text: text,
		From: h.sess.signaler.Identity(),
	})
}

func (h *Host) handleDataOpen(remoteID string) {
	// An immediate beacon snaps the joiner to the current position and
	// the next subtitle tick fills in the overlay.
	h.logger.Info("viewer sync channel open", zap.String("remote_id", remoteID))
	h.transport.Beacon()
}

func (h *Host) handleSync(from string, msg protocol.SyncMessage) {
	switch msg.Type {
	case protocol.SyncReady:
		if err := h.sess.EnsureMedia(from); err != nil {
			if errors.Is(err, ErrNoLocalStream) {
				h.logger.Info("viewer ready before stream, parked",
					zap.String("remote_id", from))
				return
			}
			h.logger.Warn("failed to deliver stream",
				zap.String("remote_id", from), zap.Error(err))
		}
	case protocol.SyncChat:
		if h.onChat != nil {
			h.onChat(from, msg.Text)
		}
		h.relayChat(from, msg)
	}
}

// relayChat forwards a viewer's chat line to every other viewer.
func (h *Host) relayChat(from string, msg protocol.SyncMessage) {
	out := protocol.SyncMessage{
		Type: protocol.SyncChat,
		TS:   msg.TS,
		Text: msg.Text,
		From: from,
	}
	for _, p := range h.sess.Peers() {
		if p.RemoteID() == from || p.DataState() != DataOpen {
			continue
		}
		p.sendSync(out)
	}
}
