package cinema

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/playback"
	"github.com/mikeyg42/cinema/internal/protocol"
)

// Viewer joins a host's screening: it opens a data-first connection,
// announces readiness for the stream once the sync channel is up, and
// keeps local playback reconciled with the host's beacons.
type Viewer struct {
	sess      *Session
	hostID    string
	logger    *zap.Logger
	corrector *playback.Corrector

	mu           sync.Mutex
	lastSubtitle string
	onSubtitle   func(text string)
	onChat       func(from, text string)
}

func NewViewer(sess *Session, hostID string, player playback.Player, cfg *config.Config, logger *zap.Logger) *Viewer {
	v := &Viewer{
		sess:      sess,
		hostID:    hostID,
		logger:    logger.Named("viewer"),
		corrector: playback.NewCorrector(player, cfg.Sync, logger),
	}
	sess.SetSyncHandler(v.handleSync)
	sess.SetDataOpenHandler(v.handleDataOpen)
	return v
}

// SetSubtitleHandler installs the overlay callback. It fires only on
// cue changes; an empty string clears the overlay.
func (v *Viewer) SetSubtitleHandler(fn func(text string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onSubtitle = fn
}

func (v *Viewer) SetChatHandler(fn func(from, text string)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onChat = fn
}

// Join connects to the host. Media arrives later, pushed by the host
// in response to the readiness announcement.
func (v *Viewer) Join() error {
	return v.sess.Connect(v.hostID)
}

// Leave hangs up on the host.
func (v *Viewer) Leave() {
	v.sess.EndCall(v.hostID)
}

func (v *Viewer) SendChat(text string) {
	v.sess.Send(v.hostID, protocol.SyncMessage{
		Type: protocol.SyncChat,
		TS:   time.Now().UnixMilli(),
		Text: text,
		From: v.sess.signaler.Identity(),
	})
}

func (v *Viewer) handleDataOpen(remoteID string) {
	if remoteID != v.hostID {
		return
	}
	v.logger.Info("sync channel open, requesting stream")
	v.sess.Send(v.hostID, protocol.SyncMessage{
		Type: protocol.SyncReady,
		TS:   time.Now().UnixMilli(),
	})
}

func (v *Viewer) handleSync(from string, msg protocol.SyncMessage) {
	if from != v.hostID {
		v.logger.Debug("ignoring sync message from non-host",
			zap.String("remote_id", from))
		return
	}
	switch msg.Type {
	case protocol.SyncPlay, protocol.SyncPause, protocol.SyncSeek, protocol.SyncTime:
		v.corrector.Apply(msg)
	case protocol.SyncSubtitle:
		v.applySubtitle(msg.Text)
	case protocol.SyncChat:
		v.mu.Lock()
		fn := v.onChat
		v.mu.Unlock()
		if fn != nil {
			fn(msg.From, msg.Text)
		}
	}
}

// applySubtitle dedupes the periodic broadcast down to changes, so the
// overlay callback fires once per cue and once per clear.
func (v *Viewer) applySubtitle(text string) {
	v.mu.Lock()
	changed := text != v.lastSubtitle
	v.lastSubtitle = text
	fn := v.onSubtitle
	v.mu.Unlock()

	if changed && fn != nil {
		fn(text)
	}
}
