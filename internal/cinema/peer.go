package cinema

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/media"
	"github.com/mikeyg42/cinema/internal/protocol"
)

// Direction records which side originated the connection.
type Direction int

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

func (d Direction) String() string {
	if d == DirectionInbound {
		return "inbound"
	}
	return "outbound"
}

// Peer is this process's negotiated relationship (media + data) with
// one remote identity. The session guarantees at most one live Peer
// per remote; a newer call to the same remote supersedes this one.
type Peer struct {
	remoteID  string
	callID    string
	direction Direction
	sess      *Session
	logger    *zap.Logger

	mu                sync.Mutex
	mediaState        MediaState
	dataState         DataState
	pc                *webrtc.PeerConnection
	dc                *webrtc.DataChannel
	senders           map[webrtc.RTPCodecType]*webrtc.RTPSender
	ownedOffer        *media.Offer // fallback offer this peer acquired; released on close
	pendingCandidates []webrtc.ICECandidateInit
	hasRemoteDesc     bool
	closeErr          error

	negotiating atomic.Bool
	setupTimer  *time.Timer
	closeOnce   sync.Once
}

func (s *Session) newPeer(remoteID, callID string, direction Direction) (*Peer, error) {
	pc, err := s.api.NewPeerConnection(s.pcConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	p := &Peer{
		remoteID:  remoteID,
		callID:    callID,
		direction: direction,
		sess:      s,
		logger: s.logger.Named("peer").With(
			zap.String("remote_id", remoteID),
			zap.String("direction", direction.String())),
		mediaState: MediaIdle,
		dataState:  DataPending,
		pc:         pc,
		senders:    make(map[webrtc.RTPCodecType]*webrtc.RTPSender),
	}
	p.setupCallbacks()

	if direction == DirectionOutbound {
		// Unanswered calls are bounded; expiry fails the peer as
		// unreachable rather than leaving it pending forever.
		p.setupTimer = time.AfterFunc(s.cfg.CallTimeout, func() {
			if p.MediaState() == MediaActive {
				return
			}
			p.logger.Warn("call setup timed out")
			s.removePeer(p, ErrRemoteUnreachable)
		})
	}
	return p, nil
}

func (p *Peer) RemoteID() string { return p.remoteID }

func (p *Peer) MediaState() MediaState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mediaState
}

func (p *Peer) DataState() DataState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dataState
}

// CloseErr reports why the peer ended, if it has.
func (p *Peer) CloseErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closeErr
}

func (p *Peer) setMediaState(to MediaState) {
	p.mu.Lock()
	next, err := transitionMedia(p.mediaState, to)
	changed := next != p.mediaState
	p.mediaState = next
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("media state transition rejected", zap.Error(err))
		return
	}
	if changed {
		p.logger.Info("media state changed", zap.String("state", to.String()))
	}
}

func (p *Peer) setDataState(to DataState) {
	p.mu.Lock()
	next, err := transitionData(p.dataState, to)
	changed := next != p.dataState
	p.dataState = next
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("data state transition rejected", zap.Error(err))
		return
	}
	if changed {
		p.logger.Info("data state changed", zap.String("state", to.String()))
	}
}

// register all callbacks in one place
func (p *Peer) setupCallbacks() {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.logger.Info("connection state changed", zap.String("state", state.String()))
		switch state {
		case webrtc.PeerConnectionStateConnected:
			p.cancelSetupTimer()
			p.setMediaState(MediaActive)
		case webrtc.PeerConnectionStateFailed:
			// Errors are never retried automatically; the remote is
			// removed and the UI may re-invite.
			p.sess.removePeer(p, ErrRemoteUnreachable)
		case webrtc.PeerConnectionStateClosed:
			p.sess.removePeer(p, nil)
		}
	})

	p.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			return
		}
		init := candidate.ToJSON()
		if err := p.sess.signaler.Send(protocol.MethodTrickle, protocol.Envelope{
			From:      p.sess.signaler.Identity(),
			To:        p.remoteID,
			CallID:    p.callID,
			Candidate: &init,
		}); err != nil {
			p.logger.Warn("failed to send ICE candidate", zap.Error(err))
		}
	})

	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.logger.Info("remote track arrived",
			zap.String("track_id", track.ID()),
			zap.String("kind", track.Kind().String()),
			zap.String("codec", track.Codec().MimeType))
		// The stream event, not data channel state, is what signals
		// media readiness. A new stream from the same remote replaces
		// the previous one on the surface.
		p.sess.surface.Attach(p.remoteID, track)
	})

	p.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		p.logger.Info("data channel announced", zap.String("label", dc.Label()))
		p.adoptDataChannel(dc)
	})
}

// createDataChannel opens the sync channel. The connection originator
// creates it; the other side adopts it via OnDataChannel.
func (p *Peer) createDataChannel() error {
	ordered := true
	dc, err := p.pc.CreateDataChannel("sync", &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return fmt.Errorf("failed to create data channel: %w", err)
	}
	p.adoptDataChannel(dc)
	return nil
}

func (p *Peer) adoptDataChannel(dc *webrtc.DataChannel) {
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()

	dc.OnOpen(func() {
		p.setDataState(DataOpen)
		p.sess.dataOpened(p)
	})
	dc.OnClose(func() {
		p.setDataState(DataClosed)
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		sync, err := protocol.DecodeSyncMessage(msg.Data)
		if err != nil {
			p.logger.Warn("bad sync message", zap.Error(err))
			return
		}
		p.sess.dispatchSync(p.remoteID, sync)
	})
}

// sendSync delivers one message over the data channel. Delivery is
// best-effort: a channel that is not open drops the message with a log
// line, never an error.
func (p *Peer) sendSync(msg protocol.SyncMessage) {
	p.mu.Lock()
	dc := p.dc
	state := p.dataState
	p.mu.Unlock()

	if dc == nil || state != DataOpen {
		p.logger.Debug("dropping sync message, data channel not open",
			zap.String("type", msg.Type),
			zap.String("data_state", state.String()))
		return
	}
	data, err := msg.Encode()
	if err != nil {
		p.logger.Warn("failed to encode sync message", zap.Error(err))
		return
	}
	if err := dc.Send(data); err != nil {
		p.logger.Warn("failed to send sync message", zap.Error(err))
	}
}

// attachOffer adds the offer's tracks to the connection. The offer is
// borrowed: the peer never stops its tracks unless it owns them.
func (p *Peer) attachOffer(offer *media.Offer, owned bool) error {
	for _, track := range offer.Tracks() {
		sender, err := p.pc.AddTrack(track.Local())
		if err != nil {
			return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
		}
		p.mu.Lock()
		p.senders[track.Kind()] = sender
		p.mu.Unlock()
	}
	if owned {
		p.mu.Lock()
		p.ownedOffer = offer
		p.mu.Unlock()
	}
	return nil
}

// replaceTrack swaps one outbound track kind in place. No new
// negotiation round: the sender keeps its transceiver, the other
// kind's sender and the data channel are untouched.
func (p *Peer) replaceTrack(kind webrtc.RTPCodecType, local webrtc.TrackLocal) error {
	p.mu.Lock()
	sender := p.senders[kind]
	p.mu.Unlock()

	if sender == nil {
		return fmt.Errorf("no %s sender to replace on %s", kind, p.remoteID)
	}
	if err := sender.ReplaceTrack(local); err != nil {
		return fmt.Errorf("failed to replace %s track: %w", kind, err)
	}
	p.logger.Info("outbound track replaced", zap.String("kind", kind.String()))
	return nil
}

// hasSender reports whether a track of the kind is already attached.
func (p *Peer) hasSender(kind webrtc.RTPCodecType) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.senders[kind] != nil
}

// sendLocalOffer runs the offer half of negotiation and ships the SDP
// to the remote through the relay.
func (p *Peer) sendLocalOffer() error {
	if !p.negotiating.CompareAndSwap(false, true) {
		p.logger.Debug("skipping negotiation, already in progress")
		return nil
	}
	defer p.negotiating.Store(false)

	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("failed to create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	return p.sess.signaler.Send(protocol.MethodCall, protocol.Envelope{
		From:   p.sess.signaler.Identity(),
		To:     p.remoteID,
		CallID: p.callID,
		SDP:    p.pc.LocalDescription(),
	})
}

// handleRemoteOffer answers an inbound or renegotiation offer.
func (p *Peer) handleRemoteOffer(sdp *webrtc.SessionDescription) error {
	if sdp == nil {
		return fmt.Errorf("received nil offer SDP")
	}
	if err := validateSDP(sdp); err != nil {
		return fmt.Errorf("invalid offer SDP: %w", err)
	}
	if err := p.pc.SetRemoteDescription(*sdp); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	p.flushCandidates()

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("failed to create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("failed to set local description: %w", err)
	}

	return p.sess.signaler.Send(protocol.MethodAnswer, protocol.Envelope{
		From:   p.sess.signaler.Identity(),
		To:     p.remoteID,
		CallID: p.callID,
		SDP:    p.pc.LocalDescription(),
	})
}

func (p *Peer) handleRemoteAnswer(sdp *webrtc.SessionDescription) error {
	if sdp == nil {
		return fmt.Errorf("received nil answer SDP")
	}
	if err := validateSDP(sdp); err != nil {
		return fmt.Errorf("invalid answer SDP: %w", err)
	}
	if err := p.pc.SetRemoteDescription(*sdp); err != nil {
		return fmt.Errorf("failed to set remote description: %w", err)
	}
	p.flushCandidates()
	return nil
}

// addRemoteCandidate applies a trickled candidate, buffering it when
// it races ahead of the remote description.
func (p *Peer) addRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	p.mu.Lock()
	if !p.hasRemoteDesc {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("failed to add ICE candidate: %w", err)
	}
	return nil
}

func (p *Peer) flushCandidates() {
	p.mu.Lock()
	p.hasRemoteDesc = true
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.mu.Unlock()

	for _, candidate := range pending {
		if err := p.pc.AddICECandidate(candidate); err != nil {
			p.logger.Warn("failed to add buffered ICE candidate", zap.Error(err))
		}
	}
}

func (p *Peer) cancelSetupTimer() {
	p.mu.Lock()
	timer := p.setupTimer
	p.setupTimer = nil
	p.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
}

// close tears the peer down: media and data end in a terminal state,
// owned capture is stopped, and the surface forgets the remote.
// Idempotent; reason nil means an orderly close.
func (p *Peer) close(reason error) {
	p.closeOnce.Do(func() {
		p.cancelSetupTimer()

		p.mu.Lock()
		p.closeErr = reason
		owned := p.ownedOffer
		p.ownedOffer = nil
		p.mu.Unlock()

		if reason != nil {
			p.setMediaState(MediaFailed)
			p.logger.Warn("peer failed", zap.Error(reason))
		} else {
			p.setMediaState(MediaClosed)
		}
		p.setDataState(DataClosed)

		if owned != nil {
			owned.Release()
		}
		if err := p.pc.Close(); err != nil {
			p.logger.Debug("peer connection close", zap.Error(err))
		}
		p.sess.surface.Clear(p.remoteID)
		p.logger.Info("peer closed")
	})
}
