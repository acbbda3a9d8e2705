package cinema

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/mediadevices"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/media"
	"github.com/mikeyg42/cinema/internal/protocol"
	"github.com/mikeyg42/cinema/internal/render"
	"github.com/mikeyg42/cinema/internal/session"
)

// Signaler is the slice of the session registry negotiation needs.
type Signaler interface {
	Identity() string
	Status() session.Status
	Send(method string, env protocol.Envelope) error
}

// Session owns every PeerConnection of this process, keyed by remote
// identity, plus the current outbound offer. It implements the relay
// Handler so inbound calls, answers, and candidates route to the right
// peer. Failures on one peer never touch the others.
type Session struct {
	cfg      *config.Config
	logger   *zap.Logger
	signaler Signaler
	acquirer *media.Acquirer
	surface  render.Surface
	api      *webrtc.API
	pcConfig webrtc.Configuration

	mu             sync.Mutex
	peers          map[string]*Peer
	offer          *media.Offer
	pendingInvites map[string]struct{}
	closed         bool

	syncHandler func(from string, msg protocol.SyncMessage)
	dataOpen    func(remoteID string)
}

func NewSession(cfg *config.Config, signaler Signaler, acquirer *media.Acquirer, surface render.Surface, selector *mediadevices.CodecSelector, logger *zap.Logger) (*Session, error) {
	mediaEngine, err := media.RegisterCodecs(selector)
	if err != nil {
		return nil, err
	}

	return &Session{
		cfg:      cfg,
		logger:   logger.Named("cinema"),
		signaler: signaler,
		acquirer: acquirer,
		surface:  surface,
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine)),
		pcConfig: webrtc.Configuration{
			ICEServers:         []webrtc.ICEServer{{URLs: cfg.STUNServers}},
			ICETransportPolicy: webrtc.ICETransportPolicyAll,
		},
		peers:          make(map[string]*Peer),
		pendingInvites: make(map[string]struct{}),
	}, nil
}

// SetSyncHandler installs the receiver for inbound data channel
// messages. Messages arrive in order per peer; ordering across peers
// is not guaranteed.
func (s *Session) SetSyncHandler(fn func(from string, msg protocol.SyncMessage)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncHandler = fn
}

// SetDataOpenHandler installs a hook fired when a peer's data channel
// opens.
func (s *Session) SetDataOpenHandler(fn func(remoteID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dataOpen = fn
}

func (s *Session) dispatchSync(from string, msg protocol.SyncMessage) {
	s.mu.Lock()
	fn := s.syncHandler
	s.mu.Unlock()
	if fn != nil {
		fn(from, msg)
	}
}

func (s *Session) dataOpened(p *Peer) {
	s.mu.Lock()
	fn := s.dataOpen
	s.mu.Unlock()
	if fn != nil {
		fn(p.remoteID)
	}
}

// Peer returns the live connection to a remote, or nil.
func (s *Session) Peer(remoteID string) *Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[remoteID]
}

// Peers returns a snapshot of the live connections.
func (s *Session) Peers() []*Peer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

// Offer returns the current outbound offer, which may be nil.
func (s *Session) Offer() *media.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offer
}

// SetOffer installs a new outbound offer, updates every live peer, and
// retries remotes parked for want of a stream. The previous offer is
// returned so the caller can release it once satisfied nothing else
// borrows it. Live peers get an in-place track replacement per kind
// where a sender exists, so the data channel and the untouched kind
// survive unchanged; missing kinds are added and renegotiated.
func (s *Session) SetOffer(offer *media.Offer) *media.Offer {
	s.mu.Lock()
	previous := s.offer
	s.offer = offer
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	parked := make([]string, 0, len(s.pendingInvites))
	for id := range s.pendingInvites {
		parked = append(parked, id)
	}
	s.pendingInvites = make(map[string]struct{})
	s.mu.Unlock()

	if offer != nil {
		for _, p := range peers {
			if err := s.updatePeerMedia(p, offer); err != nil {
				p.logger.Warn("failed to update outbound media", zap.Error(err))
			}
		}
		for _, id := range parked {
			if err := s.Call(id); err != nil {
				s.logger.Warn("parked invite retry failed",
					zap.String("remote_id", id), zap.Error(err))
			}
		}
	}
	return previous
}

func (s *Session) updatePeerMedia(p *Peer, offer *media.Offer) error {
	needsRenegotiation := false
	for _, track := range offer.Tracks() {
		if p.hasSender(track.Kind()) {
			if err := p.replaceTrack(track.Kind(), track.Local()); err != nil {
				return err
			}
		} else {
			if _, err := p.pc.AddTrack(track.Local()); err != nil {
				return fmt.Errorf("failed to add %s track: %w", track.Kind(), err)
			}
			sender, err := trackSender(p.pc, track.Local())
			if err == nil {
				p.mu.Lock()
				p.senders[track.Kind()] = sender
				p.mu.Unlock()
			}
			needsRenegotiation = true
		}
	}
	if needsRenegotiation {
		return p.sendLocalOffer()
	}
	return nil
}

func trackSender(pc *webrtc.PeerConnection, local webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	for _, sender := range pc.GetSenders() {
		if sender.Track() == local {
			return sender, nil
		}
	}
	return nil, errors.New("no sender bound to track")
}

// ReplaceVideo swaps only the outbound video track on every live peer
// (the screen-share toggle). Audio senders and data channels are
// untouched, and no new call happens, so viewers see no reconnect
// glitch.
func (s *Session) ReplaceVideo(track *media.OfferTrack) error {
	if track == nil || track.Kind() != webrtc.RTPCodecTypeVideo {
		return fmt.Errorf("replace video requires a video track")
	}
	var firstErr error
	for _, p := range s.Peers() {
		if !p.hasSender(webrtc.RTPCodecTypeVideo) {
			continue
		}
		if err := p.replaceTrack(webrtc.RTPCodecTypeVideo, track.Local()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Call originates a connection to a remote carrying the current offer.
// With no live offer the call is not attempted at all: an empty offer
// is indistinguishable from a failed negotiation on the far side, so
// the remote is parked and retried when a capture starts.
func (s *Session) Call(remoteID string) error {
	if s.signaler.Status() != session.StatusOpen {
		return fmt.Errorf("cannot call %s: %w", remoteID, session.ErrNotOpen)
	}

	s.mu.Lock()
	offer := s.offer
	if offer == nil || offer.Empty() {
		s.pendingInvites[remoteID] = struct{}{}
		s.mu.Unlock()
		return fmt.Errorf("call to %s deferred: %w", remoteID, ErrNoLocalStream)
	}
	s.mu.Unlock()

	return s.dial(remoteID, offer)
}

// EnsureMedia guarantees the remote is receiving the current offer:
// on a live connection it adds the missing tracks and renegotiates, on
// no connection it originates a call. With no offer the remote is
// parked like Call.
func (s *Session) EnsureMedia(remoteID string) error {
	s.mu.Lock()
	offer := s.offer
	p := s.peers[remoteID]
	if offer == nil || offer.Empty() {
		s.pendingInvites[remoteID] = struct{}{}
		s.mu.Unlock()
		return fmt.Errorf("media for %s deferred: %w", remoteID, ErrNoLocalStream)
	}
	s.mu.Unlock()

	if p == nil {
		return s.dial(remoteID, offer)
	}
	return s.updatePeerMedia(p, offer)
}

// Connect originates a data-only connection (the viewer side: sync
// channel first, media arrives when the host adds tracks).
func (s *Session) Connect(remoteID string) error {
	if s.signaler.Status() != session.StatusOpen {
		return fmt.Errorf("cannot connect to %s: %w", remoteID, session.ErrNotOpen)
	}
	return s.dial(remoteID, nil)
}

func (s *Session) dial(remoteID string, offer *media.Offer) error {
	s.supersede(remoteID)

	p, err := s.newPeer(remoteID, uuid.NewString(), DirectionOutbound)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}

	if offer != nil {
		if err := p.attachOffer(offer, false); err != nil {
			p.close(err)
			return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
		}
	}
	if err := p.createDataChannel(); err != nil {
		p.close(err)
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}

	// Register before the offer leaves so a fast answer finds the peer.
	s.mu.Lock()
	s.peers[remoteID] = p
	s.mu.Unlock()

	p.setMediaState(MediaOffering)
	if err := p.sendLocalOffer(); err != nil {
		s.removePeer(p, err)
		return fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}

	s.logger.Info("call originated", zap.String("remote_id", remoteID))
	return nil
}

// supersede tears down any existing connection to the remote; a new
// call to the same identity always wins over concurrent attempts.
func (s *Session) supersede(remoteID string) {
	s.mu.Lock()
	existing := s.peers[remoteID]
	delete(s.peers, remoteID)
	s.mu.Unlock()
	if existing != nil {
		existing.close(ErrSuperseded)
	}
}

// HandleCall answers an inbound call. The callee answers immediately
// with whatever offer is live; with none it degrades to the silence
// fallback rather than rejecting, and only when even that fails is the
// call explicitly closed (never left half-open).
func (s *Session) HandleCall(env protocol.Envelope) {
	s.mu.Lock()
	existing := s.peers[env.From]
	s.mu.Unlock()

	if existing != nil && existing.callID == env.CallID {
		// Same call: a renegotiation offer (e.g. the host attached its
		// stream to a data-only connection).
		if err := existing.handleRemoteOffer(env.SDP); err != nil {
			existing.logger.Warn("renegotiation failed", zap.Error(err))
		}
		return
	}
	if existing != nil {
		existing.close(ErrSuperseded)
		s.mu.Lock()
		delete(s.peers, env.From)
		s.mu.Unlock()
	}

	p, err := s.newPeer(env.From, env.CallID, DirectionInbound)
	if err != nil {
		s.logger.Error("failed to build inbound peer",
			zap.String("remote_id", env.From), zap.Error(err))
		return
	}
	p.setMediaState(MediaAnswering)

	if err := s.attachAnswerMedia(p); err != nil {
		s.logger.Error("answer failed, closing call",
			zap.String("remote_id", env.From),
			zap.Error(fmt.Errorf("%w: %v", ErrAnswerFailed, err)))
		p.close(ErrAnswerFailed)
		s.sendBye(env.From, env.CallID)
		return
	}

	// Register before the answer leaves so trickled candidates find the
	// peer.
	s.mu.Lock()
	s.peers[env.From] = p
	s.mu.Unlock()

	if err := p.handleRemoteOffer(env.SDP); err != nil {
		s.logger.Error("failed to answer inbound call",
			zap.String("remote_id", env.From), zap.Error(err))
		s.removePeer(p, ErrAnswerFailed)
		s.sendBye(env.From, env.CallID)
		return
	}
	s.logger.Info("inbound call answered", zap.String("remote_id", env.From))
}

// attachAnswerMedia attaches the current offer, or acquires the
// audio-only silence fallback when nothing is live.
func (s *Session) attachAnswerMedia(p *Peer) error {
	s.mu.Lock()
	offer := s.offer
	s.mu.Unlock()

	if offer != nil && !offer.Empty() {
		return p.attachOffer(offer, false)
	}

	p.logger.Info("no local stream, answering with silence fallback")
	fallback, err := s.acquirer.Silence()
	if err != nil {
		return err
	}
	return p.attachOffer(fallback, true)
}

// HandleAnswer completes an outbound negotiation round.
func (s *Session) HandleAnswer(env protocol.Envelope) {
	p := s.Peer(env.From)
	if p == nil {
		s.logger.Debug("answer for unknown peer", zap.String("remote_id", env.From))
		return
	}
	if p.callID != env.CallID {
		// Answer to a superseded call; the new call has its own round.
		p.logger.Debug("ignoring answer for superseded call")
		return
	}
	if err := p.handleRemoteAnswer(env.SDP); err != nil {
		p.logger.Warn("failed to apply answer", zap.Error(err))
	}
}

func (s *Session) HandleTrickle(env protocol.Envelope) {
	p := s.Peer(env.From)
	if p == nil || env.Candidate == nil {
		return
	}
	if p.callID != env.CallID {
		return
	}
	if err := p.addRemoteCandidate(*env.Candidate); err != nil {
		p.logger.Warn("failed to add ICE candidate", zap.Error(err))
	}
}

// HandleBye removes a remote that hung up.
func (s *Session) HandleBye(env protocol.Envelope) {
	p := s.Peer(env.From)
	if p == nil {
		return
	}
	s.removePeer(p, nil)
}

// HandlePeerError logs a relay-reported failure for one remote and
// cleans up exactly like a close. Errors are never retried
// automatically; retrying an unreachable peer invites a call storm.
func (s *Session) HandlePeerError(env protocol.Envelope) {
	s.logger.Warn("relay reported peer error",
		zap.String("remote_id", env.From),
		zap.String("error", env.Error))
	p := s.Peer(env.From)
	if p == nil {
		return
	}
	s.removePeer(p, ErrRemoteUnreachable)
}

func (s *Session) removePeer(p *Peer, reason error) {
	s.mu.Lock()
	if s.peers[p.remoteID] == p {
		delete(s.peers, p.remoteID)
	}
	s.mu.Unlock()
	p.close(reason)
}

// EndCall hangs up on one remote: tells it goodbye and tears down the
// local side.
func (s *Session) EndCall(remoteID string) {
	p := s.Peer(remoteID)
	if p == nil {
		return
	}
	s.sendBye(remoteID, p.callID)
	s.removePeer(p, nil)
}

func (s *Session) sendBye(remoteID, callID string) {
	if err := s.signaler.Send(protocol.MethodBye, protocol.Envelope{
		From:   s.signaler.Identity(),
		To:     remoteID,
		CallID: callID,
	}); err != nil {
		s.logger.Debug("failed to send bye", zap.String("remote_id", remoteID), zap.Error(err))
	}
}

// Send delivers one sync message to one peer, best-effort.
func (s *Session) Send(remoteID string, msg protocol.SyncMessage) {
	p := s.Peer(remoteID)
	if p == nil {
		s.logger.Debug("dropping message for unknown peer", zap.String("remote_id", remoteID))
		return
	}
	p.sendSync(msg)
}

// Broadcast fans a sync message out to every peer with an open data
// channel, skipping the rest without error.
func (s *Session) Broadcast(msg protocol.SyncMessage) {
	for _, p := range s.Peers() {
		if p.DataState() != DataOpen {
			continue
		}
		p.sendSync(msg)
	}
}

// Close ends every call and releases the current offer. Idempotent.
// Afterwards no peer remains in any state other than closed or failed.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.peers = make(map[string]*Peer)
	offer := s.offer
	s.offer = nil
	s.mu.Unlock()

	for _, p := range peers {
		s.sendBye(p.remoteID, p.callID)
		p.close(nil)
	}
	if offer != nil {
		offer.Release()
	}
	s.logger.Info("cinema session closed", zap.Int("peers", len(peers)))
}
