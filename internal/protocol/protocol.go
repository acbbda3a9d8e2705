package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"
)

// Relay methods carried inside the jsonrpc2 framing.
const (
	MethodRegister   = "register"
	MethodRegistered = "registered"
	MethodCall       = "call"
	MethodAnswer     = "answer"
	MethodTrickle    = "trickle"
	MethodBye        = "bye"
	MethodPeerError  = "peer-error"
)

// Envelope is the payload of every relay message. From/To carry relay
// identities; CallID distinguishes superseded calls to the same remote.
type Envelope struct {
	From      string                     `json:"from,omitempty"`
	To        string                     `json:"to,omitempty"`
	CallID    string                     `json:"callId,omitempty"`
	SDP       *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Error     string                     `json:"error,omitempty"`
}

// RegisterRequest asks the relay for an identity. ResumeID is set when
// reconnecting so the relay re-binds the same identity.
type RegisterRequest struct {
	ResumeID string `json:"resumeId,omitempty"`
}

// RegisterResponse is the relay's reply to a register request.
type RegisterResponse struct {
	ID string `json:"id"`
}

// Sync message types sent over the per-peer data channel. Receivers key
// off Type; arrival order across types must not be assumed.
const (
	SyncPlay     = "play"
	SyncPause    = "pause"
	SyncSeek     = "seek"
	SyncTime     = "time"
	SyncSubtitle = "subtitle"
	SyncChat     = "chat"
	SyncReady    = "ready-for-stream"
)

// SyncMessage is the tagged union carried on the data channel: playback
// transport commands, periodic time beacons, subtitle cues, and chat.
type SyncMessage struct {
	Type        string  `json:"type"`
	TS          int64   `json:"ts"`
	CurrentTime float64 `json:"currentTime,omitempty"`
	Text        string  `json:"text,omitempty"`
	From        string  `json:"from,omitempty"`
}

// Encode marshals a sync message for the data channel.
func (m SyncMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sync message: %w", err)
	}
	return data, nil
}

// DecodeSyncMessage parses a data channel payload. Unknown types are
// returned as-is; dispatch decides what to ignore.
func DecodeSyncMessage(data []byte) (SyncMessage, error) {
	var m SyncMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return SyncMessage{}, fmt.Errorf("failed to decode sync message: %w", err)
	}
	if m.Type == "" {
		return SyncMessage{}, fmt.Errorf("sync message missing type")
	}
	return m, nil
}
