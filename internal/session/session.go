package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/jsonrpc2"
	"go.uber.org/zap"

	"github.com/mikeyg42/cinema/internal/config"
	"github.com/mikeyg42/cinema/internal/protocol"
)

var (
	// ErrRelayError is terminal for the current registry; the caller
	// must construct a new one to retry.
	ErrRelayError = errors.New("session: relay error")

	// ErrRelayDisconnected marks a lost relay link while reconnection
	// is still being attempted.
	ErrRelayDisconnected = errors.New("session: relay disconnected")

	// ErrNotOpen is returned when an operation requires an open
	// registration.
	ErrNotOpen = errors.New("session: registry not open")
)

// Status of the relationship with the signaling relay.
type Status int

const (
	StatusConnecting Status = iota
	StatusOpen
	StatusDisconnected
	StatusErrored
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusDisconnected:
		return "disconnected"
	case StatusErrored:
		return "errored"
	case StatusDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Handler receives relay messages addressed to this identity.
type Handler interface {
	HandleCall(env protocol.Envelope)
	HandleAnswer(env protocol.Envelope)
	HandleTrickle(env protocol.Envelope)
	HandleBye(env protocol.Envelope)
	HandlePeerError(env protocol.Envelope)
}

// rpcMessage is the loose decode target for inbound relay frames.
type rpcMessage struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Registry holds this process's registration with the signaling relay:
// the relay-assigned identity, connection status, and the read loop
// dispatching inbound messages. Reconnection resumes the existing
// identity; a relay rejection is terminal for the registry.
type Registry struct {
	cfg     *config.Config
	logger  *zap.Logger
	handler Handler

	// OnStatus, when set before Open, is invoked on every status
	// transition (from the registry's goroutines).
	OnStatus func(Status)

	mu       sync.Mutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	status   Status
	identity string

	registered chan string
	destroyed  sync.Once
	done       chan struct{}
}

func NewRegistry(cfg *config.Config, handler Handler, logger *zap.Logger) *Registry {
	return &Registry{
		cfg:        cfg,
		logger:     logger.Named("session"),
		handler:    handler,
		status:     StatusConnecting,
		registered: make(chan string, 1),
		done:       make(chan struct{}),
	}
}

// Identity returns the relay-assigned peer id, or "" before Open
// resolves. The identity never changes for the lifetime of a registry.
func (r *Registry) Identity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

func (r *Registry) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *Registry) setStatus(s Status) {
	r.mu.Lock()
	if r.status == StatusDestroyed || r.status == s {
		r.mu.Unlock()
		return
	}
	r.status = s
	cb := r.OnStatus
	r.mu.Unlock()

	r.logger.Info("registry status changed", zap.String("status", s.String()))
	if cb != nil {
		cb(s)
	}
}

// Open dials the relay, registers, and resolves the identity. It must
// complete before any negotiation is attempted. Exactly one successful
// registration resolves per registry.
func (r *Registry) Open(ctx context.Context) (string, error) {
	if err := r.dial(ctx); err != nil {
		r.setStatus(StatusErrored)
		return "", err
	}

	go r.readLoop()

	if err := r.sendRegister(""); err != nil {
		r.setStatus(StatusErrored)
		return "", err
	}

	select {
	case <-ctx.Done():
		r.setStatus(StatusErrored)
		return "", fmt.Errorf("registration interrupted: %w", ctx.Err())
	case <-r.done:
		return "", fmt.Errorf("registry destroyed before registration: %w", ErrRelayError)
	case id := <-r.registered:
		r.mu.Lock()
		r.identity = id
		r.mu.Unlock()
		r.setStatus(StatusOpen)
		r.logger.Info("registered with relay", zap.String("peer_id", id))
		return id, nil
	}
}

func (r *Registry) dial(ctx context.Context) error {
	u := url.URL{Scheme: "ws", Host: r.cfg.RelayAddr, Path: r.cfg.RelayPath}
	r.logger.Info("connecting to relay", zap.String("url", u.String()))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("relay dial failed: %w", err)
	}
	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return nil
}

func (r *Registry) sendRegister(resumeID string) error {
	params, err := json.Marshal(protocol.RegisterRequest{ResumeID: resumeID})
	if err != nil {
		return fmt.Errorf("failed to marshal register request: %w", err)
	}
	return r.sendRaw(&jsonrpc2.Request{
		Method: protocol.MethodRegister,
		Params: (*json.RawMessage)(&params),
		ID:     jsonrpc2.ID{Num: uint64(uuid.New().ID())},
	})
}

// Send delivers an envelope to the relay under the given method.
// Callers must hold an open registration.
func (r *Registry) Send(method string, env protocol.Envelope) error {
	if r.Status() != StatusOpen {
		return fmt.Errorf("cannot send %s: %w", method, ErrNotOpen)
	}

	params, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal %s envelope: %w", method, err)
	}
	return r.sendRaw(&jsonrpc2.Request{
		Method: method,
		Params: (*json.RawMessage)(&params),
		ID:     jsonrpc2.ID{Num: uint64(uuid.New().ID())},
	})
}

func (r *Registry) sendRaw(message interface{}) error {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to encode relay message: %w", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to write relay message: %w", err)
	}
	return nil
}

func (r *Registry) readLoop() {
	for {
		r.mu.Lock()
		conn := r.conn
		r.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-r.done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				r.logger.Warn("relay read error", zap.Error(err))
			}
			r.handleDisconnect()
			return
		}

		if err := r.dispatch(data); err != nil {
			r.logger.Warn("failed to handle relay message", zap.Error(err))
		}
	}
}

func (r *Registry) dispatch(data []byte) error {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("failed to unmarshal relay message: %w", err)
	}

	if msg.Error != nil {
		r.logger.Error("relay reported error", zap.String("message", msg.Error.Message))
		return fmt.Errorf("%w: %s", ErrRelayError, msg.Error.Message)
	}

	switch msg.Method {
	case protocol.MethodRegistered:
		var resp protocol.RegisterResponse
		if err := json.Unmarshal(msg.Params, &resp); err != nil {
			return fmt.Errorf("failed to unmarshal register response: %w", err)
		}
		r.handleRegistered(resp.ID)
		return nil
	case protocol.MethodCall, protocol.MethodAnswer, protocol.MethodTrickle,
		protocol.MethodBye, protocol.MethodPeerError:
		var env protocol.Envelope
		if err := json.Unmarshal(msg.Params, &env); err != nil {
			return fmt.Errorf("failed to unmarshal %s envelope: %w", msg.Method, err)
		}
		r.route(msg.Method, env)
		return nil
	default:
		return fmt.Errorf("unknown relay method: %s", msg.Method)
	}
}

func (r *Registry) handleRegistered(id string) {
	if id == "" {
		// Relay echoed no identity; mint one locally so registration
		// still resolves.
		id = uuid.NewString()
	}

	r.mu.Lock()
	existing := r.identity
	r.mu.Unlock()

	if existing == "" {
		select {
		case r.registered <- id:
		default:
		}
		return
	}

	// Reconnect path: the identity must not change mid-session.
	if existing != id {
		r.logger.Error("relay reassigned identity on resume",
			zap.String("had", existing), zap.String("got", id))
		r.setStatus(StatusErrored)
		return
	}
	r.setStatus(StatusOpen)
}

func (r *Registry) route(method string, env protocol.Envelope) {
	if r.handler == nil {
		return
	}
	switch method {
	case protocol.MethodCall:
		r.handler.HandleCall(env)
	case protocol.MethodAnswer:
		r.handler.HandleAnswer(env)
	case protocol.MethodTrickle:
		r.handler.HandleTrickle(env)
	case protocol.MethodBye:
		r.handler.HandleBye(env)
	case protocol.MethodPeerError:
		r.handler.HandlePeerError(env)
	}
}

// handleDisconnect drives the disconnected -> open transition: redial
// and resume the same identity under exponential backoff. Exhausting
// the attempts marks the registry errored; it never retries silently
// forever.
func (r *Registry) handleDisconnect() {
	r.setStatus(StatusDisconnected)

	resume := r.Identity()
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), r.cfg.MaxReconnect)

	err := backoff.Retry(func() error {
		select {
		case <-r.done:
			return backoff.Permanent(ErrRelayError)
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := r.dial(ctx); err != nil {
			r.logger.Warn("reconnect dial failed", zap.Error(err))
			return err
		}
		if err := r.sendRegister(resume); err != nil {
			r.logger.Warn("reconnect register failed", zap.Error(err))
			return err
		}
		return nil
	}, policy)

	if err != nil {
		r.logger.Error("relay reconnection exhausted", zap.Error(err))
		r.setStatus(StatusErrored)
		return
	}

	// Status flips back to open when the relay confirms the resumed
	// identity (handleRegistered).
	go r.readLoop()
}

// Destroy closes the relay link and releases the identity. Terminal
// and idempotent.
func (r *Registry) Destroy() {
	r.destroyed.Do(func() {
		close(r.done)
		r.mu.Lock()
		conn := r.conn
		r.conn = nil
		r.status = StatusDestroyed
		r.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		r.logger.Info("registry destroyed")
	})
}
