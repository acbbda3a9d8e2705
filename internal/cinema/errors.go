package cinema

import "errors"

// Negotiation failure taxonomy. All of these are recoverable at the
// caller's level (retry, re-invite); none terminate the session.
var (
	// ErrNoLocalStream: a call was originated with nothing to send. The
	// call is not attempted; the remote is parked and retried when a
	// capture starts.
	ErrNoLocalStream = errors.New("cinema: no local stream to offer")

	// ErrRemoteUnreachable: call or connect failed, or call setup
	// exceeded the configured timeout.
	ErrRemoteUnreachable = errors.New("cinema: remote peer unreachable")

	// ErrAnswerFailed: local capture failed while answering an inbound
	// call, including the silence fallback.
	ErrAnswerFailed = errors.New("cinema: failed to answer call")

	// ErrSuperseded: a newer call to the same remote invalidated this
	// connection.
	ErrSuperseded = errors.New("cinema: connection superseded by newer call")
)
