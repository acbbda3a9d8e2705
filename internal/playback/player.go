// Package playback keeps a host's transport state and every viewer's
// position reconciled over the sync data channel: the host broadcasts
// commands and periodic time beacons, viewers apply commands
// unconditionally and correct drift against the beacons.
package playback

// Player is the transport surface of whatever is actually rendering
// the video. Implementations are expected to be cheap to call; none of
// the methods may block on I/O.
type Player interface {
	Play()
	Pause()
	// CurrentTime reports the playhead in seconds.
	CurrentTime() float64
	// Seek moves the playhead to the given position in seconds.
	Seek(seconds float64)
	// SetRate adjusts playback speed; 1.0 is normal.
	SetRate(rate float64)
}
