package config

import "time"

// Config holds all application configuration
type Config struct {
	// Signaling relay (external service; address only, protocol is fixed)
	RelayAddr string
	RelayPath string

	STUNServers []string

	Media MediaConfig
	Sync  SyncConfig

	// CallTimeout bounds how long an originated call may sit pending
	// before it is failed as unreachable.
	CallTimeout time.Duration

	// MaxReconnect caps relay reconnection attempts before the session
	// is marked errored and handed back to the caller.
	MaxReconnect uint64
}

type MediaConfig struct {
	Width     int
	Height    int
	FrameRate float32
	BitRate   int
}

// SyncConfig tunes host/viewer playback reconciliation.
type SyncConfig struct {
	TimeInterval     time.Duration
	SubtitleInterval time.Duration

	// HardSeekDrift and above snaps to the host position; between
	// NudgeDrift and HardSeekDrift the playback rate is nudged for
	// NudgeWindow, then restored.
	HardSeekDrift float64
	NudgeDrift    float64
	NudgeWindow   time.Duration
	CatchUpRate   float64
	SlowDownRate  float64
}

// NewDefaultConfig returns a Config with default values
func NewDefaultConfig() *Config {
	return &Config{
		RelayAddr: "localhost:7000",
		RelayPath: "/ws",
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		Media: MediaConfig{
			Width:     640,
			Height:    480,
			FrameRate: 25,
			BitRate:   500_000,
		},
		Sync: SyncConfig{
			TimeInterval:     2000 * time.Millisecond,
			SubtitleInterval: 500 * time.Millisecond,
			HardSeekDrift:    0.5,
			NudgeDrift:       0.05,
			NudgeWindow:      time.Second,
			CatchUpRate:      1.02,
			SlowDownRate:     0.98,
		},
		CallTimeout:  30 * time.Second,
		MaxReconnect: 5,
	}
}
