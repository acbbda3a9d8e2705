package validate

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mikeyg42/cinema/internal/config"
)

// -----------------------------------------------------------------------------
// Top-level full-config validation
// -----------------------------------------------------------------------------

type Validator struct{ errors []string }

func (v *Validator) AddError(format string, args ...interface{}) {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
}
func (v *Validator) HasErrors() bool  { return len(v.errors) > 0 }
func (v *Validator) Errors() []string { return v.errors }

// ValidateConfig delegates to per-section validators.
func ValidateConfig(cfg *config.Config) error {
	v := &Validator{}

	validateRelayConfig(v, cfg)
	validateSTUNConfig(v, cfg)
	validateMediaConfig(v, cfg)
	validateSyncConfig(v, cfg)
	validateGeneralConfig(v, cfg)

	if v.HasErrors() {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(v.Errors(), "\n"))
	}
	return nil
}

// -----------------------------------------------------------------------------
// Sections
// -----------------------------------------------------------------------------

func validateRelayConfig(v *Validator, cfg *config.Config) {
	if cfg.RelayAddr == "" {
		v.AddError("relay address cannot be empty")
		return
	}
	host, portStr, err := net.SplitHostPort(cfg.RelayAddr)
	if err != nil {
		v.AddError("relay address must be host:port: %v", err)
		return
	}
	if host != "" && host != "localhost" {
		if ip := net.ParseIP(host); ip == nil && !isValidHostname(host) {
			v.AddError("invalid hostname in relay address: %s", host)
		}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		v.AddError("invalid port in relay address: %s", portStr)
	}
	if cfg.RelayPath != "" && !strings.HasPrefix(cfg.RelayPath, "/") {
		v.AddError("relay path must begin with /: %s", cfg.RelayPath)
	}
}

func validateSTUNConfig(v *Validator, cfg *config.Config) {
	for _, url := range cfg.STUNServers {
		if !strings.HasPrefix(url, "stun:") {
			v.AddError("STUN server URL must use stun: scheme: %s", url)
			continue
		}
		if _, _, err := net.SplitHostPort(strings.TrimPrefix(url, "stun:")); err != nil {
			v.AddError("STUN server URL must be stun:host:port: %s", url)
		}
	}
}

func validateMediaConfig(v *Validator, cfg *config.Config) {
	mcfg := cfg.Media
	if mcfg.Width <= 0 || mcfg.Height <= 0 {
		v.AddError("invalid capture dimensions: width=%d height=%d", mcfg.Width, mcfg.Height)
	}
	if mcfg.Width > 4096 || mcfg.Height > 4096 {
		v.AddError("capture dimensions too large: %dx%d (max 4096x4096)", mcfg.Width, mcfg.Height)
	}
	if mcfg.FrameRate <= 0 || mcfg.FrameRate > 120 {
		v.AddError("invalid FrameRate: %.1f (1-120)", mcfg.FrameRate)
	} else if mcfg.FrameRate < 5 {
		v.AddError("FrameRate too low: %.1f (min 5)", mcfg.FrameRate)
	}
	if mcfg.BitRate <= 0 {
		v.AddError("invalid BitRate: %d", mcfg.BitRate)
	}
}

func validateSyncConfig(v *Validator, cfg *config.Config) {
	scfg := cfg.Sync
	if scfg.TimeInterval < 100*time.Millisecond {
		v.AddError("time sync interval too short (min 100ms)")
	}
	if scfg.SubtitleInterval < 100*time.Millisecond {
		v.AddError("subtitle interval too short (min 100ms)")
	}
	if scfg.HardSeekDrift <= scfg.NudgeDrift {
		v.AddError("hard-seek drift threshold (%.2f) must exceed nudge threshold (%.2f)",
			scfg.HardSeekDrift, scfg.NudgeDrift)
	}
	if scfg.NudgeDrift <= 0 {
		v.AddError("nudge drift threshold must be positive")
	}
	if scfg.CatchUpRate <= 1.0 {
		v.AddError("catch-up rate must exceed 1.0: %.2f", scfg.CatchUpRate)
	}
	if scfg.SlowDownRate >= 1.0 || scfg.SlowDownRate <= 0 {
		v.AddError("slow-down rate must be in (0, 1.0): %.2f", scfg.SlowDownRate)
	}
	if scfg.NudgeWindow <= 0 {
		v.AddError("nudge window must be positive")
	}
}

func validateGeneralConfig(v *Validator, cfg *config.Config) {
	if cfg.CallTimeout < time.Second {
		v.AddError("call timeout too short (min 1s)")
	} else if cfg.CallTimeout > 5*time.Minute {
		v.AddError("call timeout too long (max 5m)")
	}
	if cfg.MaxReconnect == 0 {
		v.AddError("max reconnect attempts must be positive")
	}
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}
	re := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
	labels := strings.Split(hostname, ".")
	for _, l := range labels {
		if !re.MatchString(l) {
			return false
		}
	}
	return true
}
