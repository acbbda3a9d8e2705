package cinema

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

type SDPValidationError struct {
	Field   string
	Message string
}

func (e *SDPValidationError) Error() string {
	return fmt.Sprintf("SDP validation error in %s: %s", e.Field, e.Message)
}

// validateSDP sanity-checks a remote description before it is applied.
// Data-only descriptions are valid: a viewer's first offer carries only
// an application section.
func validateSDP(sd *webrtc.SessionDescription) error {
	if sd == nil {
		return &SDPValidationError{Field: "SessionDescription", Message: "is nil"}
	}

	var (
		hasICE      bool
		hasDTLS     bool
		mediaCount  int
		fingerprint string
	)

	for _, line := range strings.Split(sd.SDP, "\n") {
		switch {
		case strings.HasPrefix(line, "m="):
			mediaCount++
		case strings.HasPrefix(line, "a=ice-ufrag:"):
			hasICE = true
		case strings.HasPrefix(line, "a=fingerprint:"):
			hasDTLS = true
			fingerprint = strings.TrimSpace(strings.TrimPrefix(line, "a=fingerprint:"))
		}
	}

	if mediaCount == 0 {
		return &SDPValidationError{Field: "Media", Message: "no media sections found"}
	}
	if !hasICE {
		return &SDPValidationError{Field: "ICE", Message: "no ICE credentials found"}
	}
	if !hasDTLS {
		return &SDPValidationError{Field: "DTLS", Message: "no DTLS fingerprint found"}
	}
	if len(fingerprint) == 0 {
		return &SDPValidationError{Field: "Fingerprint", Message: "empty DTLS fingerprint"}
	}
	return nil
}
