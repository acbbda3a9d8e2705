package media

import (
	"errors"
	"strings"
)

// Capture failure taxonomy. Callers match with errors.Is and decide
// whether a degraded offer (silence fallback) keeps the call viable.
var (
	ErrPermissionDenied  = errors.New("media: capture permission denied")
	ErrDeviceUnavailable = errors.New("media: no capture device available")
	ErrNotSupported      = errors.New("media: capture not supported")
)

// classifyCaptureError maps driver errors onto the taxonomy. The
// mediadevices drivers return plain errors, so this is heuristic;
// anything unrecognized is reported as a device failure.
func classifyCaptureError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "access denied"):
		return ErrPermissionDenied
	case strings.Contains(msg, "not implemented") || strings.Contains(msg, "not supported"):
		return ErrNotSupported
	case strings.Contains(msg, "failed to find") || strings.Contains(msg, "not found") ||
		strings.Contains(msg, "no such"):
		return ErrDeviceUnavailable
	default:
		return ErrDeviceUnavailable
	}
}
