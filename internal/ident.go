package internal

import (
	"strings"

	"github.com/google/uuid"
)

const maxDeviceLen = 128

// NewTokenID mints the identifier for a single refresh-token record.
// Token IDs travel inside the refresh JWT as the jti claim, so they are
// plain UUID strings rather than raw bytes.
func NewTokenID() string {
	return uuid.NewString()
}

// NewFamilyID mints the identifier for a token family.
func NewFamilyID() string {
	return uuid.NewString()
}

// NormalizeDevice trims and caps a caller-supplied device label. Empty
// input becomes "unknown" so registry records always carry a value.
func NormalizeDevice(device string) string {
	device = strings.TrimSpace(device)
	if device == "" {
		return "unknown"
	}
	if len(device) > maxDeviceLen {
		device = device[:maxDeviceLen]
	}
	return device
}
