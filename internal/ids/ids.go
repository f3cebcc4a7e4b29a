// Package ids generates correlation identifiers for sessions,
// breakpoint presets and audit rows.
package ids

import "github.com/google/uuid"

// NewSessionID identifies one DAP client connection for the lifetime of
// the TCP socket.
func NewSessionID() string {
	return "sess-" + uuid.NewString()
}

// NewPresetID identifies a saved breakpoint preset in internal/presets.
func NewPresetID() string {
	return "preset-" + uuid.NewString()
}

// NewAuditID identifies one row in the internal/audit log.
func NewAuditID() string {
	return uuid.NewString()
}
