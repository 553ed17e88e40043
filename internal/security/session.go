// Package security provides id minting and input validation utilities.
package security

import (
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// SessionIDPrefix is the literal prefix carried by every session id.
const SessionIDPrefix = "sess_"

// sessionIDPattern matches the full wire format: the prefix followed by
// exactly 8 lowercase hex characters.
var sessionIDPattern = regexp.MustCompile(`^sess_[0-9a-f]{8}$`)

// NewSessionID mints a fresh session id from a random UUID. The id format is
// sess_ followed by the first 8 hex characters of the UUID.
func NewSessionID() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return SessionIDPrefix + raw[:8]
}

// ValidateSessionID checks the session id shape.
// Returns an error message if invalid, empty string if valid.
func ValidateSessionID(id string) string {
	if id == "" {
		return "session id is required"
	}
	if !sessionIDPattern.MatchString(id) {
		return "session id must match sess_ followed by 8 lowercase hex characters"
	}
	return ""
}

// IsValidSessionID reports whether id has the valid wire shape.
func IsValidSessionID(id string) bool {
	return sessionIDPattern.MatchString(id)
}
