package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// NormalizeEmail trims and lower-cases an email address. Empty result means
// the input was unusable. This is the single canonical form used as the
// order-record join key; callers must not compare raw emails anywhere else.
func NormalizeEmail(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// HashEmailForLog returns a short digest of a normalized email so log lines
// can correlate a buyer without storing the address itself.
func HashEmailForLog(email string) string {
	sum := sha256.Sum256([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:6])
}
