package coordinator

import (
	"strings"

	"github.com/google/uuid"
)

// newNonce produces a fresh 32-character per-instance nonce: a UUIDv4
// with its hyphens stripped.
func newNonce() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
