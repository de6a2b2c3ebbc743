package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashClientKey maps a client identifier such as an IP address onto a fixed
// length key so raw addresses never appear in backend key names.
func HashClientKey(v string) string {
	sum := sha256.Sum256([]byte(v))
	return hex.EncodeToString(sum[:12])
}
