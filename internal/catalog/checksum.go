package catalog

import (
	"crypto/sha256"
	"encoding/hex"
)

// Checksum returns the content-addressed digest of a serialized catalog
// snapshot. The digest is computed over the raw snapshot bytes so client and
// authority agree without re-serializing.
func Checksum(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
