package drl

import (
	"crypto/sha256"
	"encoding/base64"
)

// HashUCVI computes the base64-encoded SHA-256 of the UTF-8 bytes of a
// cleartext UCVI, per SPEC_FULL.md §3. The store never persists cleartext;
// every membership operation runs on this hash. The algorithm is fixed by
// the upstream wire format, not a style choice — see DESIGN.md.
func HashUCVI(ucvi string) string {
	sum := sha256.Sum256([]byte(ucvi))
	return base64.StdEncoding.EncodeToString(sum[:])
}
