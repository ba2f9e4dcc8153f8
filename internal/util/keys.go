package util

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// MaxEncodedKey bounds the readable form of a signature key. Longer signatures
// fall back to a digest so keys stay within store limits.
const MaxEncodedKey = 512

// SignatureKey returns a deterministic, storage-safe cache key for a resolved
// request signature. Short signatures are kept reversible as unpadded URL-safe
// base64 ("<kind>_b_<b64>"); long ones become "<kind>_h_<sha256 hex>".
// The markers keep the two forms disjoint.
func SignatureKey(kind, signature string) string {
	enc := base64.RawURLEncoding.EncodeToString([]byte(signature))
	if len(enc) <= MaxEncodedKey {
		return kind + "_b_" + enc
	}
	sum := sha256.Sum256([]byte(signature))
	return kind + "_h_" + hex.EncodeToString(sum[:])
}
