package util

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

func SHA256Hex(b []byte) string {
	x := sha256.Sum256(b)
	return hex.EncodeToString(x[:])
}

// Fingerprint hashes the JSON encoding of v. Struct field order makes the
// encoding stable for the schema and template types it is used on.
func Fingerprint(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return SHA256Hex(b)[:16]
}
