package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// GenerateKey builds "<namespace>:<digest>" where digest hashes parts and their types in order.
func GenerateKey(namespace string, parts ...interface{}) string {
	h := sha256.New()
	for _, part := range parts {
		fmt.Fprintf(h, "%T=%v;", part, part)
	}

	return namespace + ":" + hex.EncodeToString(h.Sum(nil)[:16])
}
