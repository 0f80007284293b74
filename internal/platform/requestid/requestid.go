// Package requestid mints and screens the correlation ids carried in
// X-Request-Id and stored on verification audit rows.
package requestid

import (
	"crypto/rand"
	"encoding/hex"
)

// MaxLen bounds caller-supplied ids; the audit table stores them verbatim.
const MaxLen = 128

func New() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Valid reports whether id is safe to echo into logs and audit rows:
// non-empty, at most MaxLen bytes, and limited to [A-Za-z0-9._:-].
func Valid(id string) bool {
	if id == "" || len(id) > MaxLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '_', c == ':', c == '-':
		default:
			return false
		}
	}
	return true
}
