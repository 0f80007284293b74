package provenance

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Checksum returns the lowercase hex SHA-256 of the lower-cased sequence.
// Letter case carries no meaning in nucleotide or residue strings, so "ACGT"
// and "acgt" share a digest.
func Checksum(sequence string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(sequence)))
	return hex.EncodeToString(sum[:])
}

// ValidChecksum reports whether s has the shape of a Checksum result.
func ValidChecksum(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
