package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

// Normalize lowercases, trims, and collapses all runs of whitespace to a
// single space so that formatting-only variants of the same text hash
// identically.
func Normalize(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	lastSpace := true // leading whitespace is dropped
	for _, r := range strings.ToLower(content) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}

	return strings.TrimRight(b.String(), " ")
}

// Hash returns the hex SHA-256 digest of the normalized content.
// Deterministic: identical normalized text always yields an identical hash.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(Normalize(content)))
	return hex.EncodeToString(sum[:])
}
