package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func SHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Normalized hashes b after converting CRLF and CR line endings to LF, so a
// script checked out with different line endings keeps the same checksum.
func Normalized(b []byte) string {
	s := strings.ReplaceAll(string(b), "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return SHA256([]byte(s))
}

// Equal compares two hex digests case-insensitively.
func Equal(a, b string) bool {
	return strings.EqualFold(a, b)
}
