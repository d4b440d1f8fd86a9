package utils

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// HashBytes returns the hex-encoded MD5 digest of data.
func HashBytes(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

func HashString(input string) string {
	return HashBytes([]byte(input))
}

// HashParts hashes the parts joined by a NUL byte, so ("ab", "c") and ("a", "bc") differ.
func HashParts(parts ...string) string {
	return HashString(strings.Join(parts, "\x00"))
}
