// Package checksum computes and verifies the SHA-256 digests that
// protect chunk and whole-file integrity. Digests travel as
// lowercase hex strings.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// hexPattern matches a 64-character hex digest, either case.
var hexPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256HexReader returns the lowercase hex SHA-256 digest of
// everything read from r.
func SHA256HexReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SHA256HexFile returns the lowercase hex SHA-256 digest of the file
// at path, streaming rather than loading it into memory.
func SHA256HexFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return SHA256HexReader(f)
}

// IsValidHex reports whether s is a well-formed SHA-256 hex digest.
func IsValidHex(s string) bool {
	return hexPattern.MatchString(s)
}

// Normalize lowercases a digest so comparisons and storage are
// case-insensitive to what clients send.
func Normalize(s string) string {
	return strings.ToLower(s)
}

// Equal compares two hex digests in constant time, ignoring case.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(Normalize(a)), []byte(Normalize(b))) == 1
}
