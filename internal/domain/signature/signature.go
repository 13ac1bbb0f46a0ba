// Package signature computes event fingerprints. Fingerprint stages add
// key/value pairs to a context's SignatureData; Hash turns the final pairs
// into the stable digest stacks are keyed by.
package signature

import (
	"crypto/sha1" //nolint:gosec // fingerprint digest, not a security boundary
	"encoding/hex"
	"sort"
	"strings"
)

// Signature keys contributed by the built-in stages.
const (
	KeyExceptionType = "ExceptionType"
	KeyTargetMethod  = "TargetMethod"
	KeyStackTrace    = "StackTrace"
	KeyMessage       = "Message"
	KeyType          = "Type"
	KeySource        = "Source"
)

// Properties set on event contexts by fingerprint stages.
const (
	// PropertyManual marks a context whose signature came from the client.
	PropertyManual = "signature.manual"
	// PropertyTitle carries the title a newly created stack gets.
	PropertyTitle = "signature.title"
)

// Hash returns a digest of data that does not depend on insertion order:
// keys are sorted, rendered as key=value lines and hashed with SHA-1.
// Empty data hashes to "".
func Hash(data map[string]string) string {
	if len(data) == 0 {
		return ""
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(data[k])
		b.WriteByte('\n')
	}
	return SHA1(b.String())
}

// SHA1 returns the lowercase hex SHA-1 of s.
func SHA1(s string) string {
	sum := sha1.Sum([]byte(s)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}
