package canonical

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// HashPrefix tags every canonical digest on the wire.
const HashPrefix = "sha256:"

// HashBytes returns "sha256:" + lowercase hex SHA-256 of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return HashPrefix + hex.EncodeToString(sum[:])
}

// Hash canonicalizes v and hashes the result.
func Hash(v interface{}, opts ...Option) (string, error) {
	b, err := Canonicalize(v, opts...)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// Verification is the outcome of comparing a declared hash against the
// recomputed one.
type Verification struct {
	Verified bool   `json:"verified"`
	Computed string `json:"computed"`
	Expected string `json:"expected"`
	Reason   string `json:"reason,omitempty"`
}

// Verify recomputes the canonical hash of v and compares it against the
// declared value. The comparison is constant-time in the digest bytes
// so verification latency does not leak how much of a forged prefix
// matched.
func Verify(v interface{}, declared string, opts ...Option) Verification {
	computed, err := Hash(v, opts...)
	if err != nil {
		return Verification{Expected: declared, Reason: "canonicalization failed: " + err.Error()}
	}
	res := Verification{Computed: computed, Expected: declared}

	switch {
	case declared == "":
		res.Reason = "hash missing"
	case !ValidFormat(declared):
		res.Reason = "malformed hash format"
	case !equalConstantTime(computed, declared):
		res.Reason = "hash mismatch"
	default:
		res.Verified = true
	}
	return res
}

// ValidFormat reports whether s looks like "sha256:" + 64 lowercase hex.
func ValidFormat(s string) bool {
	if !strings.HasPrefix(s, HashPrefix) {
		return false
	}
	rest := s[len(HashPrefix):]
	if len(rest) != 64 {
		return false
	}
	for _, c := range rest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func equalConstantTime(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
