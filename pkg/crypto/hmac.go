// Package crypto provides the envelope-level HMAC signing used by
// producers at SILVER and above conformance levels. Per-organization
// signing keys are derived from a single master secret with
// HKDF-SHA256, so the service can verify any org's signatures while the
// secret each producer holds is scoped to its own org.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// SigPrefixHMAC tags envelope signatures on the wire.
const SigPrefixHMAC = "HMAC-SHA256"

const derivedKeySize = 32

var (
	// ErrSignatureFormat reports a signature that is not
	// "HMAC-SHA256:{BASE64}".
	ErrSignatureFormat = errors.New("crypto: malformed envelope signature")
	// ErrVerificationFailed reports an HMAC that does not match.
	ErrVerificationFailed = errors.New("crypto: envelope signature verification failed")
)

// Signer signs canonical event bytes for one organization.
type Signer interface {
	Sign(canonicalBytes []byte) string
	OrgID() string
}

// Verifier checks envelope signatures for any organization.
type Verifier interface {
	Verify(orgID string, canonicalBytes []byte, signature string) error
}

// DeriveOrgKey derives the HMAC key for orgID from the master secret.
// The derivation is deterministic: producer and server arrive at the
// same key from the same secret.
func DeriveOrgKey(master []byte, orgID string) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("crypto: empty master secret")
	}
	r := hkdf.New(sha256.New, master, []byte("aigrc-event-hmac"), []byte(orgID))
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("crypto: key derivation: %w", err)
	}
	return key, nil
}

// HMACSigner is the producer-side Signer for a single org.
type HMACSigner struct {
	orgID string
	key   []byte
}

// NewHMACSigner derives the org key and returns a ready signer.
func NewHMACSigner(master []byte, orgID string) (*HMACSigner, error) {
	key, err := DeriveOrgKey(master, orgID)
	if err != nil {
		return nil, err
	}
	return &HMACSigner{orgID: orgID, key: key}, nil
}

// Sign returns "HMAC-SHA256:" + base64(HMAC-SHA256(key, canonicalBytes)).
func (s *HMACSigner) Sign(canonicalBytes []byte) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonicalBytes)
	return SigPrefixHMAC + ":" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (s *HMACSigner) OrgID() string {
	return s.orgID
}

// HMACVerifier is the server-side Verifier holding the master secret.
type HMACVerifier struct {
	master []byte
}

func NewHMACVerifier(master []byte) (*HMACVerifier, error) {
	if len(master) == 0 {
		return nil, errors.New("crypto: empty master secret")
	}
	return &HMACVerifier{master: master}, nil
}

// Verify recomputes the org's HMAC over canonicalBytes and compares it
// against signature in constant time.
func (v *HMACVerifier) Verify(orgID string, canonicalBytes []byte, signature string) error {
	declared, err := ParseSignature(signature)
	if err != nil {
		return err
	}
	key, err := DeriveOrgKey(v.master, orgID)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(canonicalBytes)
	if !hmac.Equal(mac.Sum(nil), declared) {
		return ErrVerificationFailed
	}
	return nil
}

// ParseSignature splits "HMAC-SHA256:{BASE64}" into raw MAC bytes.
func ParseSignature(s string) ([]byte, error) {
	rest, ok := strings.CutPrefix(s, SigPrefixHMAC+":")
	if !ok {
		return nil, fmt.Errorf("%w: expected %s prefix", ErrSignatureFormat, SigPrefixHMAC)
	}
	mac, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrSignatureFormat, err)
	}
	if len(mac) != sha256.Size {
		return nil, fmt.Errorf("%w: mac length %d", ErrSignatureFormat, len(mac))
	}
	return mac, nil
}

// ValidFormat reports whether s parses as an envelope signature without
// verifying it.
func ValidFormat(s string) bool {
	_, err := ParseSignature(s)
	return err == nil
}

// GenerateMasterSecret returns a hex-encoded 32-byte random secret,
// for the keygen CLI.
func GenerateMasterSecret(random io.Reader) (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(random, buf); err != nil {
		return "", fmt.Errorf("crypto: generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
