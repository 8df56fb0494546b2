// Package goldenthread implements the accountability linkage between a
// governance event and the business authorization that permitted it.
// The canonical string over the authorization components, its hash, and
// the optional asymmetric signature are cross-language contract: every
// producer and verifier must reproduce the same bytes.
package goldenthread

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"time"

	jose "github.com/go-jose/go-jose/v4"

	"github.com/aigrc/pipeline/pkg/canonical"
)

// Signature algorithms accepted in the "{ALG}:{BASE64}" format.
const (
	AlgRSASHA256 = "RSA-SHA256"
	AlgECDSAP256 = "ECDSA-P256"
)

var (
	// ErrSignatureFormat reports a signature that is not "{ALG}:{BASE64}"
	// with a known algorithm tag and valid base64 payload.
	ErrSignatureFormat = errors.New("goldenthread: malformed signature")
	// ErrAlgorithmMismatch reports a key type that does not match the
	// declared algorithm.
	ErrAlgorithmMismatch = errors.New("goldenthread: algorithm mismatch")
	// ErrVerificationFailed reports a signature that does not verify
	// over the canonical string.
	ErrVerificationFailed = errors.New("goldenthread: signature verification failed")
	// ErrKeyParse reports an unparseable public key.
	ErrKeyParse = errors.New("goldenthread: cannot parse public key")
)

// Components are the authorization fields the canonical string is built
// from.
type Components struct {
	TicketID   string
	ApprovedBy string
	ApprovedAt time.Time
}

// CanonicalString renders the components as
// "approved_at=<ts>|approved_by=<v>|ticket_id=<v>", keys in sorted
// order, the timestamp normalized to whole-second UTC with a Z suffix.
func CanonicalString(c Components) string {
	return "approved_at=" + NormalizeTimestamp(c.ApprovedAt) +
		"|approved_by=" + c.ApprovedBy +
		"|ticket_id=" + c.TicketID
}

// NormalizeTimestamp strips sub-second precision and renders UTC Z.
func NormalizeTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

// Hash returns "sha256:" + hex over the canonical string.
func Hash(c Components) string {
	return canonical.HashBytes([]byte(CanonicalString(c)))
}

// ParseSignature splits "{ALG}:{BASE64}" into its algorithm tag and raw
// signature bytes.
func ParseSignature(s string) (alg string, sig []byte, err error) {
	idx := strings.Index(s, ":")
	if idx <= 0 {
		return "", nil, fmt.Errorf("%w: missing algorithm separator", ErrSignatureFormat)
	}
	alg = s[:idx]
	if alg != AlgRSASHA256 && alg != AlgECDSAP256 {
		return "", nil, fmt.Errorf("%w: unknown algorithm %q", ErrSignatureFormat, alg)
	}
	sig, err = base64.StdEncoding.DecodeString(s[idx+1:])
	if err != nil {
		return "", nil, fmt.Errorf("%w: invalid base64: %v", ErrSignatureFormat, err)
	}
	return alg, sig, nil
}

// VerifySignature checks signature over the canonical string of c with
// the given public key. Format errors, algorithm/key mismatches, and
// verification failures surface as distinct sentinel errors.
func VerifySignature(pub crypto.PublicKey, c Components, signature string) error {
	alg, sig, err := ParseSignature(signature)
	if err != nil {
		return err
	}

	digest := sha256.Sum256([]byte(CanonicalString(c)))

	switch alg {
	case AlgRSASHA256:
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an RSA key, got %T", ErrAlgorithmMismatch, alg, pub)
		}
		if err := rsa.VerifyPKCS1v15(rsaPub, crypto.SHA256, digest[:], sig); err != nil {
			return ErrVerificationFailed
		}
	case AlgECDSAP256:
		ecPub, ok := pub.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("%w: %s requires an ECDSA key, got %T", ErrAlgorithmMismatch, alg, pub)
		}
		if ecPub.Curve != elliptic.P256() {
			return fmt.Errorf("%w: %s requires curve P-256, got %s", ErrAlgorithmMismatch, alg, ecPub.Curve.Params().Name)
		}
		if !ecdsa.VerifyASN1(ecPub, digest[:], sig) {
			return ErrVerificationFailed
		}
	}
	return nil
}

// SignRSA produces an "RSA-SHA256:{BASE64}" signature over the
// canonical string.
func SignRSA(priv *rsa.PrivateKey, c Components) (string, error) {
	digest := sha256.Sum256([]byte(CanonicalString(c)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("goldenthread: rsa sign: %w", err)
	}
	return AlgRSASHA256 + ":" + base64.StdEncoding.EncodeToString(sig), nil
}

// SignECDSA produces an "ECDSA-P256:{BASE64}" signature over the
// canonical string.
func SignECDSA(priv *ecdsa.PrivateKey, c Components) (string, error) {
	if priv.Curve != elliptic.P256() {
		return "", fmt.Errorf("%w: signing requires curve P-256", ErrAlgorithmMismatch)
	}
	digest := sha256.Sum256([]byte(CanonicalString(c)))
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	if err != nil {
		return "", fmt.Errorf("goldenthread: ecdsa sign: %w", err)
	}
	return AlgECDSAP256 + ":" + base64.StdEncoding.EncodeToString(sig), nil
}

// ParsePublicKey imports a verification key from PEM (PKIX) or JWK
// encoding, detected by shape.
func ParsePublicKey(data []byte) (crypto.PublicKey, error) {
	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "-----BEGIN") {
		return ParsePublicKeyPEM(data)
	}
	if strings.HasPrefix(trimmed, "{") {
		return ParsePublicKeyJWK(data)
	}
	return nil, fmt.Errorf("%w: unrecognized encoding", ErrKeyParse)
}

// ParsePublicKeyPEM imports a PKIX public key from a PEM block.
func ParsePublicKeyPEM(data []byte) (crypto.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrKeyParse)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyParse, err)
	}
	return pub, nil
}

// ParsePublicKeyJWK imports a public key from a JSON Web Key document.
func ParsePublicKeyJWK(data []byte) (crypto.PublicKey, error) {
	var key jose.JSONWebKey
	if err := key.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyParse, err)
	}
	if !key.Valid() {
		return nil, fmt.Errorf("%w: invalid JWK", ErrKeyParse)
	}
	if !key.IsPublic() {
		return nil, fmt.Errorf("%w: expected a public key", ErrKeyParse)
	}
	return key.Key, nil
}
