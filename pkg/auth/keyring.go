package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// KeyRing holds the static API keys. Keys are kept as SHA-256 digests
// so a heap dump or log line never exposes a usable credential.
type KeyRing struct {
	mu       sync.RWMutex
	byDigest map[string]*Principal
}

// NewKeyRing returns an empty ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{byDigest: make(map[string]*Principal)}
}

// Add registers an API key for an organization. The name identifies
// the key in audit logs; it must not be the key itself.
func (k *KeyRing) Add(key, orgID, name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.byDigest[digest(key)] = &Principal{ID: name, OrgID: orgID, Type: PrincipalAPIKey}
}

// Lookup resolves a presented key to its principal.
func (k *KeyRing) Lookup(key string) (*Principal, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	p, ok := k.byDigest[digest(key)]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Len reports the number of registered keys.
func (k *KeyRing) Len() int {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.byDigest)
}

func digest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}
