// Package identity derives deterministic, content-addressed event IDs.
//
// Two producer classes exist with different collision profiles.
// Standard tools (CLI, CI) floor the producer timestamp to 10 ms so
// retries of the same logical event collide onto one ID. High-frequency
// tools (runtime guards, firewalls) floor to 1 ms and add a per-instance
// monotonic sequence to keep distinct events in the same millisecond
// apart. The hash-input grammar is a cross-language contract: components
// joined by ":" with the floored millisecond value in decimal.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Prefix starts every event ID.
const Prefix = "evt_"

// StandardID returns the ID for a standard-frequency producer:
// evt_ + first32hex(SHA256(orgId:tool:type:assetId:floor10ms)).
func StandardID(orgID, tool, eventType, assetID string, producedAt time.Time) string {
	return derive(orgID, tool, eventType, assetID, strconv.FormatInt(Floor10ms(producedAt), 10))
}

// HighFrequencyID returns the ID for a high-frequency producer:
// evt_ + first32hex(SHA256(instanceId:type:assetId:floor1ms:localSeq)).
func HighFrequencyID(instanceID, eventType, assetID string, producedAt time.Time, localSeq uint64) string {
	return derive(instanceID, eventType, assetID,
		strconv.FormatInt(Floor1ms(producedAt), 10),
		strconv.FormatUint(localSeq, 10))
}

func derive(components ...string) string {
	for i, c := range components {
		// NFC keeps IDs stable across platforms that hand producers
		// decomposed Unicode (macOS file paths, some LDAP subjects).
		components[i] = norm.NFC.String(c)
	}
	sum := sha256.Sum256([]byte(strings.Join(components, ":")))
	return Prefix + hex.EncodeToString(sum[:])[:32]
}

// Floor10ms floors t to a 10 ms boundary, in Unix milliseconds.
func Floor10ms(t time.Time) int64 {
	return floorMillis(t.UnixMilli(), 10)
}

// Floor1ms floors t to a 1 ms boundary, in Unix milliseconds.
func Floor1ms(t time.Time) int64 {
	return t.UnixMilli()
}

// floorMillis is a true floor, not truncation, so pre-epoch timestamps
// still land on window boundaries.
func floorMillis(ms, window int64) int64 {
	q := ms / window
	if ms%window != 0 && ms < 0 {
		q--
	}
	return q * window
}

// Valid reports whether id has the evt_ + 32 lowercase hex shape.
func Valid(id string) bool {
	if !strings.HasPrefix(id, Prefix) {
		return false
	}
	rest := id[len(Prefix):]
	if len(rest) != 32 {
		return false
	}
	for _, c := range rest {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// Sequencer hands out the monotonic per-instance sequence used by
// high-frequency IDs. The zero value is ready to use and starts at 0.
type Sequencer struct {
	n atomic.Uint64
}

// Next returns the next sequence number.
func (s *Sequencer) Next() uint64 {
	return s.n.Add(1) - 1
}

// Current returns the number of sequence values handed out so far.
func (s *Sequencer) Current() uint64 {
	return s.n.Load()
}
