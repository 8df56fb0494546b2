// Package events defines the governance event envelope, its closed type
// taxonomy, the strict-order ingestion validator, and the producer-side
// builder.
//
// An event is an immutable record of a governance-relevant occurrence
// (an asset registered, a scan finding, a gate failure, a kill switch).
// Envelopes are content-addressed: the hash field commits to the full
// canonical body minus hash, signature, and receivedAt, so any two
// parties can recompute and agree on it byte for byte.
package events

import "time"

// SpecVersion is the envelope contract version carried by every event.
const SpecVersion = "1.0"

// SchemaVersionPrefix namespaces the payload schema version string,
// e.g. "aigrc-events@1.0.0".
const SchemaVersionPrefix = "aigrc-events@"

// CurrentSchemaVersion is the payload schema version stamped by the builder.
const CurrentSchemaVersion = SchemaVersionPrefix + "1.0.0"

// Criticality ranks how urgently an event must reach the server.
type Criticality string

// Criticality constants.
const (
	CriticalityNormal   Criticality = "normal"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Valid reports whether c is one of the three defined levels.
func (c Criticality) Valid() bool {
	switch c {
	case CriticalityNormal, CriticalityHigh, CriticalityCritical:
		return true
	}
	return false
}

// Identity names the principal on whose behalf the producing tool acted.
type Identity struct {
	Type    string `json:"type"`    // e.g. "user", "service", "ci"
	Subject string `json:"subject"` // principal identifier within that type
}

// Source describes the producing tool instance.
type Source struct {
	Tool        string    `json:"tool"`
	ToolVersion string    `json:"toolVersion,omitempty"`
	OrgID       string    `json:"orgId"`
	InstanceID  string    `json:"instanceId,omitempty"` // required for high-frequency producers
	Identity    *Identity `json:"identity,omitempty"`
	Environment string    `json:"environment,omitempty"` // e.g. "production", "staging"
}

// Golden thread variant discriminants.
const (
	ThreadLinked = "linked"
	ThreadOrphan = "orphan"
)

// Linked thread status values.
const (
	ThreadStatusActive    = "active"
	ThreadStatusCompleted = "completed"
	ThreadStatusCancelled = "cancelled"
	ThreadStatusUnknown   = "unknown"
)

// MinRemediationNote is the minimum length, in runes, of an orphan
// thread's remediation note.
const MinRemediationNote = 10

// GoldenThread ties an event back to a human approval trail. It is a
// tagged variant: Type selects "linked" (the event traces to a ticket in
// an external system) or "orphan" (no trail exists yet and the producer
// declares why, with a remediation deadline). Exactly one variant's
// fields are populated.
type GoldenThread struct {
	Type string `json:"type"`

	// Linked variant.
	System     string     `json:"system,omitempty"` // e.g. "jira", "servicenow"
	Ref        string     `json:"ref,omitempty"`    // ticket reference, e.g. "FIN-1234"
	URL        string     `json:"url,omitempty"`
	Status     string     `json:"status,omitempty"`
	VerifiedAt *time.Time `json:"verifiedAt,omitempty"`

	// Orphan variant.
	Reason              string     `json:"reason,omitempty"`
	DeclaredBy          string     `json:"declaredBy,omitempty"`
	DeclaredAt          *time.Time `json:"declaredAt,omitempty"`
	RemediationDeadline *time.Time `json:"remediationDeadline,omitempty"`
	RemediationNote     string     `json:"remediationNote,omitempty"`
}

// Linked returns a linked golden thread.
func Linked(system, ref, url, status string) GoldenThread {
	return GoldenThread{Type: ThreadLinked, System: system, Ref: ref, URL: url, Status: status}
}

// Orphan returns an orphan golden thread declaration.
func Orphan(reason, declaredBy, note string, declaredAt, deadline time.Time) GoldenThread {
	da, dl := declaredAt.UTC(), deadline.UTC()
	return GoldenThread{
		Type:                ThreadOrphan,
		Reason:              reason,
		DeclaredBy:          declaredBy,
		DeclaredAt:          &da,
		RemediationDeadline: &dl,
		RemediationNote:     note,
	}
}

// Event is the governance event envelope as it travels on the wire.
//
// Invariants:
//   - ID is content-derived and stable for retries of the same occurrence
//   - Hash commits to the canonical body minus hash, signature, receivedAt
//   - ReceivedAt is assigned by the server only; producers never set it
//   - Data carries at least one entry
type Event struct {
	ID            string         `json:"id"`
	SpecVersion   string         `json:"specVersion"`
	SchemaVersion string         `json:"schemaVersion"`
	Type          string         `json:"type"`
	Category      Category       `json:"category"`
	Criticality   Criticality    `json:"criticality"`
	Source        Source         `json:"source"`
	OrgID         string         `json:"orgId"`
	AssetID       string         `json:"assetId"`
	ProducedAt    time.Time      `json:"producedAt"`
	ReceivedAt    *time.Time     `json:"receivedAt,omitempty"`
	GoldenThread  GoldenThread   `json:"goldenThread"`
	Hash          string         `json:"hash"`
	PreviousHash  string         `json:"previousHash,omitempty"`
	Signature     string         `json:"signature,omitempty"`
	ParentEventID string         `json:"parentEventId,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Data          map[string]any `json:"data"`
}

// Clone returns a deep copy of the event. Stored events are cloned on the
// way in and out so callers can never mutate shared state.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	out := *e
	if e.ReceivedAt != nil {
		t := *e.ReceivedAt
		out.ReceivedAt = &t
	}
	if e.Source.Identity != nil {
		id := *e.Source.Identity
		out.Source.Identity = &id
	}
	out.GoldenThread = cloneThread(e.GoldenThread)
	if e.Data != nil {
		out.Data = cloneValue(e.Data).(map[string]any)
	}
	return &out
}

func cloneThread(gt GoldenThread) GoldenThread {
	out := gt
	out.VerifiedAt = cloneTime(gt.VerifiedAt)
	out.DeclaredAt = cloneTime(gt.DeclaredAt)
	out.RemediationDeadline = cloneTime(gt.RemediationDeadline)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
