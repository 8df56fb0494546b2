package events

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestEventRoundTrip(t *testing.T) {
	received := time.Date(2025, 1, 15, 10, 30, 1, 0, time.UTC)
	e := Event{
		ID:            "evt_0123456789abcdef0123456789abcdef",
		SpecVersion:   SpecVersion,
		SchemaVersion: CurrentSchemaVersion,
		Type:          TypeScanFinding,
		Category:      CategoryScan,
		Criticality:   CriticalityHigh,
		Source: Source{
			Tool:        "aigrc-scanner",
			ToolVersion: "1.8.0",
			OrgID:       "org-pangolabs",
			Identity:    &Identity{Type: "service", Subject: "scanner-prod"},
			Environment: "production",
		},
		OrgID:        "org-pangolabs",
		AssetID:      "model-churn-v3",
		ProducedAt:   time.Date(2025, 1, 15, 10, 30, 0, 123000000, time.UTC),
		ReceivedAt:   &received,
		GoldenThread: Linked("jira", "SEC-99", "https://jira.example.com/browse/SEC-99", ThreadStatusActive),
		Hash:         "sha256:abcdef0123456789abcdef0123456789abcdef0123456789abcdef0123456789",
		Data:         map[string]any{"severity": "high", "rule": "pii-leak"},
	}

	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var back Event
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	again, err := json.Marshal(back)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	if string(b) != string(again) {
		t.Fatalf("round trip changed the wire form:\n%s\n%s", b, again)
	}
	if back.Type != e.Type || back.Criticality != e.Criticality || !back.ProducedAt.Equal(e.ProducedAt) {
		t.Fatalf("round trip changed fields: %+v", back)
	}
	if !reflect.DeepEqual(back.Data, e.Data) {
		t.Fatalf("round trip changed data: %+v", back.Data)
	}
	if back.Source.Identity == nil || back.Source.Identity.Subject != "scanner-prod" {
		t.Fatalf("round trip lost identity: %+v", back.Source)
	}
}

func TestEventOmitsUnsetOptionalFields(t *testing.T) {
	e := Event{
		ID:           "evt_0123456789abcdef0123456789abcdef",
		SpecVersion:  SpecVersion,
		Type:         TypeAuditAccess,
		Category:     CategoryAudit,
		GoldenThread: Linked("jira", "A-1", "https://jira.example.com/browse/A-1", ThreadStatusActive),
		Data:         map[string]any{"who": "auditor"},
	}
	b, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"receivedAt", "previousHash", "signature", "parentEventId", "correlationId"} {
		if _, present := raw[key]; present {
			t.Errorf("unset %s must be omitted from the wire", key)
		}
	}
	gt := raw["goldenThread"].(map[string]any)
	for _, key := range []string{"reason", "declaredBy", "declaredAt", "remediationDeadline", "remediationNote", "verifiedAt"} {
		if _, present := gt[key]; present {
			t.Errorf("linked thread must not carry orphan field %s", key)
		}
	}
}

func TestEventClone(t *testing.T) {
	received := time.Date(2025, 1, 15, 10, 30, 1, 0, time.UTC)
	e := &Event{
		ID:           "evt_0123456789abcdef0123456789abcdef",
		Source:       Source{Tool: "t", OrgID: "o", Identity: &Identity{Type: "user", Subject: "u"}},
		ReceivedAt:   &received,
		GoldenThread: Orphan("legacy", "ciso@example.com", "migration pending", received, received.Add(time.Hour)),
		Data:         map[string]any{"nested": map[string]any{"k": "v"}},
	}

	c := e.Clone()
	c.Data["nested"].(map[string]any)["k"] = "changed"
	*c.ReceivedAt = received.Add(time.Minute)
	c.Source.Identity.Subject = "other"
	*c.GoldenThread.DeclaredAt = received.Add(time.Hour)

	if e.Data["nested"].(map[string]any)["k"] != "v" {
		t.Fatal("clone shares data")
	}
	if !e.ReceivedAt.Equal(received) {
		t.Fatal("clone shares receivedAt")
	}
	if e.Source.Identity.Subject != "u" {
		t.Fatal("clone shares identity")
	}
	if !e.GoldenThread.DeclaredAt.Equal(received) {
		t.Fatal("clone shares thread timestamps")
	}

	if (*Event)(nil).Clone() != nil {
		t.Fatal("nil clone must be nil")
	}
}
