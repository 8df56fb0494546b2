package events

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// envelopeSchemaURL anchors the embedded envelope schema for compilation.
const envelopeSchemaURL = "https://aigrc.dev/schemas/events/envelope-1.0.schema.json"

// envelopeSchemaJSON is the JSON Schema (draft 2020-12) for the event
// envelope. It owns shape: primitive types, enums, and format patterns.
// Presence of required fields is checked separately so each missing field
// carries its own stable code, which is why the schema declares no
// "required" clauses. Unknown top-level fields are tolerated; the content
// hash commits to them either way.
const envelopeSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://aigrc.dev/schemas/events/envelope-1.0.schema.json",
  "title": "AIGRC governance event envelope",
  "type": "object",
  "properties": {
    "id": { "type": "string", "pattern": "^evt_[0-9a-f]{32}$" },
    "specVersion": { "const": "1.0" },
    "schemaVersion": { "type": "string", "pattern": "^aigrc-events@[0-9]+\\.[0-9]+\\.[0-9]+$" },
    "type": { "type": "string", "pattern": "^aigrc\\.[a-z]+(\\.[a-z]+){1,3}$" },
    "category": { "enum": ["asset", "scan", "classification", "compliance", "enforcement", "lifecycle", "policy", "audit"] },
    "criticality": { "enum": ["normal", "high", "critical"] },
    "source": {
      "type": "object",
      "properties": {
        "tool": { "type": "string", "minLength": 1 },
        "toolVersion": { "type": "string" },
        "orgId": { "type": "string", "minLength": 1 },
        "instanceId": { "type": "string" },
        "identity": {
          "type": "object",
          "properties": {
            "type": { "type": "string", "minLength": 1 },
            "subject": { "type": "string", "minLength": 1 }
          }
        },
        "environment": { "type": "string" }
      }
    },
    "orgId": { "type": "string", "minLength": 1 },
    "assetId": { "type": "string", "minLength": 1 },
    "producedAt": { "type": "string", "format": "date-time" },
    "receivedAt": { "type": "string", "format": "date-time" },
    "goldenThread": {
      "type": "object",
      "properties": {
        "type": { "enum": ["linked", "orphan"] },
        "system": { "type": "string" },
        "ref": { "type": "string" },
        "url": { "type": "string" },
        "status": { "enum": ["active", "completed", "cancelled", "unknown"] },
        "verifiedAt": { "type": "string", "format": "date-time" },
        "reason": { "type": "string" },
        "declaredBy": { "type": "string" },
        "declaredAt": { "type": "string", "format": "date-time" },
        "remediationDeadline": { "type": "string", "format": "date-time" },
        "remediationNote": { "type": "string" }
      }
    },
    "hash": { "type": "string", "pattern": "^sha256:[0-9a-f]{64}$" },
    "previousHash": { "type": "string", "pattern": "^sha256:[0-9a-f]{64}$" },
    "signature": { "type": "string" },
    "parentEventId": { "type": "string", "pattern": "^evt_[0-9a-f]{32}$" },
    "correlationId": { "type": "string", "minLength": 1 },
    "data": { "type": "object", "minProperties": 1 }
  }
}`

var envelopeSchema = mustCompileEnvelopeSchema()

func mustCompileEnvelopeSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	c.AssertFormat = true
	if err := c.AddResource(envelopeSchemaURL, strings.NewReader(envelopeSchemaJSON)); err != nil {
		panic(fmt.Sprintf("events: envelope schema load failed: %v", err))
	}
	s, err := c.Compile(envelopeSchemaURL)
	if err != nil {
		panic(fmt.Sprintf("events: envelope schema compile failed: %v", err))
	}
	return s
}

// validateShape runs the embedded envelope schema over the raw event and
// records one error per leaf violation, sorted by instance location so
// the output is deterministic.
func validateShape(raw map[string]any, res *ValidationResult) {
	err := envelopeSchema.Validate(raw)
	if err == nil {
		return
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		res.addError(CodeSchemaInvalid, "", fmt.Sprintf("schema validation failed: %v", err))
		return
	}
	leaves := schemaLeaves(ve)
	sort.Slice(leaves, func(i, j int) bool {
		return leaves[i].InstanceLocation < leaves[j].InstanceLocation
	})
	for _, leaf := range leaves {
		field := pointerToField(leaf.InstanceLocation)
		res.add(&Error{
			Code:       codeForField(field),
			Message:    leaf.Message,
			Field:      field,
			SchemaPath: leaf.InstanceLocation,
		})
	}
}

// schemaLeaves flattens a jsonschema validation error into its leaf causes.
func schemaLeaves(ve *jsonschema.ValidationError) []*jsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*jsonschema.ValidationError{ve}
	}
	var out []*jsonschema.ValidationError
	for _, c := range ve.Causes {
		out = append(out, schemaLeaves(c)...)
	}
	return out
}

// pointerToField converts a JSON Pointer instance location ("/goldenThread/ref")
// to the dotted field form used in rejection errors ("goldenThread.ref").
func pointerToField(ptr string) string {
	ptr = strings.TrimPrefix(ptr, "/")
	if ptr == "" {
		return ""
	}
	parts := strings.Split(ptr, "/")
	for i, p := range parts {
		p = strings.ReplaceAll(p, "~1", "/")
		parts[i] = strings.ReplaceAll(p, "~0", "~")
	}
	return strings.Join(parts, ".")
}

// codeForField maps a schema violation location to the rejection code that
// owns that field. Anything without a dedicated code is EVT_SCHEMA_INVALID.
func codeForField(field string) Code {
	switch {
	case field == "id":
		return CodeIDInvalid
	case field == "schemaVersion":
		return CodeSchemaVersionUnknown
	case field == "type":
		return CodeTypeInvalid
	case field == "hash" || field == "previousHash":
		return CodeHashFormat
	case field == "signature":
		return CodeSignatureInvalid
	case field == "receivedAt":
		return CodeReceivedAtRejected
	case field == "data":
		return CodeDataEmpty
	case field == "goldenThread" || strings.HasPrefix(field, "goldenThread."):
		return CodeGoldenThreadInvalid
	default:
		return CodeSchemaInvalid
	}
}
