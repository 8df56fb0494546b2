package events

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Masterminds/semver/v3"

	"github.com/aigrc/pipeline/pkg/canonical"
	"github.com/aigrc/pipeline/pkg/crypto"
	"github.com/aigrc/pipeline/pkg/goldenthread"
	"github.com/aigrc/pipeline/pkg/identity"
)

// ValidationResult is the outcome of validating one event envelope.
// Errors accumulate in check order; a structurally broken event never
// reaches the semantic checks, so hash and category errors only appear
// on envelopes that are otherwise well formed.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []*Error `json:"errors,omitempty"`
	Hash   string   `json:"hash,omitempty"` // recomputed canonical hash, set once verified

	seen map[string]bool
}

// add records a rejection, dropping exact duplicates for the same code
// and field so the field-level checks and the schema pass never report
// one defect twice.
func (r *ValidationResult) add(e *Error) {
	key := string(e.Code) + "\x00" + e.Field
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	if r.seen[key] {
		return
	}
	r.seen[key] = true
	r.Errors = append(r.Errors, e)
	r.Valid = false
}

func (r *ValidationResult) addError(code Code, field, message string) {
	r.add(&Error{Code: code, Message: message, Field: field})
}

// Err returns the first rejection, or nil when the event passed.
func (r *ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

// SignatureVerifier checks an envelope signature over the canonical body.
type SignatureVerifier interface {
	Verify(orgID string, canonicalBytes []byte, signature string) error
}

// DefaultSchemaVersions is the schema version range the validator accepts.
// Minor and patch revisions within the current major are compatible by
// contract; a new major is not.
const DefaultSchemaVersions = "^1.0.0"

// Validator checks event envelopes in strict order: wire hygiene first
// (receivedAt must be absent), then structure, then the semantic checks
// that presume structure (category table, orphan note, content hash,
// signature). It accumulates one error per defect and is deterministic
// for a given input.
type Validator struct {
	versions *semver.Constraints
	verifier SignatureVerifier
}

// NewValidator returns a validator accepting DefaultSchemaVersions and
// performing no cryptographic signature verification.
func NewValidator() *Validator {
	c, err := semver.NewConstraint(DefaultSchemaVersions)
	if err != nil {
		panic("events: default schema version constraint: " + err.Error())
	}
	return &Validator{versions: c}
}

// WithSchemaVersions overrides the accepted schema version range.
func (v *Validator) WithSchemaVersions(constraint string) (*Validator, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return nil, err
	}
	v.versions = c
	return v, nil
}

// WithVerifier enables cryptographic verification of envelope signatures.
// Without a verifier only the signature format is checked.
func (v *Validator) WithVerifier(verifier SignatureVerifier) *Validator {
	v.verifier = verifier
	return v
}

// Decode parses data into a raw envelope map, preserving number literals.
// A payload that is not a JSON object is rejected with EVT_ID_INVALID:
// no event identity can exist for it.
func Decode(data []byte) (map[string]any, *Error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err != nil {
		return nil, Errf(CodeIDInvalid, "", "payload is not valid JSON: %v", err)
	}
	if dec.More() {
		return nil, Errf(CodeIDInvalid, "", "payload has trailing data after the event object")
	}
	raw, ok := parsed.(map[string]any)
	if !ok {
		return nil, Errf(CodeIDInvalid, "", "payload must be a JSON object")
	}
	return raw, nil
}

// FromMap decodes a raw envelope map into the typed Event.
func FromMap(raw map[string]any) (*Event, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var e Event
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// ValidateBytes decodes and validates a wire payload.
func (v *Validator) ValidateBytes(data []byte) *ValidationResult {
	raw, derr := Decode(data)
	if derr != nil {
		res := &ValidationResult{}
		res.add(derr)
		return res
	}
	return v.Validate(raw)
}

// Parse validates a wire payload and returns the typed event, or the
// first rejection.
func (v *Validator) Parse(data []byte) (*Event, error) {
	raw, derr := Decode(data)
	if derr != nil {
		return nil, derr
	}
	res := v.Validate(raw)
	if err := res.Err(); err != nil {
		return nil, err
	}
	e, err := FromMap(raw)
	if err != nil {
		return nil, Errf(CodeInternal, "", "decode event: %v", err)
	}
	return e, nil
}

// Validate checks a decoded envelope. The raw map must come from Decode
// (or an equivalent number-preserving parse) so the recomputed hash
// matches what the producer signed.
func (v *Validator) Validate(raw map[string]any) *ValidationResult {
	res := &ValidationResult{Valid: true}

	// Wire hygiene runs first but does not halt the remaining checks.
	if _, present := raw["receivedAt"]; present {
		res.addError(CodeReceivedAtRejected, "receivedAt", "receivedAt is assigned by the server and must be absent on the wire")
	}
	structuralFrom := len(res.Errors)

	v.validateCore(raw, res)
	v.validateSource(raw, res)
	v.validateScope(raw, res)
	v.validateThread(raw, res)
	v.validateIntegrityFields(raw, res)
	validateShape(raw, res)

	// Semantic checks presume structure.
	if len(res.Errors) > structuralFrom {
		return res
	}

	v.validateCategory(raw, res)
	v.validateOrphanNote(raw, res)
	v.validateHash(raw, res)
	v.validateSignature(raw, res)
	return res
}

// validateCore covers identity and versioning: id, specVersion,
// schemaVersion, type, category, criticality.
func (v *Validator) validateCore(raw map[string]any, res *ValidationResult) {
	if s, ok := requireString(raw, "id", CodeIDInvalid, res); ok {
		if !identity.Valid(s) {
			res.addError(CodeIDInvalid, "id", "id must be evt_ followed by 32 lowercase hex characters")
		}
	}

	if s, ok := requireString(raw, "specVersion", CodeSchemaInvalid, res); ok {
		if s != SpecVersion {
			res.addError(CodeSchemaInvalid, "specVersion", `specVersion must be "1.0"`)
		}
	}

	if s, ok := requireString(raw, "schemaVersion", CodeSchemaVersionUnknown, res); ok {
		if rest, found := strings.CutPrefix(s, SchemaVersionPrefix); !found {
			res.addError(CodeSchemaVersionUnknown, "schemaVersion", `schemaVersion must start with "aigrc-events@"`)
		} else if ver, err := semver.NewVersion(rest); err != nil {
			res.addError(CodeSchemaVersionUnknown, "schemaVersion", "schemaVersion carries an unparseable version: "+rest)
		} else if !v.versions.Check(ver) {
			res.addError(CodeSchemaVersionUnknown, "schemaVersion", "schemaVersion "+rest+" is outside the supported range "+v.versions.String())
		}
	}

	if s, ok := requireString(raw, "type", CodeTypeInvalid, res); ok {
		if !KnownType(s) {
			res.addError(CodeTypeInvalid, "type", "unknown event type "+s)
		}
	}

	if s, ok := requireString(raw, "category", CodeSchemaInvalid, res); ok {
		if !Category(s).Valid() {
			res.addError(CodeSchemaInvalid, "category", "unknown category "+s)
		}
	}

	if s, ok := requireString(raw, "criticality", CodeSchemaInvalid, res); ok {
		if !Criticality(s).Valid() {
			res.addError(CodeSchemaInvalid, "criticality", "criticality must be normal, high, or critical")
		}
	}
}

func (v *Validator) validateSource(raw map[string]any, res *ValidationResult) {
	val, present := raw["source"]
	if !present {
		res.addError(CodeSchemaInvalid, "source", "source is required")
		return
	}
	src, ok := val.(map[string]any)
	if !ok {
		res.addError(CodeSchemaInvalid, "source", "source must be an object")
		return
	}

	requireNestedString(src, "source", "tool", res)
	requireNestedString(src, "source", "orgId", res)

	if idv, present := src["identity"]; present {
		idm, ok := idv.(map[string]any)
		if !ok {
			res.addError(CodeSchemaInvalid, "source.identity", "identity must be an object")
			return
		}
		requireNestedString(idm, "source.identity", "type", res)
		requireNestedString(idm, "source.identity", "subject", res)
	}
}

// validateScope covers the addressing fields: orgId, assetId, producedAt.
func (v *Validator) validateScope(raw map[string]any, res *ValidationResult) {
	if s, ok := requireString(raw, "orgId", CodeSchemaInvalid, res); ok && s == "" {
		res.addError(CodeSchemaInvalid, "orgId", "orgId must be non-empty")
	}
	if s, ok := requireString(raw, "assetId", CodeSchemaInvalid, res); ok && s == "" {
		res.addError(CodeSchemaInvalid, "assetId", "assetId must be non-empty")
	}
	if s, ok := requireString(raw, "producedAt", CodeSchemaInvalid, res); ok {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			res.addError(CodeSchemaInvalid, "producedAt", "producedAt must be an RFC 3339 timestamp")
		}
	}
}

func (v *Validator) validateThread(raw map[string]any, res *ValidationResult) {
	val, present := raw["goldenThread"]
	if !present {
		res.addError(CodeGoldenThreadMissing, "goldenThread", "goldenThread is required: every event needs an approval trail or an orphan declaration")
		return
	}
	gt, ok := val.(map[string]any)
	if !ok {
		res.addError(CodeGoldenThreadInvalid, "goldenThread", "goldenThread must be an object")
		return
	}

	variant, _ := gt["type"].(string)
	switch variant {
	case ThreadLinked:
		for _, key := range []string{"system", "ref", "url", "status"} {
			if s, ok := gt[key].(string); !ok || s == "" {
				res.addError(CodeGoldenThreadInvalid, "goldenThread."+key, key+" is required for a linked thread")
			}
		}
		if s, ok := gt["status"].(string); ok && s != "" && !validThreadStatus(s) {
			res.addError(CodeGoldenThreadInvalid, "goldenThread.status", "status must be active, completed, cancelled, or unknown")
		}
		if s, ok := gt["verifiedAt"].(string); ok {
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				res.addError(CodeGoldenThreadInvalid, "goldenThread.verifiedAt", "verifiedAt must be an RFC 3339 timestamp")
			}
		}
	case ThreadOrphan:
		for _, key := range []string{"reason", "declaredBy", "remediationNote"} {
			if s, ok := gt[key].(string); !ok || s == "" {
				res.addError(CodeGoldenThreadInvalid, "goldenThread."+key, key+" is required for an orphan declaration")
			}
		}
		for _, key := range []string{"declaredAt", "remediationDeadline"} {
			s, ok := gt[key].(string)
			if !ok || s == "" {
				res.addError(CodeGoldenThreadInvalid, "goldenThread."+key, key+" is required for an orphan declaration")
				continue
			}
			if _, err := time.Parse(time.RFC3339, s); err != nil {
				res.addError(CodeGoldenThreadInvalid, "goldenThread."+key, key+" must be an RFC 3339 timestamp")
			}
		}
	default:
		res.addError(CodeGoldenThreadInvalid, "goldenThread.type", "thread type must be linked or orphan")
	}
}

// validateIntegrityFields covers hash, previousHash, signature format,
// and the data payload. Hash correctness is a later, semantic check.
func (v *Validator) validateIntegrityFields(raw map[string]any, res *ValidationResult) {
	val, present := raw["hash"]
	switch {
	case !present:
		res.addError(CodeHashMissing, "hash", "hash is required")
	default:
		s, ok := val.(string)
		if !ok || s == "" {
			res.addError(CodeHashMissing, "hash", "hash is required")
		} else if !canonical.ValidFormat(s) {
			res.addError(CodeHashFormat, "hash", "hash must be sha256: followed by 64 lowercase hex characters")
		}
	}

	if val, present := raw["previousHash"]; present {
		if s, ok := val.(string); !ok || !canonical.ValidFormat(s) {
			res.addError(CodeHashFormat, "previousHash", "previousHash must be sha256: followed by 64 lowercase hex characters")
		}
	}

	if val, present := raw["signature"]; present {
		if s, ok := val.(string); !ok || !validSignatureFormat(s) {
			res.addError(CodeSignatureInvalid, "signature", "signature must be ALG:BASE64 with a supported algorithm")
		}
	}

	val, present = raw["data"]
	if !present {
		res.addError(CodeDataEmpty, "data", "data is required and must carry at least one entry")
		return
	}
	data, ok := val.(map[string]any)
	if !ok {
		res.addError(CodeDataEmpty, "data", "data must be an object")
		return
	}
	if len(data) == 0 {
		res.addError(CodeDataEmpty, "data", "data must carry at least one entry")
	}
}

// validateCategory enforces the closed TYPE to CATEGORY table.
func (v *Validator) validateCategory(raw map[string]any, res *ValidationResult) {
	typ, _ := raw["type"].(string)
	cat, _ := raw["category"].(string)
	want, ok := CategoryOf(typ)
	if !ok {
		return
	}
	if Category(cat) != want {
		res.addError(CodeCategoryMismatch, "category", "type "+typ+" belongs to category "+string(want)+", not "+cat)
	}
}

func (v *Validator) validateOrphanNote(raw map[string]any, res *ValidationResult) {
	gt, ok := raw["goldenThread"].(map[string]any)
	if !ok || gt["type"] != ThreadOrphan {
		return
	}
	note, _ := gt["remediationNote"].(string)
	if utf8.RuneCountInString(note) < MinRemediationNote {
		res.addError(CodeOrphanNoteTooShort, "goldenThread.remediationNote",
			"remediation note must be at least 10 characters; describe how the approval trail will be restored")
	}
}

// validateHash recomputes the canonical content hash and compares it
// against the declared one.
func (v *Validator) validateHash(raw map[string]any, res *ValidationResult) {
	declared, _ := raw["hash"].(string)
	ver := canonical.Verify(raw, declared)
	if !ver.Verified {
		reason := ver.Reason
		if ver.Computed != "" {
			reason += " (computed " + ver.Computed + ")"
		}
		res.addError(CodeHashInvalid, "hash", "declared hash does not verify: "+reason)
		return
	}
	res.Hash = ver.Computed
}

func (v *Validator) validateSignature(raw map[string]any, res *ValidationResult) {
	if v.verifier == nil {
		return
	}
	sig, _ := raw["signature"].(string)
	if sig == "" {
		return
	}
	orgID, _ := raw["orgId"].(string)
	body, err := canonical.Canonicalize(raw)
	if err != nil {
		res.addError(CodeInternal, "signature", "canonicalize for signature verification: "+err.Error())
		return
	}
	if err := v.verifier.Verify(orgID, body, sig); err != nil {
		res.addError(CodeSignatureInvalid, "signature", "signature verification failed: "+err.Error())
	}
}

// requireString records a coded error when key is absent or not a string,
// and returns the value otherwise.
func requireString(raw map[string]any, key string, code Code, res *ValidationResult) (string, bool) {
	val, present := raw[key]
	if !present {
		res.addError(code, key, key+" is required")
		return "", false
	}
	s, ok := val.(string)
	if !ok {
		res.addError(code, key, key+" must be a string")
		return "", false
	}
	return s, true
}

func requireNestedString(obj map[string]any, parent, key string, res *ValidationResult) {
	if s, ok := obj[key].(string); !ok || s == "" {
		res.addError(CodeSchemaInvalid, parent+"."+key, parent+"."+key+" is required")
	}
}

func validThreadStatus(s string) bool {
	switch s {
	case ThreadStatusActive, ThreadStatusCompleted, ThreadStatusCancelled, ThreadStatusUnknown:
		return true
	}
	return false
}

// validSignatureFormat accepts ALG:BASE64 for the algorithms the pipeline
// understands. Cryptographic verification is separate and optional.
func validSignatureFormat(s string) bool {
	alg, rest, found := strings.Cut(s, ":")
	if !found || rest == "" {
		return false
	}
	switch alg {
	case crypto.SigPrefixHMAC, goldenthread.AlgRSASHA256, goldenthread.AlgECDSAP256:
	default:
		return false
	}
	_, err := base64.StdEncoding.DecodeString(rest)
	return err == nil
}
